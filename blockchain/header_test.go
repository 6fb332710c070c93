package blockchain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gocuria/codec/canonical"
)

func TestHeaderOfExtractsFieldsFromHashedBlock(t *testing.T) {
	enc := canonical.New()
	reg := NewActionRegistry()

	genesis, err := NewGenesisBlock(enc, reg, time.Unix(5, 0).UTC(), nil)
	require.NoError(t, err)

	header, ok := HeaderOf(genesis)
	require.True(t, ok)
	require.Equal(t, genesis.Index, header.Index)
	require.Equal(t, genesis.Difficulty, header.Difficulty)
	require.Nil(t, header.PreviousHash)

	hash, _ := genesis.Hash()
	require.Equal(t, hash, header.Hash)
}

func TestHeaderOfRejectsUnhashedBlock(t *testing.T) {
	b := &Block{Index: 1, Difficulty: 1}
	_, ok := HeaderOf(b)
	require.False(t, ok)
}
