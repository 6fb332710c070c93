package leveldb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gocuria/blockchain"
	"gocuria/codec/canonical"
	"gocuria/store"
	"gocuria/store/storetest"
)

func TestLevelDBStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		dir := t.TempDir()
		s, err := Open(dir, canonical.New(), blockchain.NewActionRegistry())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
