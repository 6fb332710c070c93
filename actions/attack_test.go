package actions

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gocuria/blockchain"
	"gocuria/codec"
	"gocuria/codec/canonical"
)

func TestAttackAccumulatesWeaponsAndTargetsPerRecipient(t *testing.T) {
	var recipient blockchain.Address
	recipient[0] = 1
	key := blockchain.AddressStateKey(recipient)

	store := map[blockchain.StateKey]codec.Value{}
	lookup := func(k blockchain.StateKey) (codec.Value, bool, error) {
		v, ok := store[k]
		return v, ok, nil
	}

	a1 := &Attack{Recipient: recipient, Weapon: "sword", Target: "goblin"}
	delta, err := a1.Execute(blockchain.ActionContext{PreviousStates: lookup})
	require.NoError(t, err)
	store[key] = delta[key]

	a2 := &Attack{Recipient: recipient, Weapon: "staff", Target: "orc"}
	delta, err = a2.Execute(blockchain.ActionContext{PreviousStates: lookup})
	require.NoError(t, err)
	store[key] = delta[key]

	d, ok := store[key].(codec.Dict)
	require.True(t, ok)
	require.ElementsMatch(t, codec.List{"sword", "staff"}, d["used_weapons"])
	require.ElementsMatch(t, codec.List{"goblin", "orc"}, d["targets"])
}

func TestAttackPlainValueRoundTrips(t *testing.T) {
	var recipient blockchain.Address
	recipient[0] = 7
	a := &Attack{Recipient: recipient, Weapon: "bow", Target: "goblin"}

	enc := canonical.New()
	encoded, err := enc.Encode(a.PlainValue())
	require.NoError(t, err)

	decoded, err := enc.Decode(encoded)
	require.NoError(t, err)

	var got Attack
	require.NoError(t, got.LoadPlainValue(decoded))
	require.Equal(t, a.Recipient, got.Recipient)
	require.Equal(t, a.Weapon, got.Weapon)
	require.Equal(t, a.Target, got.Target)
}

func TestMinerRewardAccumulatesBalance(t *testing.T) {
	var miner blockchain.Address
	miner[0] = 3
	key := blockchain.AddressStateKey(miner)

	store := map[blockchain.StateKey]codec.Value{}
	lookup := func(k blockchain.StateKey) (codec.Value, bool, error) {
		v, ok := store[k]
		return v, ok, nil
	}

	r := &MinerReward{Amount: 50}
	delta, err := r.Execute(blockchain.ActionContext{Miner: miner, PreviousStates: lookup})
	require.NoError(t, err)
	require.Equal(t, int64(50), delta[key])
	store[key] = delta[key]

	delta, err = r.Execute(blockchain.ActionContext{Miner: miner, PreviousStates: lookup})
	require.NoError(t, err)
	require.Equal(t, int64(100), delta[key])
}
