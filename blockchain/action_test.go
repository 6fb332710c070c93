package blockchain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"gocuria/codec"
)

type recordAction struct {
	key    StateKey
	value  codec.Value
	failOn bool
}

func (a *recordAction) Type() string { return "record" }
func (a *recordAction) Execute(ctx ActionContext) (StateDelta, error) {
	if a.failOn {
		return nil, errTestAction
	}
	return StateDelta{a.key: a.value}, nil
}
func (a *recordAction) PlainValue() codec.Value          { return nil }
func (a *recordAction) LoadPlainValue(codec.Value) error { return nil }

var errTestAction = errors.New("blockchain: test action failure")

func TestEvaluateBlockRunsBlockActionBeforeTransactions(t *testing.T) {
	var miner Address
	miner[0] = 9

	blockAction := &recordAction{key: "block", value: int64(1)}
	tx := &Transaction{Signer: Address{1}, Actions: []Action{&recordAction{key: "tx", value: int64(2)}}}
	block := &Block{Index: 1, Miner: &miner, Transactions: []*Transaction{tx}}

	noPrior := func(StateKey) (codec.Value, bool, error) { return nil, false, nil }
	delta, outcomes := EvaluateBlock(block, HashDigest{1}, noPrior, blockAction)

	require.Equal(t, int64(1), delta["block"])
	require.Equal(t, int64(2), delta["tx"])
	require.Len(t, outcomes, 2)
	require.Equal(t, -1, outcomes[0].TxIndex)
	require.Equal(t, 0, outcomes[1].TxIndex)
	require.Equal(t, miner, outcomes[0].Context.Miner)
}

func TestEvaluateBlockRecordsActionErrorsWithoutAbortingBlock(t *testing.T) {
	tx := &Transaction{
		Signer: Address{1},
		Actions: []Action{
			&recordAction{key: "ok", value: int64(1)},
			&recordAction{failOn: true},
			&recordAction{key: "after", value: int64(2)},
		},
	}
	block := &Block{Index: 1, Transactions: []*Transaction{tx}}

	noPrior := func(StateKey) (codec.Value, bool, error) { return nil, false, nil }
	delta, outcomes := EvaluateBlock(block, HashDigest{}, noPrior, nil)

	require.Len(t, outcomes, 3)
	require.Error(t, outcomes[1].Err)
	require.Equal(t, int64(1), delta["ok"])
	require.Equal(t, int64(2), delta["after"])
}

func TestTouchedAddressesExcludesFailedActionsAndBlockAction(t *testing.T) {
	outcomes := []ActionOutcome{
		{TxIndex: -1, Delta: StateDelta{"ff": int64(1)}},
		{TxIndex: 0, Delta: StateDelta{"0102030405060708090a0b0c0d0e0f1011121314": int64(1)}},
		{TxIndex: 0, Err: errTestAction, Delta: StateDelta{"bad": int64(1)}},
	}
	touched := TouchedAddresses(outcomes, 0)
	require.Equal(t, []StateKey{"0102030405060708090a0b0c0d0e0f1011121314"}, touched)
}
