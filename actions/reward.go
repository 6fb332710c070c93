package actions

import (
	"fmt"

	"gocuria/blockchain"
	"gocuria/codec"
)

// MinerReward credits a fixed amount to the block's miner address each
// time it runs — the BlockPolicy.BlockAction() example from spec
// section 4.6. State is a single integer balance per recipient address,
// not a full ledger; a host wanting spendable balances would build a
// richer Transfer action on top of the same state-reference machinery.
type MinerReward struct {
	Amount int64
}

var _ blockchain.Action = (*MinerReward)(nil)

func (r *MinerReward) Type() string { return "miner_reward" }

func (r *MinerReward) Execute(ctx blockchain.ActionContext) (blockchain.StateDelta, error) {
	key := blockchain.AddressStateKey(ctx.Miner)
	prev, ok, err := ctx.PreviousStates(key)
	if err != nil {
		return nil, fmt.Errorf("actions: miner_reward read state: %w", err)
	}
	var balance int64
	if ok {
		n, isInt := prev.(int64)
		if !isInt {
			return nil, fmt.Errorf("actions: miner_reward: existing state at %s is not an int", key)
		}
		balance = n
	}
	balance += r.Amount
	return blockchain.StateDelta{key: balance}, nil
}

func (r *MinerReward) PlainValue() codec.Value {
	return codec.Dict{"amount": r.Amount}
}

func (r *MinerReward) LoadPlainValue(v codec.Value) error {
	d, ok := v.(codec.Dict)
	if !ok {
		return fmt.Errorf("actions: miner_reward: value is not a dict")
	}
	n, ok := d["amount"].(int64)
	if !ok {
		return fmt.Errorf("actions: miner_reward: bad amount")
	}
	r.Amount = n
	return nil
}
