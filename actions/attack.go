// Package actions holds the reference Action implementations used by
// the demo command and the test suite: a small game-style Attack action
// (spec section 8's worked "action state" scenario) and a miner-reward
// block action (the BlockPolicy.BlockAction() example named in spec
// section 4.6). Neither is part of the engine's contract — a host
// application is free to register its own actions against the same
// blockchain.ActionRegistry.
package actions

import (
	"fmt"
	"sort"

	"gocuria/blockchain"
	"gocuria/codec"
)

// Attack records that a signer's tx used a weapon against a target,
// accumulated per recipient address as two growing sets:
// used_weapons and targets.
type Attack struct {
	Recipient blockchain.Address
	Weapon    string
	Target    string
}

var _ blockchain.Action = (*Attack)(nil)

func (a *Attack) Type() string { return "attack" }

func (a *Attack) Execute(ctx blockchain.ActionContext) (blockchain.StateDelta, error) {
	key := blockchain.AddressStateKey(a.Recipient)
	prev, ok, err := ctx.PreviousStates(key)
	if err != nil {
		return nil, fmt.Errorf("actions: attack read state: %w", err)
	}

	weapons := map[string]bool{}
	targets := map[string]bool{}
	if ok {
		d, isDict := prev.(codec.Dict)
		if !isDict {
			return nil, fmt.Errorf("actions: attack: existing state at %s is not a dict", key)
		}
		addStrings(weapons, d["used_weapons"])
		addStrings(targets, d["targets"])
	}
	weapons[a.Weapon] = true
	targets[a.Target] = true

	return blockchain.StateDelta{
		key: codec.Dict{
			"used_weapons": sortedList(weapons),
			"targets":      sortedList(targets),
		},
	}, nil
}

func (a *Attack) PlainValue() codec.Value {
	return codec.Dict{
		"recipient": a.Recipient[:],
		"weapon":    a.Weapon,
		"target":    a.Target,
	}
}

func (a *Attack) LoadPlainValue(v codec.Value) error {
	d, ok := v.(codec.Dict)
	if !ok {
		return fmt.Errorf("actions: attack: value is not a dict")
	}
	rawRecipient, ok := d["recipient"].([]byte)
	if !ok || len(rawRecipient) != len(a.Recipient) {
		return fmt.Errorf("actions: attack: bad recipient")
	}
	copy(a.Recipient[:], rawRecipient)
	weapon, ok := d["weapon"].(string)
	if !ok {
		return fmt.Errorf("actions: attack: bad weapon")
	}
	target, ok := d["target"].(string)
	if !ok {
		return fmt.Errorf("actions: attack: bad target")
	}
	a.Weapon = weapon
	a.Target = target
	return nil
}

// Register installs Attack and MinerReward's factories into reg, keyed
// by their Type() tags.
func Register(reg *blockchain.ActionRegistry) {
	reg.Register("attack", func() blockchain.Action { return &Attack{} })
	reg.Register("miner_reward", func() blockchain.Action { return &MinerReward{} })
}

func addStrings(into map[string]bool, v codec.Value) {
	list, ok := v.(codec.List)
	if !ok {
		return
	}
	for _, item := range list {
		if s, ok := item.(string); ok {
			into[s] = true
		}
	}
}

func sortedList(set map[string]bool) codec.List {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	list := codec.List{}
	for _, s := range out {
		list = append(list, s)
	}
	return list
}
