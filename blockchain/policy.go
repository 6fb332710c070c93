package blockchain

// BlockPolicy is the external collaborator from spec section 4.6: the
// engine asks it for the expected difficulty at a position, lets it
// reject a candidate block for policy reasons the engine itself doesn't
// know about, and optionally runs one block-level action per block
// (e.g. a miner reward) before the block's own transactions evaluate.
//
// The difficulty-adjustment rule itself is explicitly left external per
// spec section 9's open question — the engine never guesses at a
// two-window/5-second retarget rule; it only calls GetNextDifficulty.
type BlockPolicy interface {
	GetNextDifficulty(chain ChainId) (int64, error)
	ValidateNextBlock(chain ChainId, block *Block) error
	BlockAction() Action // nil if the policy has no block-level action
}

// FixedDifficultyPolicy is a minimal BlockPolicy that always returns the
// same difficulty and performs no extra validation or block action —
// useful for tests and the demo command.
type FixedDifficultyPolicy struct {
	Difficulty int64
}

var _ BlockPolicy = FixedDifficultyPolicy{}

func (p FixedDifficultyPolicy) GetNextDifficulty(ChainId) (int64, error) { return p.Difficulty, nil }
func (p FixedDifficultyPolicy) ValidateNextBlock(ChainId, *Block) error  { return nil }
func (p FixedDifficultyPolicy) BlockAction() Action                     { return nil }
