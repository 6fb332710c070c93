// Command gocuria-demo wires the engine, a store, the canonical codec,
// the secp256k1 crypto backend, and a logging renderer together into a
// single process that mines itself a small chain — a non-networked
// stand-in for a real node, since peer transport is out of scope (spec
// section 4.6 exposes it only as the PeerProtocol interface).
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/btcsuite/btclog/v2"

	"gocuria/actions"
	"gocuria/blockchain"
	"gocuria/codec/canonical"
	"gocuria/crypto"
	"gocuria/engine"
	"gocuria/render"
	"gocuria/store"
	"gocuria/store/leveldb"
	"gocuria/store/memory"
)

func main() {
	dbPath := flag.String("db", "", "LevelDB directory; empty uses an in-memory store")
	difficulty := flag.Int64("difficulty", 8, "leading zero bits required of every mined block after genesis")
	blocks := flag.Int("blocks", 5, "number of demo blocks to mine before exiting")
	reward := flag.Int64("reward", 50, "miner reward credited by the block action each block")
	flag.Parse()

	baseLogger := btclog.NewSLogger(btclog.NewDefaultHandler(os.Stdout))
	logger := baseLogger.SubSystem("DEMO")
	logger.SetLevel(btclog.LevelInfo)
	render.UseLogger(baseLogger.SubSystem("RNDR"))

	enc := canonical.New()
	reg := blockchain.NewActionRegistry()
	actions.Register(reg)

	var st store.Store
	if *dbPath != "" {
		db, err := leveldb.Open(*dbPath, enc, reg)
		if err != nil {
			log.Fatalf("open leveldb store: %v", err)
		}
		defer db.Close()
		st = db
	} else {
		st = memory.New()
	}

	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		log.Fatalf("generate miner key: %v", err)
	}
	backendImpl := crypto.DefaultBackend()
	pub, err := backendImpl.PubKeyFromPrivate(priv)
	if err != nil {
		log.Fatalf("derive miner pubkey: %v", err)
	}
	minerRaw, err := backendImpl.AddressFromPubKey(pub)
	if err != nil {
		log.Fatalf("derive miner address: %v", err)
	}
	miner := blockchain.Address(minerRaw)

	policy := demoPolicy{difficulty: *difficulty, reward: *reward}

	ctx := context.Background()
	eng, err := engine.New(ctx, engine.Config{
		Store:    st,
		Encoder:  enc,
		Registry: reg,
		Policy:   policy,
		Renderer: render.NewLoggingRenderer(baseLogger.SubSystem("RNDR")),
		Backend:  backendImpl,
	})
	if err != nil {
		log.Fatalf("construct engine: %v", err)
	}

	if eng.Tip() == nil {
		genesis, err := blockchain.NewGenesisBlock(enc, reg, time.Now().UTC(), nil)
		if err != nil {
			log.Fatalf("build genesis: %v", err)
		}
		if err := eng.InitGenesis(ctx, genesis); err != nil {
			log.Fatalf("init genesis: %v", err)
		}
		logger.Infof("initialized genesis chain %s", eng.CanonicalChainId())
	}

	recipient := randomAddress()
	for i := 0; i < *blocks; i++ {
		if err := mineDemoBlock(ctx, eng, enc, reg, backendImpl, priv, miner, recipient, *difficulty, int64(i)); err != nil {
			log.Fatalf("mine demo block %d: %v", i, err)
		}
	}

	total, err := eng.TotalDifficulty(ctx, eng.CanonicalChainId())
	if err != nil {
		log.Fatalf("read total difficulty: %v", err)
	}
	logger.Infof("done: tip index %d, total difficulty %d", eng.Tip().Index, total)
}

func mineDemoBlock(ctx context.Context, eng *engine.Engine, enc *canonical.Codec, reg *blockchain.ActionRegistry, backend crypto.Backend, priv crypto.PrivateKey, miner, recipient blockchain.Address, difficulty, nonce int64) error {
	tip := eng.Tip()
	tipHash, _ := tip.Hash()

	tx := blockchain.NewUnsignedTransaction(nonce, []blockchain.Address{miner, recipient}, time.Now().UTC(), []blockchain.Action{
		&actions.Attack{Recipient: recipient, Weapon: "sword", Target: "goblin"},
	})
	if err := blockchain.SignTransaction(enc, reg, backend, priv, tx); err != nil {
		return fmt.Errorf("sign demo tx: %w", err)
	}

	block, err := blockchain.AssembleBlock(enc, reg, blockchain.BlockBuildParams{
		Index:        tip.Index + 1,
		Difficulty:   difficulty,
		PreviousHash: &tipHash,
		Timestamp:    time.Now().UTC(),
		Miner:        &miner,
		Transactions: []*blockchain.Transaction{tx},
	})
	if err != nil {
		return fmt.Errorf("assemble block: %w", err)
	}
	if err := blockchain.MineBlock(ctx, enc, block); err != nil {
		return fmt.Errorf("mine block: %w", err)
	}
	return eng.Append(ctx, block)
}

func randomAddress() blockchain.Address {
	var a blockchain.Address
	_, _ = rand.Read(a[:])
	return a
}

// demoPolicy is a minimal BlockPolicy: fixed difficulty, no extra
// validation, and a MinerReward block action — the example BlockAction
// named in spec section 4.6.
type demoPolicy struct {
	difficulty int64
	reward     int64
}

func (p demoPolicy) GetNextDifficulty(blockchain.ChainId) (int64, error) { return p.difficulty, nil }
func (p demoPolicy) ValidateNextBlock(blockchain.ChainId, *blockchain.Block) error {
	return nil
}
func (p demoPolicy) BlockAction() blockchain.Action { return &actions.MinerReward{Amount: p.reward} }
