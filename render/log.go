package render

import (
	"github.com/btcsuite/btclog/v2"

	"gocuria/blockchain"
)

// log is the package-level subsystem logger, left disabled until a host
// calls UseLogger — the same pattern lnd's subsystems use for their
// own log.go files.
var log btclog.Logger = btclog.Disabled

// UseLogger installs logger as the render package's subsystem logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// LoggingRenderer is a Renderer that writes every event to a btclog
// logger, installed alongside (not instead of) a host's own renderer
// via MultiRenderer.
type LoggingRenderer struct {
	log btclog.Logger
}

var _ Renderer = (*LoggingRenderer)(nil)

func NewLoggingRenderer(logger btclog.Logger) *LoggingRenderer {
	return &LoggingRenderer{log: logger}
}

func hashOrNil(b *blockchain.Block) string {
	if b == nil {
		return "<nil>"
	}
	h, ok := b.Hash()
	if !ok {
		return "<unhashed>"
	}
	return h.String()
}

func (r *LoggingRenderer) RenderBlock(oldTip, newTip *blockchain.Block) {
	r.log.Infof("render_block old=%s new=%s", hashOrNil(oldTip), hashOrNil(newTip))
}

func (r *LoggingRenderer) RenderBlockEnd(oldTip, newTip *blockchain.Block) {
	r.log.Debugf("render_block_end old=%s new=%s", hashOrNil(oldTip), hashOrNil(newTip))
}

func (r *LoggingRenderer) RenderReorg(oldTip, newTip, branchpoint *blockchain.Block) {
	r.log.Infof("render_reorg old=%s new=%s branchpoint=%s", hashOrNil(oldTip), hashOrNil(newTip), hashOrNil(branchpoint))
}

func (r *LoggingRenderer) RenderReorgEnd(oldTip, newTip, branchpoint *blockchain.Block) {
	r.log.Debugf("render_reorg_end old=%s new=%s branchpoint=%s", hashOrNil(oldTip), hashOrNil(newTip), hashOrNil(branchpoint))
}

func (r *LoggingRenderer) RenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
	r.log.Debugf("render_action type=%s block=%s keys=%d", action.Type(), ctx.BlockHash, len(nextStates))
}

func (r *LoggingRenderer) RenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
	r.log.Warnf("render_action_error type=%s block=%s err=%v", action.Type(), ctx.BlockHash, err)
}

func (r *LoggingRenderer) UnrenderAction(action blockchain.Action, ctx blockchain.ActionContext, nextStates blockchain.StateDelta) {
	r.log.Debugf("unrender_action type=%s block=%s keys=%d", action.Type(), ctx.BlockHash, len(nextStates))
}

func (r *LoggingRenderer) UnrenderActionError(action blockchain.Action, ctx blockchain.ActionContext, err error) {
	r.log.Warnf("unrender_action_error type=%s block=%s err=%v", action.Type(), ctx.BlockHash, err)
}
