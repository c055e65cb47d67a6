package actions

import (
	"time"

	"lnadvisor/internal/stats"
)

// Engine derives balance targets and fee proposals from node statistics. It
// is pure and synchronous: construct it per snapshot, call Get once or many
// times, throw it away with the snapshot.
type Engine struct {
	cfg     Config
	ns      *stats.NodeStats
	now     time.Time
	targets map[string]int64
}

// New validates the configuration and the statistics invariants. now is the
// evaluation instant for all elapsed-time arithmetic.
func New(cfg Config, ns *stats.NodeStats, now time.Time) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := stats.Verify(ns); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		ns:      ns,
		now:     now.UTC(),
		targets: make(map[string]int64, len(ns.Channels)),
	}, nil
}

// Get emits the full ordered action stream: per-channel balance actions, the
// node-level balance sum, then per-channel fee actions. Priority-0 actions
// are filtered. Channels are visited in ascending id order.
func (e *Engine) Get() ([]Action, error) {
	ids := e.ns.ChannelIDs()
	out := make([]Action, 0, 2*len(ids)+1)

	for _, id := range ids {
		act := e.balanceAction(e.ns.Channels[id])
		e.targets[id] = act.Target
		if act.Priority > 0 {
			out = append(out, act)
		}
	}

	if node, ok := e.nodeBalanceAction(ids); ok {
		out = append(out, node)
	}

	for _, id := range ids {
		act, err := e.feeAction(e.ns.Channels[id])
		if err != nil {
			return nil, err
		}
		if act != nil && act.Priority > 0 {
			out = append(out, *act)
		}
	}
	return out, nil
}

// target returns the balance target computed for the channel. Get fills the
// map during the balance phase; fee computations for one channel may look up
// any other channel's target.
func (e *Engine) target(id string) int64 {
	return e.targets[id]
}

// channelDistance is the distance of the channel's current local balance from
// its computed target. Degenerate targets yield 0.
func (e *Engine) channelDistance(cs *stats.ChannelStats) float64 {
	t := e.target(cs.Properties.ID)
	if t <= 0 {
		return 0
	}
	return distance(cs.Properties.LocalBalanceSat, t, cs.Properties.CapacitySat)
}

// eventDistance is the distance of the channel's local balance right after
// the given change.
func (e *Engine) eventDistance(cs *stats.ChannelStats, c stats.Change) float64 {
	t := e.target(cs.Properties.ID)
	if t <= 0 {
		return 0
	}
	return distance(c.BalanceSat, t, cs.Properties.CapacitySat)
}
