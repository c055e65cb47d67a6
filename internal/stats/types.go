package stats

import (
	"sort"
	"time"
)

// ChannelProperties is the immutable per-channel snapshot the engine works on.
type ChannelProperties struct {
	ID                string
	PartnerAlias      string
	CapacitySat       int64
	LocalBalanceSat   int64
	FeeRatePpm        int64
	BaseFeeMsat       int64
	PartnerFeeRatePpm *int64
	OpenedAt          time.Time
}

// ForwardTotals aggregates one direction of forwarding over the window.
type ForwardTotals struct {
	Count          int
	TotalTokensSat int64
	MaxTokensSat   int64
}

func (t *ForwardTotals) add(tokensSat int64) {
	t.Count++
	t.TotalTokensSat += tokensSat
	if tokensSat > t.MaxTokensSat {
		t.MaxTokensSat = tokensSat
	}
}

// ChannelStats combines a channel's properties with its derived history and
// forwarding totals. History is ordered latest-first.
type ChannelStats struct {
	Properties  ChannelProperties
	InForwards  ForwardTotals
	OutForwards ForwardTotals
	History     []Change
}

// NodeStats is the engine input: the window length in days and the per-channel
// statistics keyed by channel id.
type NodeStats struct {
	Days     int
	Channels map[string]*ChannelStats
}

// ChannelIDs returns the channel ids in ascending order. Map iteration order
// is randomized, and action emission must be deterministic.
func (ns *NodeStats) ChannelIDs() []string {
	ids := make([]string, 0, len(ns.Channels))
	for id := range ns.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forward is one settled routing event as reported by the node.
type Forward struct {
	Time       time.Time
	TokensSat  int64
	FeeMsat    int64
	InChannel  string
	OutChannel string
}

// Payment is one settled outbound payment. OutChannel is the first-hop
// channel, InChannel the last-hop channel. Rebalance marks self-payments,
// detected by the snapshot source from the final hop terminating at our node.
type Payment struct {
	Time       time.Time
	TokensSat  int64
	FeeMsat    int64
	OutChannel string
	InChannel  string
	Rebalance  bool
}

// Snapshot is an immutable view of the node at one instant. A new snapshot is
// built on every refresh; nothing is mutated after construction.
type Snapshot struct {
	Pubkey   string
	Alias    string
	At       time.Time
	Channels []ChannelProperties
	Forwards []Forward
	Payments []Payment
}
