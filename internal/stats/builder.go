package stats

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvariant marks snapshot data that violates the timeline invariants.
// Callers discard the snapshot and retry; the builder never guesses.
var ErrInvariant = errors.New("snapshot invariant violated")

// Build projects a snapshot into per-channel statistics over the trailing
// window of the given number of days. Events outside the window are pruned.
// The running balance of each timeline is reconstructed from the channel's
// current local balance, walking latest-first.
func Build(snap Snapshot, days int) (*NodeStats, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: window of %d days", ErrInvariant, days)
	}
	cutoff := snap.At.Add(-time.Duration(days) * 24 * time.Hour)

	ns := &NodeStats{Days: days, Channels: make(map[string]*ChannelStats, len(snap.Channels))}
	for _, props := range snap.Channels {
		if props.CapacitySat <= 0 {
			return nil, fmt.Errorf("%w: channel %s capacity %d", ErrInvariant, props.ID, props.CapacitySat)
		}
		if props.LocalBalanceSat < 0 || props.LocalBalanceSat > props.CapacitySat {
			return nil, fmt.Errorf("%w: channel %s balance %d outside [0, %d]",
				ErrInvariant, props.ID, props.LocalBalanceSat, props.CapacitySat)
		}
		if _, ok := ns.Channels[props.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate channel %s", ErrInvariant, props.ID)
		}
		ns.Channels[props.ID] = &ChannelStats{Properties: props}
	}

	events := make(map[string][]Change, len(ns.Channels))
	stage := func(id string, c Change) {
		if _, ok := ns.Channels[id]; !ok || c.Time.Before(cutoff) {
			return
		}
		events[id] = append(events[id], c)
	}

	for _, fwd := range snap.Forwards {
		stage(fwd.InChannel, Change{
			Kind:        InForward,
			Time:        fwd.Time,
			AmountSat:   -fwd.TokensSat,
			FeeMsat:     fwd.FeeMsat,
			PeerChannel: fwd.OutChannel,
		})
		stage(fwd.OutChannel, Change{
			Kind:        OutForward,
			Time:        fwd.Time,
			AmountSat:   fwd.TokensSat,
			FeeMsat:     fwd.FeeMsat,
			PeerChannel: fwd.InChannel,
		})
	}

	for _, pay := range snap.Payments {
		debit := pay.TokensSat + pay.FeeMsat/1000
		if pay.Rebalance {
			stage(pay.OutChannel, Change{
				Kind:      OutRebalance,
				Time:      pay.Time,
				AmountSat: debit,
				FeeMsat:   pay.FeeMsat,
			})
			stage(pay.InChannel, Change{
				Kind:      InRebalance,
				Time:      pay.Time,
				AmountSat: -pay.TokensSat,
				FeeMsat:   pay.FeeMsat,
			})
			continue
		}
		stage(pay.OutChannel, Change{
			Kind:      OutPayment,
			Time:      pay.Time,
			AmountSat: debit,
			FeeMsat:   pay.FeeMsat,
		})
	}

	for id, list := range events {
		cs := ns.Channels[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Time.After(list[j].Time) })

		balance := cs.Properties.LocalBalanceSat
		for i := range list {
			list[i].BalanceSat = balance
			balance += list[i].AmountSat
			if balance < 0 || balance > cs.Properties.CapacitySat {
				return nil, fmt.Errorf("%w: channel %s balance %d outside [0, %d] at %s",
					ErrInvariant, id, balance, cs.Properties.CapacitySat, list[i].Time.UTC().Format(time.RFC3339))
			}
			switch list[i].Kind {
			case InForward:
				cs.InForwards.add(-list[i].AmountSat)
			case OutForward:
				cs.OutForwards.add(list[i].AmountSat)
			}
		}
		cs.History = list
	}

	return ns, nil
}

// Verify re-checks the timeline invariants on already-built statistics:
// latest-first ordering and balances within capacity. The engine runs this
// before acting so that a logic error upstream fails fatally instead of
// producing advice from corrupt history.
func Verify(ns *NodeStats) error {
	for id, cs := range ns.Channels {
		capacity := cs.Properties.CapacitySat
		if capacity <= 0 {
			return fmt.Errorf("%w: channel %s capacity %d", ErrInvariant, id, capacity)
		}
		prev := time.Time{}
		for i, c := range cs.History {
			if i > 0 && c.Time.After(prev) {
				return fmt.Errorf("%w: channel %s history not latest-first at index %d", ErrInvariant, id, i)
			}
			prev = c.Time
			if c.BalanceSat < 0 || c.BalanceSat > capacity {
				return fmt.Errorf("%w: channel %s event balance %d outside [0, %d]",
					ErrInvariant, id, c.BalanceSat, capacity)
			}
		}
	}
	return nil
}
