package actions

import (
	"fmt"
	"math"

	"lnadvisor/internal/stats"
)

// TODO: suggest a capacity increase action for channels whose largest in and
// out forwards cannot both be accommodated.

// balanceAction computes the balance target for one channel, per the clamp
// order: hard floor/ceiling from the balance fraction first, then forward
// headroom, then the flow optimum.
func (e *Engine) balanceAction(cs *stats.ChannelStats) Action {
	p := cs.Properties
	capF := float64(p.CapacitySat)
	inSum := cs.InForwards.TotalTokensSat
	outSum := cs.OutForwards.TotalTokensSat
	n := cs.InForwards.Count + cs.OutForwards.Count

	var target int64
	var reason string

	switch {
	case n < e.cfg.MinChannelForwards || inSum+outSum == 0:
		target = round(0.5 * capF)
		reason = fmt.Sprintf(
			"Only %d forwards in %d days (%d needed), aiming for 50%% of capacity.",
			n, e.cfg.Days, e.cfg.MinChannelForwards)
	default:
		optimal := round(float64(outSum) / float64(inSum+outSum) * capF)
		minForwardBal := round(float64(cs.OutForwards.MaxTokensSat) * (1 + e.cfg.LargestForwardMarginFraction))
		maxForwardBal := round(capF - float64(cs.InForwards.MaxTokensSat)*(1+e.cfg.LargestForwardMarginFraction))

		if minForwardBal > maxForwardBal {
			target = round(0.5 * capF)
			reason = fmt.Sprintf(
				"The largest out forward (%d) and the largest in forward (%d) do not both fit "+
					"the capacity with margin, aiming for 50%% of capacity.",
				cs.OutForwards.MaxTokensSat, cs.InForwards.MaxTokensSat)
			break
		}

		minBal := round(e.cfg.MinChannelBalanceFraction * capF)
		maxBal := p.CapacitySat - minBal
		switch {
		case optimal < minBal:
			target = minBal
			reason = fmt.Sprintf("The flow optimum %d is below the balance floor of %d.", optimal, minBal)
		case optimal > maxBal:
			target = maxBal
			reason = fmt.Sprintf("The flow optimum %d is above the balance ceiling of %d.", optimal, maxBal)
		case optimal < minForwardBal:
			target = minForwardBal
			reason = fmt.Sprintf(
				"The flow optimum %d leaves no headroom for the largest out forward of %d.",
				optimal, cs.OutForwards.MaxTokensSat)
		case optimal > maxForwardBal:
			target = maxForwardBal
			reason = fmt.Sprintf(
				"The flow optimum %d leaves no headroom for the largest in forward of %d.",
				optimal, cs.InForwards.MaxTokensSat)
		default:
			target = optimal
			reason = fmt.Sprintf(
				"%d of %d forwarded tokens left through this channel.",
				outSum, inSum+outSum)
		}
	}

	dist := 0.0
	if target > 0 {
		dist = distance(p.LocalBalanceSat, target, p.CapacitySat)
	}
	return Action{
		Entity:   EntityChannel,
		ID:       p.ID,
		Alias:    p.PartnerAlias,
		Priority: priorityFor(1, dist, e.cfg.MinRebalanceDistance),
		Variable: VariableBalance,
		Actual:   p.LocalBalanceSat,
		Target:   target,
		Max:      p.CapacitySat,
		Reason:   reason,
	}
}

// nodeBalanceAction aggregates the per-channel targets. It is emitted with
// base priority 4 so that it sorts above channel actions of the same band.
func (e *Engine) nodeBalanceAction(ids []string) (Action, bool) {
	var actual, target, max int64
	for _, id := range ids {
		cs := e.ns.Channels[id]
		actual += cs.Properties.LocalBalanceSat
		target += e.target(id)
		max += cs.Properties.CapacitySat
	}
	if target <= 0 {
		return Action{}, false
	}
	dist := distance(actual, target, max)
	act := Action{
		Entity:   EntityNode,
		Priority: priorityFor(4, dist, e.cfg.MinRebalanceDistance),
		Variable: VariableBalance,
		Actual:   actual,
		Target:   target,
		Max:      max,
		Reason:   "Sum of target balances of all channels.",
	}
	return act, act.Priority > 0
}

func round(v float64) int64 {
	return int64(math.Round(v))
}
