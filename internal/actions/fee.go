package actions

import (
	"fmt"
	"math"
	"sort"
	"time"

	"lnadvisor/internal/stats"
)

const (
	// minIncreaseRatePpm keeps increases meaningful when the historical
	// rate was near zero.
	minIncreaseRatePpm = 30

	// recentForwardMs is the age under which a below-bounds forward is an
	// emergency: the raw distance fraction applies without time scaling.
	recentForwardMs = 5 * 60 * 1000

	msPerDay = 86_400_000
)

// feeAction runs the decision tree for one channel and returns at most one
// fee action.
func (e *Engine) feeAction(cs *stats.ChannelStats) (*Action, error) {
	dist := e.channelDistance(cs)
	lastOut, hasOut := stats.Latest(cs.History, stats.OutForward)
	lastOutRate, hasRate := e.lastOutFeeRate(cs)

	if !hasOut || !hasRate {
		return e.noForwardsAction(cs, dist), nil
	}

	if dist <= -e.cfg.MinFeeIncreaseDistance {
		act, err := e.belowBoundsIncrease(cs, dist)
		if err != nil || act != nil {
			return act, err
		}
	} else {
		// The channel is not below bounds now. Find the instant it
		// left the below-bounds zone: the oldest event of the
		// latest-first prefix that is continuously out of the zone.
		notBelow := stats.TakeWhile(cs.History, func(c stats.Change) bool {
			return e.eventDistance(cs, c) > -e.cfg.MinFeeIncreaseDistance
		})

		if len(notBelow) > 0 {
			exitedAt := notBelow[len(notBelow)-1].Time
			if exitedAt.After(lastOut.Time) {
				// No outbound forward since the channel exited
				// the zone. Anchor the decrease on the rate an
				// increase would have proposed at the moment
				// of exit.
				belowSlice := cs.History[len(notBelow):]
				candidates := e.increaseCandidates(cs, belowSlice)
				if len(candidates) > 0 {
					reconstructed, err := e.increaseRate(cs, belowSlice, candidates, exitedAt)
					if err != nil {
						return nil, err
					}
					attempted, act := e.decreaseAction(cs, reconstructed, e.now.Sub(exitedAt), fmt.Sprintf(
						"No out forward since leaving the depleted zone at %s.",
						exitedAt.UTC().Format(time.RFC3339)))
					if attempted {
						return act, nil
					}
				}
			} else {
				attempted, act := e.decreaseAction(cs, lastOutRate, e.now.Sub(lastOut.Time), fmt.Sprintf(
					"Last out forward at %s earned %d ppm.",
					lastOut.Time.UTC().Format(time.RFC3339), lastOutRate))
				if attempted {
					return act, nil
				}
			}
		}
	}

	if dist <= -e.cfg.MinRebalanceDistance {
		return e.inflowIncreaseAction(cs, lastOutRate, dist)
	}
	return nil, nil
}

// noForwardsAction covers channels without a usable outbound fee rate: after
// the channel has been open for the whole window, pin the rate to the cap
// when depleted, otherwise drop it to zero to attract flow.
func (e *Engine) noForwardsAction(cs *stats.ChannelStats, dist float64) *Action {
	p := cs.Properties
	window := time.Duration(e.cfg.Days) * 24 * time.Hour
	if p.OpenedAt.After(e.now.Add(-window)) {
		return nil
	}
	var target int64
	var reason string
	if dist <= -e.cfg.MinFeeIncreaseDistance {
		target = e.cfg.MaxFeeRatePpm
		reason = fmt.Sprintf(
			"No usable out forwards in %d days and the balance is far below target, protecting remaining liquidity with the maximum rate.",
			e.cfg.Days)
	} else {
		target = 0
		reason = fmt.Sprintf("No usable out forwards in %d days, trying a zero rate to attract flow.", e.cfg.Days)
	}
	if target == p.FeeRatePpm {
		return nil
	}
	return &Action{
		Entity:   EntityChannel,
		ID:       p.ID,
		Alias:    p.PartnerAlias,
		Priority: 1,
		Variable: VariableFeeRate,
		Actual:   p.FeeRatePpm,
		Target:   target,
		Max:      e.cfg.MaxFeeRatePpm,
		Reason:   reason,
	}
}

// belowBoundsIncrease proposes the maximum-increase rate over the full
// below-bounds prefix, evaluated at now.
func (e *Engine) belowBoundsIncrease(cs *stats.ChannelStats, dist float64) (*Action, error) {
	p := cs.Properties
	candidates := e.increaseCandidates(cs, cs.History)
	if len(candidates) == 0 {
		// The depletion came entirely from rebalances or payments;
		// no forward to anchor an increase on.
		return nil, nil
	}
	target, err := e.increaseRate(cs, cs.History, candidates, e.now)
	if err != nil {
		return nil, err
	}
	if target <= p.FeeRatePpm {
		return nil, nil
	}
	return &Action{
		Entity:   EntityChannel,
		ID:       p.ID,
		Alias:    p.PartnerAlias,
		Priority: priorityFor(1, dist, e.cfg.MinRebalanceDistance),
		Variable: VariableFeeRate,
		Actual:   p.FeeRatePpm,
		Target:   target,
		Max:      e.cfg.MaxFeeRatePpm,
		Reason: fmt.Sprintf(
			"Balance is %.0f%% below target after %d out forwards in the depleted zone.",
			-dist*100, len(candidates)),
	}, nil
}

// increaseCandidates collects the out forwards within the latest-first prefix
// during which the channel was below bounds.
func (e *Engine) increaseCandidates(cs *stats.ChannelStats, slice []stats.Change) []stats.Change {
	return stats.FilterWhile(slice, stats.OutForward, func(c stats.Change) bool {
		return e.eventDistance(cs, c) <= -e.cfg.MinFeeIncreaseDistance
	})
}

// increaseRate computes the per-candidate corrected rate and returns the
// maximum. Each candidate forward is a distinct cause of the below-bounds
// state: recent ones get the raw distance fraction (emergency correction),
// older ones a fraction scaled by elapsed days and the increase multiplier.
// The first candidate seen wins ties.
func (e *Engine) increaseRate(cs *stats.ChannelStats, slice, candidates []stats.Change, evalTime time.Time) (int64, error) {
	if len(candidates) == 0 {
		return 0, fmt.Errorf("%w: increase rate requested without candidates", ErrComputation)
	}
	p := cs.Properties
	rawFraction := math.Abs(e.eventDistance(cs, slice[0])) - e.cfg.MinFeeIncreaseDistance

	best := int64(0)
	haveBest := false
	for _, f := range candidates {
		fRate := math.Round(float64(f.FeeMsat-p.BaseFeeMsat) / 1000 / float64(f.AmountSat) * 1_000_000)
		elapsedMs := evalTime.Sub(f.Time).Milliseconds()
		addFraction := rawFraction
		if elapsedMs >= recentForwardMs {
			elapsedDays := float64(elapsedMs) / msPerDay
			addFraction = rawFraction * (elapsedDays * e.cfg.FeeIncreaseMultiplier) / float64(e.cfg.Days)
		}
		rate := round(fRate * (1 + addFraction))
		if rate < minIncreaseRatePpm {
			rate = minIncreaseRatePpm
		}
		if rate > e.cfg.MaxFeeRatePpm {
			rate = e.cfg.MaxFeeRatePpm
		}
		if !haveBest || rate > best {
			best = rate
			haveBest = true
		}
	}
	return best, nil
}

// lastOutFeeRate derives the effective outbound rate from the most recent out
// forwards. Forwards are accumulated latest-first while the running total is
// still short of the capacity fraction, so the forward crossing the threshold
// is included and the next one is not.
func (e *Engine) lastOutFeeRate(cs *stats.ChannelStats) (int64, bool) {
	minAmount := e.cfg.MinOutFeeForwardFraction * float64(cs.Properties.CapacitySat)
	var totalSat, feeMsat int64
	var n int64
	for _, c := range cs.History {
		if c.Kind != stats.OutForward {
			continue
		}
		if float64(totalSat) >= minAmount {
			break
		}
		totalSat += c.AmountSat
		feeMsat += c.FeeMsat
		n++
	}
	if totalSat == 0 || float64(totalSat) < minAmount {
		return 0, false
	}
	rate := math.Round(float64(feeMsat-n*cs.Properties.BaseFeeMsat) / 1000 / float64(totalSat) * 1_000_000)
	return int64(rate), true
}

// decreaseAction linearly lowers the anchor rate over the remaining window
// after the wait period, floored by minFeeRate. It reports attempted=true
// whenever the wait period has passed, even if nothing is emitted, so the
// caller stops instead of also trying an inflow increase.
func (e *Engine) decreaseAction(cs *stats.ChannelStats, anchorRate int64, elapsed time.Duration, anchorReason string) (bool, *Action) {
	p := cs.Properties
	wait := float64(e.cfg.FeeDecreaseWaitDays)
	elapsedDays := float64(elapsed.Milliseconds())/msPerDay - wait
	if elapsedDays <= 0 {
		return false, nil
	}
	decreaseFraction := elapsedDays / (float64(e.cfg.Days) - wait)
	candidate := round(float64(anchorRate) * (1 - decreaseFraction))
	if candidate < 0 {
		candidate = 0
	}
	target := candidate
	floor := e.minFeeRate(cs)
	if floor > target {
		target = floor
	}
	if target >= p.FeeRatePpm {
		return true, nil
	}
	return true, &Action{
		Entity:   EntityChannel,
		ID:       p.ID,
		Alias:    p.PartnerAlias,
		Priority: 1,
		Variable: VariableFeeRate,
		Actual:   p.FeeRatePpm,
		Target:   target,
		Max:      e.cfg.MaxFeeRatePpm,
		Reason: fmt.Sprintf("%s Lowering towards %d ppm after %.1f idle days (floor %d ppm).",
			anchorReason, candidate, elapsedDays+wait, floor),
	}
}

// minFeeRate floors decreases at the recent rebalance cost (mean over the
// last three in-rebalances) or the partner's rate, whichever is higher, but
// only while the inflow share of forwarded tokens does not exceed
// MinInflowFraction. Without in-rebalances or forwards the floor is 0.
func (e *Engine) minFeeRate(cs *stats.ChannelStats) int64 {
	var sum float64
	var count int
	for _, c := range cs.History {
		if c.Kind != stats.InRebalance {
			continue
		}
		sum += math.Round(float64(c.FeeMsat) / 1000 / float64(-c.AmountSat) * 1_000_000)
		count++
		if count == 3 {
			break
		}
	}
	if count == 0 {
		return 0
	}
	rebalanceRate := round(sum / float64(count))

	inSum := cs.InForwards.TotalTokensSat
	outSum := cs.OutForwards.TotalTokensSat
	inflowFraction := float64(inSum) / float64(inSum+outSum)
	if math.IsNaN(inflowFraction) || math.IsInf(inflowFraction, 0) || inflowFraction > e.cfg.MinInflowFraction {
		return 0
	}
	floor := rebalanceRate
	if p := cs.Properties.PartnerFeeRatePpm; p != nil && *p > floor {
		floor = *p
	}
	return floor
}

// inflowIncreaseAction raises the rate of a drained channel whose outflow is
// fed by channels sitting above bounds: their excess keeps pushing liquidity
// out of this one, so the price goes up in proportion to the weighted share
// of that inflow.
func (e *Engine) inflowIncreaseAction(cs *stats.ChannelStats, lastOutRate int64, dist float64) (*Action, error) {
	p := cs.Properties
	th := e.cfg.MinFeeIncreaseDistance

	seen := make(map[string]bool)
	var inboundIDs []string
	for _, c := range cs.History {
		if c.Kind != stats.OutForward || c.PeerChannel == "" || seen[c.PeerChannel] {
			continue
		}
		seen[c.PeerChannel] = true
		inboundIDs = append(inboundIDs, c.PeerChannel)
	}
	sort.Strings(inboundIDs)

	type contribution struct {
		id        string
		alias     string
		inflowSat int64
		dist      float64
	}
	var contribs []contribution
	var earliest time.Time
	for _, id := range inboundIDs {
		x, ok := e.ns.Channels[id]
		if !ok {
			return nil, fmt.Errorf("%w: channel %s referenced by %s history", stats.ErrInvariant, id, p.ID)
		}
		xd := e.channelDistance(x)
		if xd < th {
			continue
		}
		var inflow int64
		var xEarliest time.Time
		for _, c := range x.History {
			if e.eventDistance(x, c) < th {
				break
			}
			if c.Kind != stats.InForward || c.PeerChannel != p.ID {
				continue
			}
			inflow += -c.AmountSat
			xEarliest = c.Time
		}
		if inflow == 0 {
			continue
		}
		contribs = append(contribs, contribution{id: id, alias: x.Properties.PartnerAlias, inflowSat: inflow, dist: xd})
		if earliest.IsZero() || xEarliest.Before(earliest) {
			earliest = xEarliest
		}
	}
	if len(contribs) == 0 {
		return nil, nil
	}

	var totalOutflow int64
	for _, c := range cs.History {
		if c.Kind == stats.OutForward && !c.Time.Before(earliest) {
			totalOutflow += c.AmountSat
		}
	}
	if totalOutflow == 0 {
		return nil, nil
	}

	var weighted float64
	for _, ct := range contribs {
		weighted += float64(ct.inflowSat) * ct.dist
	}
	fraction := weighted / float64(totalOutflow)
	if fraction <= th {
		return nil, nil
	}

	increaseFraction := (fraction - th) * math.Abs(dist)
	target := round(float64(lastOutRate) * (1 + increaseFraction))
	if target > e.cfg.MaxFeeRatePpm {
		target = e.cfg.MaxFeeRatePpm
	}
	if target <= p.FeeRatePpm {
		return nil, nil
	}

	reason := fmt.Sprintf("Outflow of %d sats is fed by channels above bounds:", totalOutflow)
	for _, ct := range contribs {
		name := ct.id
		if ct.alias != "" {
			name = fmt.Sprintf("%s (%s)", ct.alias, ct.id)
		}
		reason += fmt.Sprintf(" %s pushed %d sats at distance %.2f;", name, ct.inflowSat, ct.dist)
	}
	return &Action{
		Entity:   EntityChannel,
		ID:       p.ID,
		Alias:    p.PartnerAlias,
		Priority: priorityFor(1, dist, e.cfg.MinRebalanceDistance),
		Variable: VariableFeeRate,
		Actual:   p.FeeRatePpm,
		Target:   target,
		Max:      e.cfg.MaxFeeRatePpm,
		Reason:   reason,
	}, nil
}
