package actions

import "math"

// distance is the normalized signed offset of a balance from its target, in
// [-1, +1]. The denominator differs below vs above the target so that the
// scale stays symmetric when the target is not at half capacity. The caller
// must guard target == 0.
func distance(balance, target, capacity int64) float64 {
	if balance <= target {
		return float64(balance)/float64(target) - 1
	}
	return float64(balance-target) / float64(capacity-target)
}

// priorityFor buckets |dist| into multiples of minRebalanceDistance. base is
// 1 for per-channel actions and 4 for the node-level sum, so node actions
// sort above channel actions within the same distance band.
func priorityFor(base uint32, dist, minRebalanceDistance float64) uint32 {
	// The quotient is rounded to nine decimals before flooring so that a
	// distance on a band edge (0.7 / 0.05) is not pushed into the band below
	// by binary floating-point error.
	bands := math.Round(math.Abs(dist)/minRebalanceDistance*1e9) / 1e9
	return base * uint32(math.Floor(bands))
}
