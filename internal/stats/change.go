package stats

import "time"

// ChangeKind discriminates the events that move a channel's local balance.
type ChangeKind uint8

const (
	InForward ChangeKind = iota
	OutForward
	InRebalance
	OutRebalance
	OutPayment
)

func (k ChangeKind) String() string {
	switch k {
	case InForward:
		return "in_forward"
	case OutForward:
		return "out_forward"
	case InRebalance:
		return "in_rebalance"
	case OutRebalance:
		return "out_rebalance"
	case OutPayment:
		return "out_payment"
	default:
		return "unknown"
	}
}

// Change is one event on a channel timeline. AmountSat is signed relative to
// the local balance: credits (InForward, InRebalance) are negative, debits
// (OutForward, OutRebalance, OutPayment) positive, so that the balance before
// the event equals BalanceSat + AmountSat. BalanceSat is the local balance
// immediately after the event. PeerChannel carries the counterpart channel of
// a forward: the outgoing channel for InForward, the incoming one for
// OutForward, empty otherwise.
type Change struct {
	Kind        ChangeKind
	Time        time.Time
	AmountSat   int64
	FeeMsat     int64
	BalanceSat  int64
	PeerChannel string
}

// TakeWhile returns the longest latest-first prefix of history for which pred
// holds. The returned slice aliases history.
func TakeWhile(history []Change, pred func(Change) bool) []Change {
	for i, c := range history {
		if !pred(c) {
			return history[:i]
		}
	}
	return history
}

// FilterWhile collects the changes of the given kind within the longest
// prefix for which cont holds. The walk stops at the first change failing
// cont, mirroring TakeWhile, but only changes of the requested kind are
// returned.
func FilterWhile(history []Change, kind ChangeKind, cont func(Change) bool) []Change {
	var out []Change
	for _, c := range history {
		if !cont(c) {
			break
		}
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Latest returns the most recent change of the given kind, or false.
func Latest(history []Change, kind ChangeKind) (Change, bool) {
	for _, c := range history {
		if c.Kind == kind {
			return c, true
		}
	}
	return Change{}, false
}
