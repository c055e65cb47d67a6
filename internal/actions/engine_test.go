package actions

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"lnadvisor/internal/stats"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) time.Time {
	return testNow.Add(-time.Duration(d * float64(24*time.Hour)))
}

func minutesAgo(m float64) time.Time {
	return testNow.Add(-time.Duration(m * float64(time.Minute)))
}

func nodeStats(channels ...*stats.ChannelStats) *stats.NodeStats {
	ns := &stats.NodeStats{Days: 30, Channels: map[string]*stats.ChannelStats{}}
	for _, cs := range channels {
		ns.Channels[cs.Properties.ID] = cs
	}
	return ns
}

func mustEngine(t *testing.T, cfg Config, ns *stats.NodeStats) *Engine {
	t.Helper()
	e, err := New(cfg, ns, testNow)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return e
}

// feeActionFor runs the balance phase (filling targets) and returns the fee
// action computed for the given channel.
func feeActionFor(t *testing.T, e *Engine, id string) *Action {
	t.Helper()
	if _, err := e.Get(); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	act, err := e.feeAction(e.ns.Channels[id])
	if err != nil {
		t.Fatalf("feeAction failed: %v", err)
	}
	return act
}

func TestGetOrderingAndFiltering(t *testing.T) {
	// One drained channel that yields a balance and a fee action, one
	// balanced channel that yields nothing, and the node-level sum.
	drained := &stats.ChannelStats{
		Properties: stats.ChannelProperties{
			ID:              "700000x100x0",
			CapacitySat:     1_000_000,
			LocalBalanceSat: 100_000,
			FeeRatePpm:      500,
			OpenedAt:        daysAgo(45),
		},
	}
	balanced := &stats.ChannelStats{
		Properties: stats.ChannelProperties{
			ID:              "700000x200x0",
			CapacitySat:     1_000_000,
			LocalBalanceSat: 500_000,
			FeeRatePpm:      0,
			OpenedAt:        daysAgo(1),
		},
	}
	e := mustEngine(t, DefaultConfig(), nodeStats(drained, balanced))
	got, err := e.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// channel balance action (drained), node action, fee action (drained).
	if len(got) != 3 {
		t.Fatalf("unexpected action count: got %d (%+v)", len(got), got)
	}
	if got[0].Entity != EntityChannel || got[0].Variable != VariableBalance || got[0].ID != drained.Properties.ID {
		t.Fatalf("unexpected first action: %+v", got[0])
	}
	if got[1].Entity != EntityNode || got[1].Variable != VariableBalance {
		t.Fatalf("unexpected second action: %+v", got[1])
	}
	if got[2].Entity != EntityChannel || got[2].Variable != VariableFeeRate {
		t.Fatalf("unexpected third action: %+v", got[2])
	}
	for _, act := range got {
		if act.Priority < 1 {
			t.Fatalf("emitted action with priority %d: %+v", act.Priority, act)
		}
		if act.Target < 0 || act.Target > act.Max {
			t.Fatalf("target %d outside [0, %d]: %+v", act.Target, act.Max, act)
		}
	}

	if got[1].Actual != 600_000 || got[1].Target != 1_000_000 || got[1].Max != 2_000_000 {
		t.Fatalf("unexpected node sums: %+v", got[1])
	}
	if got[1].Reason != "Sum of target balances of all channels." {
		t.Fatalf("unexpected node reason: %q", got[1].Reason)
	}
}

func TestGetIdempotent(t *testing.T) {
	cs := &stats.ChannelStats{
		Properties: stats.ChannelProperties{
			ID:              "700000x100x0",
			CapacitySat:     1_000_000,
			LocalBalanceSat: 100_000,
			FeeRatePpm:      500,
			OpenedAt:        daysAgo(45),
		},
	}
	e := mustEngine(t, DefaultConfig(), nodeStats(cs))
	first, err := e.Get()
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	second, err := e.Get()
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Get is not idempotent:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestActionJSONRoundTrip(t *testing.T) {
	partner := int64(120)
	cs := &stats.ChannelStats{
		Properties: stats.ChannelProperties{
			ID:                "700000x100x0",
			PartnerAlias:      "ACINQ",
			CapacitySat:       1_000_000,
			LocalBalanceSat:   100_000,
			FeeRatePpm:        500,
			PartnerFeeRatePpm: &partner,
			OpenedAt:          daysAgo(45),
		},
	}
	e := mustEngine(t, DefaultConfig(), nodeStats(cs))
	got, err := e.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("expected actions")
	}
	for _, act := range got {
		raw, err := json.Marshal(act)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		var back Action
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if back != act {
			t.Fatalf("round trip changed action:\nbefore %+v\nafter  %+v", act, back)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFeeIncreaseDistance = cfg.MinRebalanceDistance
	if _, err := New(cfg, nodeStats(), testNow); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestNewRejectsCorruptHistory(t *testing.T) {
	cs := &stats.ChannelStats{
		Properties: stats.ChannelProperties{
			ID:              "700000x100x0",
			CapacitySat:     1_000_000,
			LocalBalanceSat: 500_000,
			OpenedAt:        daysAgo(10),
		},
		History: []stats.Change{
			{Kind: stats.OutForward, Time: daysAgo(5), AmountSat: 1_000, BalanceSat: 500_000},
			{Kind: stats.OutForward, Time: daysAgo(1), AmountSat: 1_000, BalanceSat: 501_000},
		},
	}
	if _, err := New(DefaultConfig(), nodeStats(cs), testNow); err == nil {
		t.Fatalf("expected invariant error for out-of-order history")
	}
}
