package advisor

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lnadvisor/internal/actions"
	"lnadvisor/internal/config"
	"lnadvisor/internal/lndclient"
	"lnadvisor/internal/stats"
)

type fakeSource struct {
	channels []stats.ChannelProperties
	forwards []stats.Forward
	payments []stats.Payment
	failed   []lndclient.FailedPayment

	listErr error

	fetches int32

	mu      sync.Mutex
	deleted []string
}

func (f *fakeSource) GetNodeInfo(ctx context.Context) (lndclient.NodeInfo, error) {
	return lndclient.NodeInfo{Pubkey: "02aa", Alias: "fixture"}, nil
}

func (f *fakeSource) ListChannels(ctx context.Context) ([]stats.ChannelProperties, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	atomic.AddInt32(&f.fetches, 1)
	return f.channels, nil
}

func (f *fakeSource) FetchForwards(ctx context.Context, after, before time.Time) ([]stats.Forward, error) {
	return f.forwards, nil
}

func (f *fakeSource) FetchPayments(ctx context.Context, after, before time.Time) ([]stats.Payment, []lndclient.FailedPayment, error) {
	return f.payments, f.failed, nil
}

func (f *fakeSource) SubscribeChannelEvents(ctx context.Context, notify func()) error {
	<-ctx.Done()
	return nil
}

func (f *fakeSource) SubscribeForwards(ctx context.Context, notify func()) error {
	<-ctx.Done()
	return nil
}

func (f *fakeSource) SubscribePayments(ctx context.Context, notify func()) error {
	<-ctx.Done()
	return nil
}

func (f *fakeSource) DeleteFailedPayment(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, hash)
	return nil
}

func testLogger() *log.Logger {
	return log.New(os.Stdout, "test ", log.LstdFlags)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Advisor.RefreshDelaySec = 1
	cfg.Advisor.RetryDelaySec = 1
	return cfg
}

func TestBuildAdvicePipeline(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		channels: []stats.ChannelProperties{
			{
				ID:              "100",
				CapacitySat:     1_000_000,
				LocalBalanceSat: 100_000,
				FeeRatePpm:      500,
				OpenedAt:        now.Add(-45 * 24 * time.Hour),
			},
		},
	}
	advice, _, err := BuildAdvice(context.Background(), src, testConfig(), now)
	if err != nil {
		t.Fatalf("BuildAdvice failed: %v", err)
	}
	if advice.Pubkey != "02aa" || advice.ChannelCount != 1 {
		t.Fatalf("unexpected advice header: %+v", advice)
	}
	// Drained channel: balance action, node action, max-rate fee action.
	if len(advice.Actions) != 3 {
		t.Fatalf("action count = %d, want 3", len(advice.Actions))
	}
	if advice.Actions[2].Variable != actions.VariableFeeRate || advice.Actions[2].Target != 2500 {
		t.Fatalf("unexpected fee action: %+v", advice.Actions[2])
	}
}

func TestBuildAdvicePropagatesErrors(t *testing.T) {
	src := &fakeSource{listErr: errors.New("node down")}
	_, _, err := BuildAdvice(context.Background(), src, testConfig(), time.Now().UTC())
	if err == nil {
		t.Fatalf("expected the fetch error to propagate")
	}
}

func TestMarkDirtyCollapsesBursts(t *testing.T) {
	src := &fakeSource{
		channels: []stats.ChannelProperties{
			{ID: "100", CapacitySat: 1_000_000, LocalBalanceSat: 500_000, OpenedAt: time.Now().UTC()},
		},
	}
	a := New(testConfig(), src, nil, testLogger())
	a.Start()
	defer a.Stop()

	// Wait out the initial refresh.
	time.Sleep(300 * time.Millisecond)
	initial := atomic.LoadInt32(&src.fetches)
	if initial != 1 {
		t.Fatalf("initial fetches = %d, want 1", initial)
	}

	for i := 0; i < 5; i++ {
		a.MarkDirty()
	}
	time.Sleep(1500 * time.Millisecond)

	if got := atomic.LoadInt32(&src.fetches); got != initial+1 {
		t.Fatalf("fetches after burst = %d, want %d (burst collapsed into one refresh)", got, initial+1)
	}
	if a.Latest() == nil {
		t.Fatalf("expected latest advice after refresh")
	}
}

func TestHousekeepingDeletesOnlyStaleFailedPayments(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{
		channels: []stats.ChannelProperties{
			{ID: "100", CapacitySat: 1_000_000, LocalBalanceSat: 500_000, OpenedAt: now},
		},
		failed: []lndclient.FailedPayment{
			{HashHex: "aa01", CreatedAt: now.Add(-40 * 24 * time.Hour)},
			{HashHex: "aa02", CreatedAt: now.Add(-24 * time.Hour)},
		},
	}
	a := New(testConfig(), src, nil, testLogger())
	a.Start()
	defer a.Stop()
	time.Sleep(300 * time.Millisecond)

	src.mu.Lock()
	deleted := append([]string(nil), src.deleted...)
	src.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "aa01" {
		t.Fatalf("deleted = %v, want only the stale hash", deleted)
	}
}

func TestSubscribeReceivesFreshAdvice(t *testing.T) {
	src := &fakeSource{
		channels: []stats.ChannelProperties{
			{ID: "100", CapacitySat: 1_000_000, LocalBalanceSat: 100_000, OpenedAt: time.Now().UTC().Add(-45 * 24 * time.Hour)},
		},
	}
	a := New(testConfig(), src, nil, testLogger())
	sub := a.Subscribe()
	a.Start()
	defer a.Stop()

	select {
	case advice := <-sub:
		if advice == nil || len(advice.Actions) == 0 {
			t.Fatalf("unexpected advice: %+v", advice)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no advice published")
	}
}
