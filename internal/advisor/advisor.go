package advisor

import (
	"context"
	"log"
	"sync"
	"time"

	"lnadvisor/internal/actions"
	"lnadvisor/internal/config"
	"lnadvisor/internal/lndclient"
	"lnadvisor/internal/stats"
)

// NodeSource is the slice of the node client the advisor consumes.
type NodeSource interface {
	GetNodeInfo(ctx context.Context) (lndclient.NodeInfo, error)
	ListChannels(ctx context.Context) ([]stats.ChannelProperties, error)
	FetchForwards(ctx context.Context, after, before time.Time) ([]stats.Forward, error)
	FetchPayments(ctx context.Context, after, before time.Time) ([]stats.Payment, []lndclient.FailedPayment, error)
	SubscribeChannelEvents(ctx context.Context, notify func()) error
	SubscribeForwards(ctx context.Context, notify func()) error
	SubscribePayments(ctx context.Context, notify func()) error
	DeleteFailedPayment(ctx context.Context, paymentHashHex string) error
}

// Advice is the outcome of one refresh: the ordered action stream plus the
// snapshot identity and per-channel summaries it was derived from.
type Advice struct {
	At           time.Time        `json:"at"`
	Pubkey       string           `json:"pubkey"`
	Alias        string           `json:"alias,omitempty"`
	ChannelCount int              `json:"channel_count"`
	Channels     []ChannelSummary `json:"channels"`
	Actions      []actions.Action `json:"actions"`
}

// ChannelSummary is the per-channel view served by the API.
type ChannelSummary struct {
	ID                  string `json:"id"`
	Alias               string `json:"alias,omitempty"`
	CapacitySat         int64  `json:"capacity_sat"`
	LocalBalanceSat     int64  `json:"local_balance_sat"`
	FeeRatePpm          int64  `json:"fee_rate_ppm"`
	InForwardCount      int    `json:"in_forward_count"`
	InForwardTokensSat  int64  `json:"in_forward_tokens_sat"`
	OutForwardCount     int    `json:"out_forward_count"`
	OutForwardTokensSat int64  `json:"out_forward_tokens_sat"`
}

// Recorder persists finished advice runs. The advisor treats it as optional
// and best-effort.
type Recorder interface {
	RecordAdvice(ctx context.Context, advice *Advice) error
}

// Status reports the live loop state.
type Status struct {
	Running       bool   `json:"running"`
	LastRefreshAt string `json:"last_refresh_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// Advisor owns the live loop: it rebuilds the snapshot when node events
// arrive, debounced behind a single idle/busy flag, re-runs the engine and
// publishes fresh advice.
type Advisor struct {
	cfg      *config.Config
	src      NodeSource
	recorder Recorder
	logger   *log.Logger

	mu          sync.Mutex
	started     bool
	busy        bool
	latest      *Advice
	lastRefresh time.Time
	lastError   string
	subscribers []chan *Advice

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, src NodeSource, recorder Recorder, logger *log.Logger) *Advisor {
	return &Advisor{
		cfg:      cfg,
		src:      src,
		recorder: recorder,
		logger:   logger,
	}
}

// Start runs the initial refresh and launches the subscription pumps. It is
// idempotent.
func (a *Advisor) Start() {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.refresh()
	}()

	a.pump("channels", a.src.SubscribeChannelEvents)
	a.pump("forwards", a.src.SubscribeForwards)
	a.pump("payments", a.src.SubscribePayments)
}

// Stop cancels the loop and waits for in-flight work to finish. Advice from
// an unfinished refresh is discarded with it.
func (a *Advisor) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()
}

// pump keeps one subscription alive, reconnecting after the retry delay.
func (a *Advisor) pump(name string, subscribe func(context.Context, func()) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			err := subscribe(a.ctx, a.MarkDirty)
			if a.ctx.Err() != nil {
				return
			}
			if err != nil {
				a.logger.Printf("advisor: %s subscription lost: %v", name, err)
			}
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(a.cfg.Advisor.RetryDelay()):
			}
		}
	}()
}

// MarkDirty schedules a debounced refresh. While one is pending or running,
// further events are dropped; the burst collapses into a single refresh.
func (a *Advisor) MarkDirty() {
	a.mu.Lock()
	if a.busy || !a.started {
		a.mu.Unlock()
		return
	}
	a.busy = true
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		timer := time.NewTimer(a.cfg.Advisor.RefreshDelay())
		defer timer.Stop()
		select {
		case <-a.ctx.Done():
		case <-timer.C:
			a.refresh()
		}
		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
	}()
}

func (a *Advisor) refresh() {
	advice, failed, err := BuildAdvice(a.ctx, a.src, a.cfg, time.Now().UTC())

	a.mu.Lock()
	a.lastRefresh = time.Now().UTC()
	if err != nil {
		a.lastError = err.Error()
	} else {
		a.lastError = ""
		a.latest = advice
	}
	subscribers := append([]chan *Advice(nil), a.subscribers...)
	a.mu.Unlock()

	if err != nil {
		if a.ctx.Err() == nil {
			a.logger.Printf("advisor: refresh failed: %v", err)
			// Back off, then schedule another debounced refresh.
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				select {
				case <-a.ctx.Done():
				case <-time.After(a.cfg.Advisor.RetryDelay()):
					a.MarkDirty()
				}
			}()
		}
		return
	}

	a.logger.Printf("advisor: %d actions for %d channels", len(advice.Actions), advice.ChannelCount)
	for _, sub := range subscribers {
		select {
		case sub <- advice:
		default:
		}
	}

	if a.recorder != nil {
		if err := a.recorder.RecordAdvice(a.ctx, advice); err != nil {
			a.logger.Printf("advisor: record failed: %v", err)
		}
	}
	a.housekeep(failed)
}

// housekeep deletes failed payments that fell out of the statistics window.
func (a *Advisor) housekeep(failed []lndclient.FailedPayment) {
	cutoff := time.Now().UTC().Add(-time.Duration(a.cfg.Actions.Days) * 24 * time.Hour)
	for _, p := range failed {
		if p.HashHex == "" || !p.CreatedAt.Before(cutoff) {
			continue
		}
		if err := a.src.DeleteFailedPayment(a.ctx, p.HashHex); err != nil {
			a.logger.Printf("advisor: delete failed payment %s: %v", p.HashHex, err)
		}
	}
}

// Latest returns the most recent advice, if any refresh succeeded yet.
func (a *Advisor) Latest() *Advice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

// Subscribe registers a listener for fresh advice. Slow listeners miss
// updates rather than blocking the loop.
func (a *Advisor) Subscribe() <-chan *Advice {
	ch := make(chan *Advice, 1)
	a.mu.Lock()
	a.subscribers = append(a.subscribers, ch)
	a.mu.Unlock()
	return ch
}

func (a *Advisor) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := Status{Running: a.started, LastError: a.lastError}
	if !a.lastRefresh.IsZero() {
		status.LastRefreshAt = a.lastRefresh.Format(time.RFC3339)
	}
	return status
}

// BuildAdvice fetches a fresh snapshot, projects it into statistics and runs
// the engine. Channels, forwards and payments are fetched concurrently; the
// failed payments are returned for housekeeping.
func BuildAdvice(ctx context.Context, src NodeSource, cfg *config.Config, now time.Time) (*Advice, []lndclient.FailedPayment, error) {
	info, err := src.GetNodeInfo(ctx)
	if err != nil {
		return nil, nil, err
	}

	after := now.Add(-time.Duration(cfg.Actions.Days) * 24 * time.Hour)

	var (
		wg       sync.WaitGroup
		channels []stats.ChannelProperties
		forwards []stats.Forward
		payments []stats.Payment
		failed   []lndclient.FailedPayment

		chanErr, fwdErr, payErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		channels, chanErr = src.ListChannels(ctx)
	}()
	go func() {
		defer wg.Done()
		forwards, fwdErr = src.FetchForwards(ctx, after, now)
	}()
	go func() {
		defer wg.Done()
		payments, failed, payErr = src.FetchPayments(ctx, after, now)
	}()
	wg.Wait()

	for _, err := range []error{chanErr, fwdErr, payErr} {
		if err != nil {
			return nil, nil, err
		}
	}

	snap := stats.Snapshot{
		Pubkey:   info.Pubkey,
		Alias:    info.Alias,
		At:       now,
		Channels: channels,
		Forwards: forwards,
		Payments: payments,
	}
	ns, err := stats.Build(snap, cfg.Actions.Days)
	if err != nil {
		return nil, nil, err
	}

	engine, err := actions.New(cfg.Actions, ns, now)
	if err != nil {
		return nil, nil, err
	}
	acts, err := engine.Get()
	if err != nil {
		return nil, nil, err
	}

	summaries := make([]ChannelSummary, 0, len(ns.Channels))
	for _, id := range ns.ChannelIDs() {
		cs := ns.Channels[id]
		summaries = append(summaries, ChannelSummary{
			ID:                  cs.Properties.ID,
			Alias:               cs.Properties.PartnerAlias,
			CapacitySat:         cs.Properties.CapacitySat,
			LocalBalanceSat:     cs.Properties.LocalBalanceSat,
			FeeRatePpm:          cs.Properties.FeeRatePpm,
			InForwardCount:      cs.InForwards.Count,
			InForwardTokensSat:  cs.InForwards.TotalTokensSat,
			OutForwardCount:     cs.OutForwards.Count,
			OutForwardTokensSat: cs.OutForwards.TotalTokensSat,
		})
	}

	return &Advice{
		At:           now,
		Pubkey:       info.Pubkey,
		Alias:        info.Alias,
		ChannelCount: len(channels),
		Channels:     summaries,
		Actions:      acts,
	}, failed, nil
}
