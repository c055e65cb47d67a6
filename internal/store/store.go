package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lnadvisor/internal/actions"
	"lnadvisor/internal/advisor"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists finished advice runs: one header row per run, one row per
// emitted action. It is an operational log, not a history store; the node
// remains the source of truth for statistics.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Run is one recorded advice run.
type Run struct {
	ID           int64     `json:"id"`
	At           time.Time `json:"at"`
	Pubkey       string    `json:"pubkey"`
	Alias        string    `json:"alias,omitempty"`
	ChannelCount int       `json:"channel_count"`
	ActionCount  int       `json:"action_count"`
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not configured")
	}
	_, err := s.db.Exec(ctx, `
create table if not exists advice_runs (
  id bigserial primary key,
  occurred_at timestamptz not null,
  pubkey text not null,
  alias text,
  channel_count integer not null default 0,
  action_count integer not null default 0,
  created_at timestamptz not null default now()
);
create index if not exists advice_runs_occurred_at_idx on advice_runs (occurred_at desc);

create table if not exists advice_actions (
  run_id bigint not null references advice_runs (id) on delete cascade,
  seq integer not null,
  entity text not null,
  channel_id text,
  alias text,
  variable text not null,
  actual bigint not null,
  target bigint not null,
  max bigint not null,
  priority integer not null,
  reason text not null,
  payload jsonb,
  primary key (run_id, seq)
);
`)
	return err
}

// RecordAdvice inserts the run header, then the run's actions in one batch.
func (s *Store) RecordAdvice(ctx context.Context, advice *advisor.Advice) error {
	if s.db == nil {
		return errors.New("db not configured")
	}

	var runID int64
	err := s.db.QueryRow(ctx, `
insert into advice_runs (occurred_at, pubkey, alias, channel_count, action_count)
values ($1,$2,$3,$4,$5)
returning id
`, advice.At, advice.Pubkey, advice.Alias, advice.ChannelCount, len(advice.Actions)).Scan(&runID)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, act := range advice.Actions {
		query, args := buildActionInsert(runID, i, act)
		batch.Queue(query, args...)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range advice.Actions {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func buildActionInsert(runID int64, seq int, act actions.Action) (string, []any) {
	payload, _ := json.Marshal(act)
	query := `
insert into advice_actions (run_id, seq, entity, channel_id, alias, variable, actual, target, max, priority, reason, payload)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
	args := []any{
		runID,
		seq,
		act.Entity,
		act.ID,
		act.Alias,
		act.Variable,
		act.Actual,
		act.Target,
		act.Max,
		int32(act.Priority),
		act.Reason,
		payload,
	}
	return query, args
}

// RecentRuns lists the newest runs, capped at limit.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.db == nil {
		return nil, errors.New("db not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
select id, occurred_at, pubkey, coalesce(alias, ''), channel_count, action_count
from advice_runs
order by occurred_at desc
limit $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var occurred pgtype.Timestamptz
		if err := rows.Scan(&run.ID, &occurred, &run.Pubkey, &run.Alias, &run.ChannelCount, &run.ActionCount); err != nil {
			return nil, err
		}
		if occurred.Valid {
			run.At = occurred.Time.UTC()
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunActions returns the recorded actions of one run in emission order.
func (s *Store) RunActions(ctx context.Context, runID int64) ([]actions.Action, error) {
	if s.db == nil {
		return nil, errors.New("db not configured")
	}
	rows, err := s.db.Query(ctx, `
select entity, coalesce(channel_id, ''), coalesce(alias, ''), variable, actual, target, max, priority, reason
from advice_actions
where run_id = $1
order by seq asc
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acts []actions.Action
	for rows.Next() {
		var act actions.Action
		var priority int32
		if err := rows.Scan(&act.Entity, &act.ID, &act.Alias, &act.Variable, &act.Actual, &act.Target, &act.Max, &priority, &act.Reason); err != nil {
			return nil, err
		}
		act.Priority = uint32(priority)
		acts = append(acts, act)
	}
	return acts, rows.Err()
}
