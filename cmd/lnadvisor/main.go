package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"lnadvisor/internal/advisor"
	"lnadvisor/internal/config"
	"lnadvisor/internal/lndclient"
	"lnadvisor/internal/server"
	"lnadvisor/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "advise" {
		runAdvise(os.Args[2:])
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		runServe(os.Args[2:])
		return
	}

	runServe(os.Args[1:])
}

func runServe(args []string) {
	fs := flag.NewFlagSet("lnadvisor", flag.ExitOnError)
	configPath := fs.String("config", "/etc/lnadvisor/config.yaml", "Path to config.yaml")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	lnd := lndclient.New(cfg, logger)

	var st *store.Store
	if cfg.Postgres.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			cancel()
			logger.Fatalf("postgres connect failed: %v", err)
		}
		st = store.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			cancel()
			logger.Fatalf("postgres schema failed: %v", err)
		}
		cancel()
		defer pool.Close()
	} else {
		logger.Printf("advice history disabled: no postgres dsn configured")
	}

	var recorder advisor.Recorder
	if st != nil {
		recorder = st
	}
	adv := advisor.New(cfg, lnd, recorder, logger)
	adv.Start()
	defer adv.Stop()

	srv := server.New(cfg, adv, st, logger)
	if err := srv.Run(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func runAdvise(args []string) {
	fs := flag.NewFlagSet("advise", flag.ExitOnError)
	configPath := fs.String("config", "/etc/lnadvisor/config.yaml", "Path to config.yaml")
	asJSON := fs.Bool("json", false, "Print raw JSON instead of a table")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	lnd := lndclient.New(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	advice, _, err := advisor.BuildAdvice(ctx, lnd, cfg, time.Now().UTC())
	if err != nil {
		logger.Fatalf("advise failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(advice); err != nil {
			logger.Fatalf("encode failed: %v", err)
		}
		return
	}

	alias := advice.Alias
	if alias == "" {
		alias = advice.Pubkey
	}
	fmt.Printf("%s | %d channels | %d actions | %s\n",
		alias, advice.ChannelCount, len(advice.Actions), advice.At.Format(time.RFC3339))

	if len(advice.Actions) == 0 {
		fmt.Println("nothing to do")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"prio", "entity", "channel", "variable", "actual", "target", "max", "reason"})
	for _, act := range advice.Actions {
		name := act.Alias
		if name == "" {
			name = act.ID
		}
		t.AppendRow(table.Row{act.Priority, act.Entity, name, act.Variable, act.Actual, act.Target, act.Max, act.Reason})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
