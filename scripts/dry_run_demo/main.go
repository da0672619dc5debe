package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"momentum-trader/internal/account"
	"momentum-trader/internal/engine"
	"momentum-trader/internal/events"
	"momentum-trader/internal/gateway"
	"momentum-trader/internal/market"
	"momentum-trader/internal/order"
	"momentum-trader/internal/report"
	"momentum-trader/internal/risk"
	"momentum-trader/internal/strategy"
	"momentum-trader/pkg/broker/sim"
)

// dry_run_demo runs a few scan cycles against the simulated broker with
// duplicated and reordered pushes, then prints the session report.
//
// Usage:
//   go run ./scripts/dry_run_demo -cycles 5 -seed 7
//
// It will:
//   1) Force two symbols over the momentum thresholds.
//   2) Run the cycles, stepping the market between them.
//   3) Drain the event pipeline and print the report as JSON.

func main() {
	cycles := flag.Int("cycles", 3, "scan cycles to run")
	seed := flag.Int64("seed", 1, "simulation seed")
	chaos := flag.Float64("chaos", 0.3, "duplicate and reorder rate of broker pushes")
	flag.Parse()

	logrus.SetLevel(logrus.WarnLevel)
	log := logrus.WithField("component", "dry-run-demo")

	cfg := sim.DefaultConfig()
	cfg.Seed = *seed
	cfg.DuplicateRate = *chaos
	cfg.ReorderRate = *chaos
	cfg.DeliveryDelay = time.Millisecond
	gw := sim.New(cfg)
	gw.SetQuote(cfg.Symbols[0], decimal.NewFromInt(100), decimal.NewFromInt(108), 2_500_000)
	gw.SetQuote(cfg.Symbols[1], decimal.NewFromInt(50), decimal.NewFromFloat(53.5), 1_800_000)

	bus := events.NewBus()
	q := events.NewQueue[order.Event](256)
	tracker := order.NewTracker(order.WithPublisher(bus))
	done := make(chan struct{})
	go func() {
		tracker.Run(q)
		close(done)
	}()
	gateway.NewBridge(q, gateway.WithBus(bus)).Attach(gw)

	executor := order.NewExecutor(gw, tracker, order.WithRiskCheck(risk.NewManager(risk.DefaultConfig())))
	scanner := market.NewScanner(gw, market.DefaultConfig())
	eng := engine.New(scanner, nil, executor, engine.CycleConfig{Thresholds: strategy.DefaultThresholds()})

	ctx := context.Background()
	for i := 0; i < *cycles; i++ {
		res, err := eng.RunCycle(ctx)
		if err != nil {
			log.Errorf("cycle %d: %v", i+1, err)
		}
		fmt.Fprintf(os.Stderr, "cycle %d: ranked=%d candidates=%d signals=%d submitted=%d failed=%d\n",
			res.Seq, res.Ranked, res.Candidates, res.Signals, res.Submitted, res.Failed)
		gw.Step()
	}

	gw.Close()
	q.Close()
	<-done

	gen := &report.Generator{
		SessionID:     report.NewSessionID(),
		DryRun:        true,
		Orders:        tracker,
		Signals:       eng.Session(),
		Submissions:   executor,
		Account:       account.NewManager(gw, time.Minute),
		Subscriptions: scanner,
	}
	r, err := gen.Generate(ctx)
	if err != nil {
		log.Fatalf("report: %v", err)
	}
	fmt.Fprint(os.Stderr, r.Text())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
