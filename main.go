package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"momentum-trader/internal/account"
	"momentum-trader/internal/api"
	"momentum-trader/internal/engine"
	"momentum-trader/internal/events"
	"momentum-trader/internal/gateway"
	"momentum-trader/internal/market"
	"momentum-trader/internal/monitor"
	"momentum-trader/internal/order"
	"momentum-trader/internal/persistence"
	"momentum-trader/internal/reconciliation"
	"momentum-trader/internal/report"
	"momentum-trader/internal/risk"
	"momentum-trader/internal/scheduler"
	"momentum-trader/internal/strategy"
	"momentum-trader/pkg/broker"
	"momentum-trader/pkg/broker/sim"
	"momentum-trader/pkg/cache"
	"momentum-trader/pkg/config"
	"momentum-trader/pkg/db"
	"momentum-trader/pkg/hostid"
	"momentum-trader/pkg/i18n"
)

var log = logrus.WithField("component", "main")

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	setupLogging(cfg)
	i18n.SetLanguage(i18n.Language(cfg.Language))

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
}

func startProfiler(addr, host string) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: "momentum-trader",
		ServerAddress:   addr,
		Tags:            map[string]string{"host": host},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

func run(cfg *config.Config) error {
	msg := i18n.M()
	log.Info(msg.Starting)
	log.Infof(msg.ConfigLoaded, cfg.Port, cfg.Broker)
	if cfg.DryRun {
		log.Info(msg.DryRunMode)
	} else {
		log.Warn(msg.LiveModeWarning)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessionID := report.NewSessionID()
	host := hostid.ID()
	log.Infof(msg.SessionStarted, sessionID)
	log.Infof(msg.HostID, host)

	if cfg.PyroscopeAddr != "" {
		profiler, err := startProfiler(cfg.PyroscopeAddr, host)
		if err != nil {
			log.Warnf("pyroscope start failed: %v", err)
		} else {
			log.Infof(msg.ProfilingEnabled, cfg.PyroscopeAddr)
			defer func() { _ = profiler.Stop() }()
		}
	}

	// Storage
	log.Infof(msg.UsingDBPath, cfg.DBPath)
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf(msg.DBInitFailed, err)
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf(msg.DBInitFailed, err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf(msg.DBMigrationsFailed, err)
	}

	// Strategy and scan settings; the thresholds file overrides only the
	// fields it sets.
	sc := strategySettings(cfg)
	if cfg.ThresholdsPath != "" {
		loaded, err := strategy.LoadConfig(cfg.ThresholdsPath, sc)
		if err != nil {
			log.Warnf(msg.ThresholdsFailed, err)
		} else {
			sc = loaded
		}
	}
	th := sc.Thresholds
	if err := th.Validate(); err != nil {
		return err
	}
	scanCfg := market.Config{
		Metrics:          []broker.Metric{broker.MetricChangePercent},
		Limit:            sc.ScanLimit,
		PrescreenPercent: sc.PrescreenPercent,
		UnsubscribeStale: cfg.UnsubscribeStale,
		QuoteRate:        rate.Limit(cfg.QuoteRate),
		QuoteBurst:       cfg.QuoteBurst,
	}
	if ms := parseMetrics(sc.Metrics); len(ms) > 0 {
		scanCfg.Metrics = ms
	}
	blocklist := append(append([]string(nil), cfg.Blocklist...), sc.Blocklist...)
	log.Infof(msg.ThresholdsLoaded, th.ChangePercent, th.VolumeLots, th.OrderLots)

	// Broker
	simCfg := sim.DefaultConfig()
	simCfg.Symbols = cfg.SimSymbols
	simCfg.Seed = cfg.SimSeed
	gw := sim.New(simCfg)

	// Event pipeline: broker pushes -> bridge -> queue -> tracker.
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	queue := events.NewQueue[order.Event](cfg.EventQueueCapacity)
	tracker := order.NewTracker(order.WithPublisher(bus), order.WithApplyHook(metrics.RecordApply))
	session := strategy.NewSessionLog()

	var journal *order.Journal
	if cfg.JournalPath != "" {
		if cfg.ResumeSession {
			n, err := order.Replay(cfg.JournalPath, tracker)
			if err != nil {
				log.Warnf("journal replay: %v", err)
			}
			for _, p := range tracker.Orders() {
				session.MarkIfNew(p.Symbol)
			}
			log.Infof("resumed %d journal entries, %d orders", n, tracker.Len())
		} else if err := rotateJournal(cfg.JournalPath); err != nil {
			log.Warnf("journal rotate: %v", err)
		}
		journal, err = order.OpenJournal(cfg.JournalPath)
		if err != nil {
			log.Warnf(msg.JournalFailed, err)
			journal = nil
		} else {
			log.Infof(msg.JournalEnabled, journal.Path())
		}
	}

	writer := persistence.NewBatchWriter(database.DB, cfg.WriterBatchSize, cfg.WriterFlushInterval)
	log.Info(msg.WriterStarted)
	recorder := persistence.NewRecorder(bus, writer, tracker, cfg.BusSubscriberCapacity)
	// Not tied to ctx: the recorder must see the events of the shutdown drain.
	recorder.Start(context.Background())

	(&monitor.Monitor{Bus: bus, Metrics: metrics, Sink: monitor.LogSink{}}).Start(ctx)
	log.Info(msg.MonitorStarted)

	quotes := cache.NewQuoteCache()
	bridgeOpts := []gateway.Option{gateway.WithQuoteCache(quotes), gateway.WithBus(bus)}
	if journal != nil {
		bridgeOpts = append(bridgeOpts, gateway.WithJournal(journal))
	}
	bridge := gateway.NewBridge(queue, bridgeOpts...)

	var trackerAlive atomic.Bool
	trackerAlive.Store(true)
	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		tracker.Run(queue)
		trackerAlive.Store(false)
	}()
	bridge.Attach(gw)

	// Execution
	riskCfg := risk.DefaultConfig()
	riskCfg.EnableTrading = cfg.EnableTrading
	riskCfg.MaxOrdersPerSession = cfg.MaxOrdersPerSession
	riskCfg.MaxNotionalPerOrder = decimal.NewFromFloat(cfg.MaxNotionalPerOrder)
	riskCfg.MaxSessionNotional = decimal.NewFromFloat(cfg.MaxSessionNotional)
	riskCfg.Blocklist = blocklist
	riskMgr := risk.NewManager(riskCfg)

	execOpts := []order.ExecutorOption{order.WithRiskCheck(riskMgr), order.WithBus(bus)}
	if journal != nil {
		execOpts = append(execOpts, order.WithJournal(journal))
	}
	executor := order.NewExecutor(gw, tracker, execOpts...)

	scanner := market.NewScanner(gw, scanCfg)
	eng := engine.New(scanner, session, executor,
		engine.CycleConfig{Thresholds: th, QuoteMaxAge: cfg.QuoteMaxAge},
		engine.WithQuoteCache(quotes), engine.WithBus(bus), engine.WithMetrics(metrics))

	metrics.SetPipelineSource(func() monitor.PipelineStats {
		return monitor.PipelineStats{
			QueueDepth:    queue.Len(),
			QueueCapacity: queue.Cap(),
			BusDropped:    bus.Dropped(),
			EventsLost:    bridge.Stats().Lost,
			TrackedOrders: tracker.Len(),
			Subscribed:    len(scanner.Subscribed()),
		}
	})

	// Background services
	accounts := account.NewManager(gw, cfg.AccountSyncInterval)
	accounts.Start(ctx)
	log.Info(msg.AccountStarted)

	recon := reconciliation.NewService(tracker, bus, cfg.ReconcileInterval)
	recon.Start(ctx)
	log.Info(msg.ReconStarted)

	go simulateMarket(ctx, gw, quotes, cfg.SimStepInterval, cfg.QuoteMaxAge)

	reports := &report.Generator{
		SessionID:     sessionID,
		HostID:        host,
		DryRun:        cfg.DryRun,
		Orders:        tracker,
		Signals:       session,
		Submissions:   executor,
		Account:       accounts,
		Subscriptions: scanner,
	}

	sched, err := scheduler.New("scan", cfg.ScanInterval, eng.Work)
	if err != nil {
		return err
	}
	sched.Start(ctx)
	log.Infof(msg.SchedulerStarted, cfg.ScanInterval)

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}
	svc := engine.NewImpl(engine.Config{
		Engine:   eng,
		Tracker:  tracker,
		Executor: executor,
		Reports:  reports,
		RiskMgr:  riskMgr,
		Metrics:  metrics,
		Market:   scanner,
		Meta: engine.Meta{
			SessionID:    sessionID,
			Mode:         cfg.Mode(),
			DryRun:       cfg.DryRun,
			Broker:       cfg.Broker,
			HostID:       host,
			ScanInterval: cfg.ScanInterval,
			Version:      version,
		},
		Alive: func() bool { return trackerAlive.Load() && !isClosed(sched.Done()) },
	})

	// Outer surfaces
	server := api.NewServer(svc, bus, database, cfg.JWTSecret)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof(msg.ServerListening, cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf(msg.APIServerError, err)
			cancel()
		}
	}()

	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			log.Warnf("grpc health listen: %v", err)
		} else {
			hs := api.NewHealthServer(svc.Healthy, 5*time.Second)
			go func() {
				log.Infof(msg.GRPCListening, cfg.GRPCPort)
				if err := hs.Serve(ctx, lis); err != nil {
					log.Warnf("grpc health: %v", err)
				}
			}()
		}
	}

	<-ctx.Done()
	log.Info(msg.ShuttingDown)

	// Stop producing, then drain everything already in flight before the report.
	sched.Stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}

	gw.Close()
	queue.Close()
	<-trackerDone
	log.Infof(msg.PipelineDrained, tracker.Applied())
	recon.Reconcile()

	r, err := reports.Generate(shutdownCtx)
	if err != nil {
		log.Errorf(msg.ReportFailed, err)
	} else {
		log.Info(msg.ReportGenerated)
		fmt.Print(r.Text())
		bus.Publish(events.TopicReport, r)
		if err := report.Save(shutdownCtx, database, r); err != nil {
			log.Errorf(msg.ReportSaveFailed, err)
		} else {
			log.Infof(msg.ReportSaved, r.SessionID)
		}
	}

	orders, anomalies := closeSession(recorder, writer, tracker)
	log.Infof(msg.SessionArchived, len(orders), len(anomalies))
	scanner.UnsubscribeAll()

	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Errorf("journal close: %v", err)
		}
	}
	log.Info(msg.ShutdownComplete)
	return nil
}

// closeSession persists what the recorder still holds, then purges the
// tracker. The recorder looks orders up in the tracker, so it must finish
// before Archive.
func closeSession(recorder *persistence.Recorder, writer *persistence.BatchWriter, tracker *order.Tracker) ([]order.Projection, []order.Anomaly) {
	if err := recorder.Stop(); err != nil {
		log.Errorf("recorder flush: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Errorf("batch writer close: %v", err)
	}
	return tracker.Archive()
}

// simulateMarket advances the simulated broker so pushed quotes keep flowing.
func simulateMarket(ctx context.Context, gw *sim.Gateway, quotes *cache.QuoteCache, step, maxAge time.Duration) {
	if step <= 0 {
		return
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gw.Step()
			if n := quotes.Cleanup(10 * maxAge); n > 0 {
				log.Debugf("dropped %d stale quotes", n)
			}
		}
	}
}

// rotateJournal moves the previous session's journal aside.
func rotateJournal(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	return os.Rename(path, path+"."+info.ModTime().Format("20060102-150405"))
}

// strategySettings is the momentum section as configured by the environment.
func strategySettings(cfg *config.Config) strategy.Config {
	return strategy.Config{
		Thresholds: strategy.Thresholds{
			ChangePercent: cfg.ChangePercent,
			VolumeLots:    cfg.VolumeLots,
			OrderLots:     cfg.OrderLots,
		},
		PrescreenPercent: cfg.PrescreenPercent,
		ScanLimit:        cfg.ScanLimit,
	}
}

func parseMetrics(names []string) []broker.Metric {
	var out []broker.Metric
	for _, n := range names {
		m := broker.Metric(n)
		if !m.Valid() {
			log.Warnf("ignoring unknown ranking metric %q", n)
			continue
		}
		out = append(out, m)
	}
	return out
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
