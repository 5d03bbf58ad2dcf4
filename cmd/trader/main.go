package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/breaker"
	"main/internal/engine"
	"main/internal/events"
	"main/internal/gateway"
	"main/internal/market"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	snapshotPath := flag.String("snapshot-path", "positions.json", "Position snapshot written on exit")
	restorePath := flag.String("restore", "", "Restore positions from a snapshot before trading")
	runFor := flag.Duration("run-for", 5*time.Second, "How long to keep the sweeps running")
	profile := flag.Bool("profile", false, "Enable pyroscope profiling")
	profileAddr := flag.String("profile-addr", "http://localhost:4040", "Pyroscope server address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *profile {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trading/core",
			ServerAddress:   *profileAddr,
			Tags: map[string]string{
				"env": "local",
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := run(ctx, loaded, *snapshotPath, *restorePath, *runFor); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

func run(ctx context.Context, loaded ops.Loaded, snapshotPath, restorePath string, runFor time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logSink := events.NewLogSink()
	async := events.NewAsyncSink(1024)
	defer async.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		async.Run(ctx, logSink)
	}()

	errs := events.NewHandler(logSink, async, nil)
	metrics := obs.NewMetrics()
	source := market.NewStaticSource()
	gw := gateway.NewSim()

	execStore, closeStore, err := buildStore(loaded)
	if err != nil {
		return err
	}
	defer closeStore()

	brk := breaker.New("gateway", loaded.Breaker, nil, async)
	registry := breaker.NewRegistry()
	if err := registry.Register(brk); err != nil {
		return err
	}

	riskMgr := risk.NewManager(loaded.Risk, source, async, errs, metrics, nil)
	if restorePath != "" {
		snap, err := risk.ReadSnapshot(restorePath)
		if err != nil {
			return err
		}
		riskMgr.Restore(snap)
		logs.Infof("restored %d positions from %s", len(snap.Positions), restorePath)
	}

	eng, err := engine.New(engine.Options{
		Source:   source,
		Gateway:  gw,
		Breaker:  brk,
		Risk:     riskMgr,
		Store:    execStore,
		Sink:     async,
		Errors:   errs,
		Metrics:  metrics,
		Clock:    schema.UTCNow,
		Slippage: engine.BasisPointSlippage(loaded.SlippageBps),
	})
	if err != nil {
		return err
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		eng.Run(ctx, loaded.EngineSweepInterval)
	}()
	go func() {
		defer wg.Done()
		riskMgr.Run(ctx, loaded.RiskSweepInterval)
	}()

	runScript(ctx, eng, riskMgr, source)

	select {
	case <-ctx.Done():
	case <-time.After(runFor):
	}

	report(metrics, registry, async)

	if snapshotPath != "" {
		if err := risk.WriteSnapshot(snapshotPath, riskMgr.Snapshot()); err != nil {
			return err
		}
		logs.Infof("position snapshot written to %s", snapshotPath)
	}

	cancel()
	wg.Wait()
	return nil
}

// runScript submits a small order flow against moving prices so every
// lifecycle path gets exercised.
func runScript(ctx context.Context, eng *engine.Engine, riskMgr *risk.Manager, source *market.StaticSource) {
	source.SetPrice("AAPL", dec("150.00"))
	source.SetPrice("MSFT", dec("420.00"))

	// Market buy fills immediately with slippage against us.
	order, err := eng.SubmitOrder(ctx, schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
	})
	if err != nil {
		logs.Errorf("market order rejected: %+v", err)
	} else {
		logs.Infof("market order %s: %s at %s", order.ID, order.Status, order.AverageFillPrice)
	}

	riskMgr.SetStopLoss("AAPL", dec("140.00"))

	// Limit buy below the market parks in the book until prices move.
	parked, err := eng.SubmitOrder(ctx, schema.OrderRequest{
		Symbol:      "MSFT",
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeLimit,
		Quantity:    decimal.NewFromInt(25),
		Price:       dec("415.00"),
		TimeInForce: schema.TimeInForceDay,
	})
	if err != nil {
		logs.Errorf("limit order rejected: %+v", err)
		return
	}
	eng.RegisterCallback(parked.ID, func(o schema.Order) {
		logs.Infof("limit order %s moved to %s", o.ID, o.Status)
	})

	// Sell stop under the market waits for a downtick.
	stopOrder, err := eng.SubmitOrder(ctx, schema.OrderRequest{
		Symbol:    "AAPL",
		Side:      schema.OrderSideSell,
		Type:      schema.OrderTypeStop,
		Quantity:  decimal.NewFromInt(50),
		StopPrice: dec("146.00"),
	})
	if err != nil {
		logs.Errorf("stop order rejected: %+v", err)
		return
	}

	// One order we change our mind about.
	doomed, err := eng.SubmitOrder(ctx, schema.OrderRequest{
		Symbol:   "MSFT",
		Side:     schema.OrderSideSell,
		Type:     schema.OrderTypeLimit,
		Quantity: decimal.NewFromInt(10),
		Price:    dec("430.00"),
	})
	if err == nil {
		logs.Infof("cancelled order %s: %v", doomed.ID, eng.CancelOrder(doomed.ID))
	}

	// Prices move: the stop triggers and the limit becomes marketable.
	source.SetPrice("AAPL", dec("145.50"))
	source.SetPrice("MSFT", dec("414.75"))
	logs.Infof("ticked AAPL to 145.50, MSFT to 414.75; stop order %s pending", stopOrder.ID)
}

func report(metrics *obs.Metrics, registry *breaker.Registry, async *events.AsyncSink) {
	snap := metrics.Snapshot()
	for status, count := range snap.OrderStatusCounts {
		logs.Infof("orders %s: %d", status, count)
	}
	for reason, count := range snap.RiskReasonCounts {
		logs.Infof("risk rejections %s: %d", reason, count)
	}
	logs.Infof("breaker rejections: %d", snap.BreakerRejections)
	logs.Infof("submit latency: n=%d avg=%s max=%s",
		snap.SubmitLatency.Count, snap.SubmitLatency.Avg, snap.SubmitLatency.Max)

	for name, status := range registry.Statuses() {
		logs.Infof("breaker %s: %s failures=%d", name, status.State, status.FailureCount)
	}

	if dropped := async.Dropped(); dropped > 0 {
		logs.Warnf("event queue dropped %d events", dropped)
	}
}

func buildStore(loaded ops.Loaded) (store.ExecutionStore, func(), error) {
	if loaded.StoreBackend == ops.StorePostgres {
		pg, err := store.NewPostgres(loaded.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	}
	return store.NewMemory(), func() {}, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
