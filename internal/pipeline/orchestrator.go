// Package pipeline schedules due sources and runs them through the
// fetch, parse, classify and persist stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/connector"
	"github.com/JakeFAU/regalert/internal/health"
	"github.com/JakeFAU/regalert/internal/metrics"
	"github.com/JakeFAU/regalert/internal/queue/memory"
	"github.com/JakeFAU/regalert/internal/registry"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

// Request is one invocation.
type Request struct {
	Agency       string
	Region       string
	ForceRefresh bool
	TestMode     bool
}

// SourceReport describes one source within an invocation.
type SourceReport struct {
	SourceID       string                 `json:"source_id"`
	Name           string                 `json:"name"`
	ResultKey      string                 `json:"result_key"`
	State          regulatory.RunState    `json:"state"`
	FetchStatus    regulatory.FetchStatus `json:"fetch_status,omitempty"`
	RecordsFetched int                    `json:"records_fetched"`
	Inserted       int                    `json:"inserted"`
	Duplicates     int                    `json:"duplicates"`
	Errors         int                    `json:"errors"`
	Error          string                 `json:"error,omitempty"`
}

// Summary aggregates an invocation. Results counts inserted alerts per
// `<agency>_<region>` key.
type Summary struct {
	TotalAlertsProcessed int            `json:"totalAlertsProcessed"`
	Results              map[string]int `json:"results"`
	Sources              []SourceReport `json:"sources"`
	Timestamp            time.Time      `json:"timestamp"`
}

// Pinger checks that the alert store is reachable before any work starts.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthRecorder folds a run into the source's health row.
type HealthRecorder interface {
	Record(ctx context.Context, src regulatory.Source, res health.Result) (regulatory.HealthRecord, error)
}

// StaleSweeper warns about sources that stopped producing successful fetches.
type StaleSweeper interface {
	SweepStale(ctx context.Context, sources []regulatory.Source, stalePolls int) (int, error)
}

// Config wires an Orchestrator.
type Config struct {
	Sources     regulatory.SourceStore
	Cooldowns   regulatory.CooldownStore
	Connectors  map[regulatory.SourceType]connector.Connector
	Processor   *Processor
	Health      HealthRecorder
	Pinger      Pinger
	Clock       regulatory.Clock
	Logger      *zap.Logger
	Concurrency int
	// Budget bounds how long sources keep being picked up. Sources not
	// started when it expires are skipped; in-flight sources run to
	// completion under their own fetch timeouts.
	Budget time.Duration
	// StaleAfterPolls enables a stale sweep after each live run when Health
	// also implements StaleSweeper. Zero disables it.
	StaleAfterPolls int
}

const (
	errBudgetExhausted    = "invocation budget exhausted"
	errInvocationCanceled = "invocation canceled before the source finished"
)

// Orchestrator decides which sources are due and fans them out.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Sources == nil:
		return nil, errors.New("source store is required")
	case cfg.Cooldowns == nil:
		return nil, errors.New("cooldown store is required")
	case cfg.Processor == nil:
		return nil, errors.New("processor is required")
	case cfg.Clock == nil:
		return nil, errors.New("clock is required")
	case len(cfg.Connectors) == 0:
		return nil, errors.New("at least one connector is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Plan returns the active sources matching req and whether each is due now.
func (o *Orchestrator) Plan(ctx context.Context, req Request) ([]regulatory.Source, []bool, error) {
	all, err := o.cfg.Sources.ListSources(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list sources: %w", err)
	}
	active := registry.Active(all, registry.Filter{Agency: req.Agency, Region: req.Region})
	now := o.cfg.Clock.Now()
	due := make([]bool, len(active))
	for i, src := range active {
		if req.TestMode || req.ForceRefresh {
			due[i] = true
			continue
		}
		last, seen, err := o.cfg.Cooldowns.LastRun(ctx, src.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("read cooldown for %s: %w", src.ID, err)
		}
		due[i] = registry.Due(src, last, seen, now)
	}
	return active, due, nil
}

// Run executes one invocation. Only orchestration failures are returned;
// per-source failures are reported in the summary.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Summary, error) {
	logger := o.cfg.Logger.With(zap.Bool("test_mode", req.TestMode), zap.Bool("force_refresh", req.ForceRefresh))
	if o.cfg.Pinger != nil {
		if err := o.cfg.Pinger.Ping(ctx); err != nil {
			return Summary{}, fmt.Errorf("alert store unreachable: %w", err)
		}
	}

	sources, due, err := o.Plan(ctx, req)
	if err != nil {
		return Summary{}, err
	}
	if req.ForceRefresh && !req.TestMode && len(sources) > 0 {
		ids := make([]string, len(sources))
		for i, src := range sources {
			ids[i] = src.ID
		}
		if err := o.cfg.Cooldowns.Reset(ctx, ids...); err != nil {
			return Summary{}, fmt.Errorf("reset cooldowns: %w", err)
		}
	}

	reports := make([]SourceReport, len(sources))
	work := memory.NewQueue[int](len(sources) + 1)
	for i, src := range sources {
		reports[i] = SourceReport{SourceID: src.ID, Name: src.Name, ResultKey: src.ResultKey(), State: regulatory.RunIdle}
		if !due[i] {
			continue
		}
		reports[i].State = regulatory.RunDue
		if err := work.Enqueue(ctx, i); err != nil {
			return Summary{}, err
		}
	}
	work.Close()
	logger.Info("pipeline invocation started", zap.Int("sources", len(sources)), zap.Int("due", work.Len()))

	budgetCtx := ctx
	if o.cfg.Budget > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, o.cfg.Budget)
		defer cancel()
	}

	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx, err := work.Dequeue(context.WithoutCancel(budgetCtx))
				if err != nil {
					return
				}
				if budgetCtx.Err() != nil {
					reports[idx].State = regulatory.RunSkipped
					reports[idx].Error = errBudgetExhausted
					metrics.ObserveSourceRun(string(regulatory.RunSkipped))
					continue
				}
				reports[idx] = o.runSource(ctx, sources[idx], req, reports[idx])
			}
		}()
	}
	wg.Wait()
	if !req.TestMode {
		o.sweepStale(context.WithoutCancel(ctx), sources, logger)
	}

	summary := Summary{Results: make(map[string]int), Sources: reports, Timestamp: o.cfg.Clock.Now()}
	for _, r := range reports {
		if r.State == regulatory.RunIdle {
			continue
		}
		summary.Results[r.ResultKey] += r.Inserted
		summary.TotalAlertsProcessed += r.Inserted
	}
	logger.Info("pipeline invocation finished",
		zap.Int("inserted", summary.TotalAlertsProcessed),
		zap.Int("sources", len(reports)))
	return summary, nil
}

func (o *Orchestrator) sweepStale(ctx context.Context, sources []regulatory.Source, logger *zap.Logger) {
	sweeper, ok := o.cfg.Health.(StaleSweeper)
	if !ok || o.cfg.StaleAfterPolls <= 0 {
		return
	}
	n, err := sweeper.SweepStale(ctx, sources, o.cfg.StaleAfterPolls)
	if err != nil {
		logger.Error("stale sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Warn("stale sources reported", zap.Int("count", n))
	}
}

func (o *Orchestrator) runSource(ctx context.Context, src regulatory.Source, req Request, report SourceReport) SourceReport {
	logger := o.cfg.Logger.With(zap.String("source", src.Name), zap.String("source_id", src.ID))
	report.State = regulatory.RunRunning
	metrics.IncActiveSources()
	defer metrics.DecActiveSources()

	if !req.TestMode {
		if err := o.cfg.Cooldowns.MarkRun(ctx, src.ID, o.cfg.Clock.Now()); err != nil {
			logger.Warn("cooldown not recorded", zap.Error(err))
		}
	}

	conn, ok := o.cfg.Connectors[src.Type]
	if !ok {
		report.State = regulatory.RunFailed
		report.FetchStatus = regulatory.FetchStatusFailed
		report.Error = fmt.Sprintf("no connector for type %q", src.Type)
		o.finish(ctx, src, req, &report, logger)
		return report
	}

	out := conn.Run(ctx, src)
	if ctx.Err() != nil {
		// The caller gave up mid-fetch. That says nothing about the source,
		// so it is neither recorded against its health nor held in cooldown.
		o.abandon(src, req, &report, logger)
		return report
	}
	report.FetchStatus = out.FetchStatus()
	report.RecordsFetched = out.RawCount()
	if out.Err != nil {
		report.Error = out.Err.Error()
	}

	counts, procErr := o.cfg.Processor.Process(ctx, src, out, req.TestMode)
	report.Inserted = counts.Inserted
	report.Duplicates = counts.Duplicates
	report.Errors = counts.Errors
	if procErr != nil && counts.Inserted == 0 && counts.Duplicates == 0 {
		report.FetchStatus = regulatory.FetchStatusFailed
		report.Error = procErr.Error()
	}

	switch report.FetchStatus {
	case regulatory.FetchStatusFailed, regulatory.FetchStatusParseError:
		report.State = regulatory.RunFailed
	default:
		report.State = regulatory.RunSucceeded
	}
	o.finish(ctx, src, req, &report, logger)
	return report
}

func (o *Orchestrator) abandon(src regulatory.Source, req Request, report *SourceReport, logger *zap.Logger) {
	report.State = regulatory.RunSkipped
	report.Error = errInvocationCanceled
	metrics.ObserveSourceRun(string(report.State))
	logger.Warn("source run abandoned", zap.String("error", report.Error))
	if req.TestMode {
		return
	}
	if err := o.cfg.Cooldowns.Reset(context.Background(), src.ID); err != nil {
		logger.Warn("cooldown not released", zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, src regulatory.Source, req Request, report *SourceReport, logger *zap.Logger) {
	metrics.ObserveSourceRun(string(report.State))
	logger.Info("source run finished",
		zap.String("state", string(report.State)),
		zap.String("fetch_status", string(report.FetchStatus)),
		zap.Int("records_fetched", report.RecordsFetched),
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicates", report.Duplicates),
		zap.String("error", report.Error))
	if req.TestMode {
		return
	}
	// Bookkeeping outlives the invocation budget.
	bookCtx := context.WithoutCancel(ctx)
	if o.cfg.Health != nil {
		if _, err := o.cfg.Health.Record(bookCtx, src, health.Result{
			Status:         report.FetchStatus,
			RecordsFetched: report.RecordsFetched,
			Err:            report.Error,
		}); err != nil {
			logger.Error("health not recorded", zap.Error(err))
		}
	}
	lastErr := ""
	if report.State == regulatory.RunFailed {
		lastErr = report.Error
	}
	if err := o.cfg.Sources.MarkFetched(bookCtx, src.ID, o.cfg.Clock.Now(), lastErr); err != nil {
		logger.Error("source bookkeeping not recorded", zap.Error(err))
	}
}
