package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/classify"
	"github.com/JakeFAU/regalert/internal/connector"
	"github.com/JakeFAU/regalert/internal/dedup"
	"github.com/JakeFAU/regalert/internal/metrics"
	"github.com/JakeFAU/regalert/internal/normalize"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

// Sink is one alert table with its duplicate checker.
type Sink struct {
	Store regulatory.AlertStore
	Dedup *dedup.Checker
}

// Counts tallies what happened to the items of one source run.
type Counts struct {
	Inserted   int
	Duplicates int
	Errors     int
}

// Processor turns connector output into persisted alerts, in feed order.
type Processor struct {
	normalizer *normalize.Normalizer
	classifier *classify.Classifier
	live       Sink
	scratch    Sink
	publisher  regulatory.Publisher
	topic      string
	ids        regulatory.IDGenerator
	clock      regulatory.Clock
	logger     *zap.Logger
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Normalizer *normalize.Normalizer
	Classifier *classify.Classifier
	Live       Sink
	Scratch    Sink
	Publisher  regulatory.Publisher
	Topic      string
	IDs        regulatory.IDGenerator
	Clock      regulatory.Clock
	Logger     *zap.Logger
}

// NewProcessor validates and builds a Processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	switch {
	case cfg.Normalizer == nil, cfg.Classifier == nil:
		return nil, errors.New("normalizer and classifier are required")
	case cfg.Live.Store == nil, cfg.Live.Dedup == nil:
		return nil, errors.New("live alert store is required")
	case cfg.IDs == nil, cfg.Clock == nil:
		return nil, errors.New("id generator and clock are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Processor{
		normalizer: cfg.Normalizer,
		classifier: cfg.Classifier,
		live:       cfg.Live,
		scratch:    cfg.Scratch,
		publisher:  cfg.Publisher,
		topic:      cfg.Topic,
		ids:        cfg.IDs,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}, nil
}

// Process normalizes, classifies, deduplicates and inserts every item. Item
// failures are counted and logged; the last one is returned alongside the
// counts.
func (p *Processor) Process(ctx context.Context, src regulatory.Source, out connector.Outcome, testMode bool) (Counts, error) {
	sink := p.live
	if testMode {
		if p.scratch.Store == nil {
			return Counts{}, errors.New("test mode requires a scratch alert store")
		}
		sink = p.scratch
	}
	logger := p.logger.With(zap.String("source", src.Name), zap.Bool("test_mode", testMode))

	var (
		counts  Counts
		lastErr error
	)
	for _, batch := range out.Batches {
		for _, item := range batch.Items {
			if err := ctx.Err(); err != nil {
				return counts, fmt.Errorf("process %s: %w", src.Name, err)
			}
			result, err := p.processItem(ctx, sink, src, item, batch.FromFallback, testMode)
			switch {
			case err != nil:
				counts.Errors++
				lastErr = err
				logger.Error("alert processing failed", zap.String("title", item.Title), zap.Error(err))
			case result == "inserted":
				counts.Inserted++
			default:
				counts.Duplicates++
			}
			metrics.ObserveAlert(src.Name, resultLabel(result, err))
		}
	}
	return counts, lastErr
}

func (p *Processor) processItem(
	ctx context.Context,
	sink Sink,
	src regulatory.Source,
	item regulatory.RawItem,
	fromFallback bool,
	testMode bool,
) (string, error) {
	draft := p.normalizer.Normalize(item, src, fromFallback)
	alert := p.classifier.Classify(ctx, draft, src)

	dup, err := sink.Dedup.IsDuplicate(ctx, alert, src)
	if err != nil {
		return "", err
	}
	if dup {
		return "duplicate", nil
	}

	id, err := p.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate alert id: %w", err)
	}
	alert.ID = id
	alert.CreatedAt = p.clock.Now()

	inserted, err := sink.Store.InsertAlert(ctx, alert)
	if err != nil {
		return "", err
	}
	if !inserted {
		return "duplicate", nil
	}
	if !testMode {
		p.publish(ctx, alert)
	}
	return "inserted", nil
}

func (p *Processor) publish(ctx context.Context, alert regulatory.Alert) {
	if p.publisher == nil || p.topic == "" {
		return
	}
	msgID, err := p.publisher.Publish(ctx, p.topic, alert)
	if err != nil {
		p.logger.Warn("alert publish failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}
	p.logger.Debug("alert published", zap.String("alert_id", alert.ID), zap.String("message_id", msgID))
}

func resultLabel(result string, err error) string {
	if err != nil {
		return "error"
	}
	return result
}
