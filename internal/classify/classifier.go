package classify

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// Classifier assigns urgency, signal type and originating agency to alert
// drafts.
type Classifier struct {
	policy     Policy
	summarizer regulatory.Summarizer
	clock      regulatory.Clock
	logger     *zap.Logger
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithSummarizer enables summary enrichment.
func WithSummarizer(s regulatory.Summarizer) Option {
	return func(c *Classifier) { c.summarizer = s }
}

// WithClock overrides the clock used for recency bonuses.
func WithClock(clock regulatory.Clock) Option {
	return func(c *Classifier) { c.clock = clock }
}

// WithLogger sets the logger used for summarizer failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// New builds a classifier from a policy. Unset policy fields take defaults.
func New(policy Policy, opts ...Option) *Classifier {
	c := &Classifier{
		policy: policy.WithDefaults(),
		clock:  utcClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective policy.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// Score computes the urgency score of an alert draft for its source.
func (c *Classifier) Score(alert regulatory.Alert, src regulatory.Source) int {
	text := searchText(alert)
	score := src.Priority
	score += countHits(text, c.policy.UrgentKeywords) * c.policy.UrgentKeywordWeight
	score += countHits(text, src.Keywords) * c.policy.SourceKeywordWeight
	score += c.recencyBonus(alert.PublishedDate)
	score += c.policy.regionBonus(alert.Region)
	return score
}

func (c *Classifier) recencyBonus(published time.Time) int {
	if published.IsZero() {
		return 0
	}
	age := c.clock.Now().Sub(published)
	switch {
	case age <= 24*time.Hour:
		return c.policy.RecentBonus
	case age <= 72*time.Hour:
		return c.policy.FreshBonus
	default:
		return 0
	}
}

// Signal detects the signal type using fixed precedence.
func (c *Classifier) Signal(alert regulatory.Alert) regulatory.SignalType {
	text := searchText(alert)
	ordered := []struct {
		signal   regulatory.SignalType
		keywords []string
	}{
		{regulatory.SignalRecall, c.policy.Signals.Recall},
		{regulatory.SignalWarningLetter, c.policy.Signals.WarningLetter},
		{regulatory.SignalGuidance, c.policy.Signals.Guidance},
		{regulatory.SignalRuleChange, c.policy.Signals.RuleChange},
	}
	for _, entry := range ordered {
		if countHits(text, entry.keywords) > 0 {
			return entry.signal
		}
	}
	return regulatory.SignalMarket
}

// Attribute returns the agency a relayed alert originates from, if a rule
// matches and the agency differs from the relaying source.
func (c *Classifier) Attribute(alert regulatory.Alert, signal regulatory.SignalType) (string, bool) {
	text := searchText(alert)
	for _, rule := range c.policy.Attribution {
		if strings.EqualFold(rule.Agency, alert.Agency) {
			continue
		}
		if len(rule.Signals) > 0 && !containsSignal(rule.Signals, signal) {
			continue
		}
		if countHits(text, rule.Markers) > 0 {
			return rule.Agency, true
		}
	}
	return "", false
}

// Classify fills urgency, score, signal type, attribution and summary on the
// draft. Summarizer failures fall back to a truncated description.
func (c *Classifier) Classify(ctx context.Context, alert regulatory.Alert, src regulatory.Source) regulatory.Alert {
	alert.UrgencyScore = c.Score(alert, src)
	alert.Urgency = c.policy.Band(alert.UrgencyScore)
	alert.SignalType = c.Signal(alert)

	if agency, ok := c.Attribute(alert, alert.SignalType); ok {
		c.logger.Debug("re-attributed alert",
			zap.String("title", alert.Title),
			zap.String("relay", alert.Source),
			zap.String("agency", agency))
		alert.Agency = agency
		alert.Source = agency
	}

	alert.Summary = c.summarize(ctx, alert)
	return alert
}

func (c *Classifier) summarize(ctx context.Context, alert regulatory.Alert) string {
	fallback := Truncate(firstNonEmpty(alert.Description, alert.Title), c.policy.SummaryMaxChars)
	if c.summarizer == nil {
		return fallback
	}
	summary, err := c.summarizer.Summarize(ctx, alert)
	if err != nil {
		c.logger.Warn("summarizer failed; using truncated description",
			zap.String("title", alert.Title), zap.Error(err))
		return fallback
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fallback
	}
	return summary
}

func searchText(alert regulatory.Alert) string {
	return strings.ToLower(alert.Title + " " + alert.Description)
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		hits += strings.Count(text, kw)
	}
	return hits
}

func containsSignal(signals []regulatory.SignalType, s regulatory.SignalType) bool {
	for _, candidate := range signals {
		if strings.EqualFold(string(candidate), string(s)) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
