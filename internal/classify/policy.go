// Package classify scores alert urgency, detects signal types and attributes
// relayed notices to their originating agency.
package classify

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// AttributionRule re-tags relayed content to the agency whose markers it
// carries. Signals restricts the rule to the listed signal types; empty means
// any.
type AttributionRule struct {
	Agency  string                  `mapstructure:"agency"`
	Markers []string                `mapstructure:"markers"`
	Signals []regulatory.SignalType `mapstructure:"signals"`
}

// SignalKeywords lists the phrases that identify each signal type.
type SignalKeywords struct {
	Recall        []string `mapstructure:"recall"`
	WarningLetter []string `mapstructure:"warning_letter"`
	Guidance      []string `mapstructure:"guidance"`
	RuleChange    []string `mapstructure:"rule_change"`
}

// Policy holds the tunable scoring heuristic. Numeric knobs are taken as
// given, so zero switches a component off; start from DefaultPolicy to
// override individual values.
type Policy struct {
	UrgentKeywords      []string          `mapstructure:"urgent_keywords"`
	UrgentKeywordWeight int               `mapstructure:"urgent_keyword_weight"`
	SourceKeywordWeight int               `mapstructure:"source_keyword_weight"`
	RecentBonus         int               `mapstructure:"recent_bonus"`
	FreshBonus          int               `mapstructure:"fresh_bonus"`
	RegionBonus         map[string]int    `mapstructure:"region_bonus"`
	CriticalThreshold   int               `mapstructure:"critical_threshold"`
	HighThreshold       int               `mapstructure:"high_threshold"`
	MediumThreshold     int               `mapstructure:"medium_threshold"`
	Signals             SignalKeywords    `mapstructure:"signal_keywords"`
	Attribution         []AttributionRule `mapstructure:"attribution"`
	SummaryMaxChars     int               `mapstructure:"summary_max_chars"`
}

// DefaultPolicy returns the starting heuristic.
func DefaultPolicy() Policy {
	return Policy{
		UrgentKeywords: []string{
			"recall", "outbreak", "warning", "critical", "salmonella", "listeria",
			"e. coli", "contamination", "undeclared", "death", "injury", "emergency",
			"immediate", "hazard",
		},
		UrgentKeywordWeight: 3,
		SourceKeywordWeight: 2,
		RecentBonus:         3,
		FreshBonus:          1,
		RegionBonus:         map[string]int{"global": 2, "us": 1},
		CriticalThreshold:   20,
		HighThreshold:       14,
		MediumThreshold:     9,
		Signals: SignalKeywords{
			Recall:        []string{"recall", "withdrawal", "market withdrawal"},
			WarningLetter: []string{"warning letter", "untitled letter", "enforcement action"},
			Guidance:      []string{"guidance", "draft guidance", "advisory"},
			RuleChange:    []string{"final rule", "proposed rule", "interim rule", "regulation", "federal register", "amendment"},
		},
		Attribution: []AttributionRule{
			{
				Agency:  "FDA",
				Markers: []string{"fda", "food and drug administration"},
				Signals: []regulatory.SignalType{regulatory.SignalRecall, regulatory.SignalWarningLetter},
			},
			{
				Agency:  "USDA-FSIS",
				Markers: []string{"fsis", "food safety and inspection service"},
				Signals: []regulatory.SignalType{regulatory.SignalRecall},
			},
		},
		SummaryMaxChars: 280,
	}
}

// WithDefaults fills empty keyword lists, the region table, attribution
// rules and the summary length from DefaultPolicy. Numeric weights and
// thresholds are left alone.
func (p Policy) WithDefaults() Policy {
	def := DefaultPolicy()
	if len(p.UrgentKeywords) == 0 {
		p.UrgentKeywords = def.UrgentKeywords
	}
	if p.RegionBonus == nil {
		p.RegionBonus = def.RegionBonus
	}
	if len(p.Signals.Recall) == 0 {
		p.Signals.Recall = def.Signals.Recall
	}
	if len(p.Signals.WarningLetter) == 0 {
		p.Signals.WarningLetter = def.Signals.WarningLetter
	}
	if len(p.Signals.Guidance) == 0 {
		p.Signals.Guidance = def.Signals.Guidance
	}
	if len(p.Signals.RuleChange) == 0 {
		p.Signals.RuleChange = def.Signals.RuleChange
	}
	if len(p.Attribution) == 0 {
		p.Attribution = def.Attribution
	}
	if p.SummaryMaxChars <= 0 {
		p.SummaryMaxChars = def.SummaryMaxChars
	}
	return p
}

// Validate checks that bands are ordered and weights non-negative.
func (p Policy) Validate() error {
	if p.UrgentKeywordWeight < 0 || p.SourceKeywordWeight < 0 {
		return fmt.Errorf("keyword weights must be >= 0")
	}
	if p.RecentBonus < 0 || p.FreshBonus < 0 {
		return fmt.Errorf("recency bonuses must be >= 0")
	}
	if p.MediumThreshold >= p.HighThreshold || p.HighThreshold > p.CriticalThreshold {
		return fmt.Errorf("thresholds must satisfy medium < high <= critical (got %d, %d, %d)",
			p.MediumThreshold, p.HighThreshold, p.CriticalThreshold)
	}
	for _, rule := range p.Attribution {
		if strings.TrimSpace(rule.Agency) == "" || len(rule.Markers) == 0 {
			return fmt.Errorf("attribution rules need an agency and at least one marker")
		}
	}
	return nil
}

// Band maps a score onto an urgency band.
func (p Policy) Band(score int) regulatory.Urgency {
	switch {
	case score >= p.CriticalThreshold:
		return regulatory.UrgencyCritical
	case score >= p.HighThreshold:
		return regulatory.UrgencyHigh
	case score >= p.MediumThreshold:
		return regulatory.UrgencyMedium
	default:
		return regulatory.UrgencyLow
	}
}

func (p Policy) regionBonus(region string) int {
	return p.RegionBonus[strings.ToLower(strings.TrimSpace(region))]
}
