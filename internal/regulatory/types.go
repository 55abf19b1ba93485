// Package regulatory defines core types shared across the ingestion pipeline.
package regulatory

import (
	"strings"
	"time"
)

// SourceType selects the connector used for a source.
type SourceType string

// Supported connector variants.
const (
	SourceTypeAPI     SourceType = "api"
	SourceTypeRSS     SourceType = "rss"
	SourceTypeScraper SourceType = "scraper"
)

// Valid reports whether t names a known connector variant.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeAPI, SourceTypeRSS, SourceTypeScraper:
		return true
	default:
		return false
	}
}

// RenderMode controls headless promotion for scraper sources.
type RenderMode string

// Render modes understood by the scraper connector.
const (
	RenderNever  RenderMode = "never"
	RenderAuto   RenderMode = "auto"
	RenderAlways RenderMode = "always"
)

// Endpoint is one fetchable URL belonging to a source.
type Endpoint struct {
	URL string `json:"url" yaml:"url" mapstructure:"url"`
	// FallbackURL is an RSS feed fetched when the endpoint keeps failing with a
	// fallback-eligible status.
	FallbackURL string `json:"fallback_url,omitempty" yaml:"fallback_url" mapstructure:"fallback_url"`
	// SimplifyParams are query parameters dropped for the single retry after a 400.
	SimplifyParams []string `json:"simplify_params,omitempty" yaml:"simplify_params" mapstructure:"simplify_params"`
}

// APISchema maps a JSON API payload onto RawItem fields.
type APISchema struct {
	ResultsPath      string   `json:"results_path,omitempty" yaml:"results_path" mapstructure:"results_path"`
	TitleFields      []string `json:"title_fields,omitempty" yaml:"title_fields" mapstructure:"title_fields"`
	LinkField        string   `json:"link_field,omitempty" yaml:"link_field" mapstructure:"link_field"`
	LinkTemplate     string   `json:"link_template,omitempty" yaml:"link_template" mapstructure:"link_template"`
	DescriptionField string   `json:"description_field,omitempty" yaml:"description_field" mapstructure:"description_field"`
	DateField        string   `json:"date_field,omitempty" yaml:"date_field" mapstructure:"date_field"`
	GUIDField        string   `json:"guid_field,omitempty" yaml:"guid_field" mapstructure:"guid_field"`
	// Required lists fields every row must carry; rows missing one are rejected.
	Required []string `json:"required,omitempty" yaml:"required" mapstructure:"required"`
	// NotFoundIsEmpty treats a 404 as "no matching rows" (openFDA does this).
	NotFoundIsEmpty bool `json:"not_found_is_empty,omitempty" yaml:"not_found_is_empty" mapstructure:"not_found_is_empty"`
}

// ScraperSelectors overrides the default row strategies for HTML sources.
type ScraperSelectors struct {
	Rows    []string `json:"rows,omitempty" yaml:"rows" mapstructure:"rows"`
	Title   string   `json:"title,omitempty" yaml:"title" mapstructure:"title"`
	Link    string   `json:"link,omitempty" yaml:"link" mapstructure:"link"`
	Date    string   `json:"date,omitempty" yaml:"date" mapstructure:"date"`
	Company string   `json:"company,omitempty" yaml:"company" mapstructure:"company"`
	Subject string   `json:"subject,omitempty" yaml:"subject" mapstructure:"subject"`
}

// Source is one catalog entry in the source registry.
type Source struct {
	ID                  string           `json:"id" yaml:"id"`
	Name                string           `json:"name" yaml:"name"`
	Agency              string           `json:"agency" yaml:"agency"`
	Region              string           `json:"region" yaml:"region"`
	Type                SourceType       `json:"type" yaml:"type"`
	BaseURL             string           `json:"base_url,omitempty" yaml:"base_url"`
	Endpoints           []Endpoint       `json:"endpoints" yaml:"endpoints"`
	PollIntervalMinutes int              `json:"poll_interval_minutes" yaml:"poll_interval_minutes"`
	Priority            int              `json:"priority" yaml:"priority"`
	Keywords            []string         `json:"keywords,omitempty" yaml:"keywords"`
	Active              bool             `json:"active" yaml:"active"`
	TimeoutSeconds      int              `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
	APIKeyEnv           string           `json:"api_key_env,omitempty" yaml:"api_key_env"`
	APIKeyParam         string           `json:"api_key_param,omitempty" yaml:"api_key_param"`
	Schema              APISchema        `json:"schema,omitempty" yaml:"schema"`
	Selectors           ScraperSelectors `json:"selectors,omitempty" yaml:"selectors"`
	Render              RenderMode       `json:"render,omitempty" yaml:"render"`
	DedupWindowDays     int              `json:"dedup_window_days,omitempty" yaml:"dedup_window_days"`
	DedupByURL          bool             `json:"dedup_by_url,omitempty" yaml:"dedup_by_url"`
	LastSuccessfulFetch *time.Time       `json:"last_successful_fetch,omitempty" yaml:"-"`
	LastError           string           `json:"last_error,omitempty" yaml:"-"`
}

// PollInterval converts the configured minutes to a duration.
func (s Source) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMinutes) * time.Minute
}

// ResultKey is the `<agency>_<region>` label used in run summaries.
func (s Source) ResultKey() string {
	return strings.ToLower(s.Agency) + "_" + strings.ToLower(s.Region)
}

// RawItem is the transient output of a parser.
type RawItem struct {
	Title       string            `json:"title"`
	Link        string            `json:"link,omitempty"`
	Description string            `json:"description,omitempty"`
	PubDate     string            `json:"pub_date,omitempty"`
	GUID        string            `json:"guid,omitempty"`
	SourceRef   string            `json:"source_ref"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Urgency is the ordinal severity band of an alert.
type Urgency string

// Urgency bands, lowest first.
const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

// Rank orders urgency bands so callers can compare them.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyMedium:
		return 1
	case UrgencyHigh:
		return 2
	case UrgencyCritical:
		return 3
	default:
		return 0
	}
}

// SignalType is the coarse regulatory nature of an alert.
type SignalType string

// Signal types in detection precedence order.
const (
	SignalRecall        SignalType = "Recall"
	SignalWarningLetter SignalType = "Warning Letter"
	SignalGuidance      SignalType = "Guidance"
	SignalRuleChange    SignalType = "Rule Change"
	SignalMarket        SignalType = "Market Signal"
)

// Alert is the durable record for one regulatory notice.
type Alert struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Source        string     `json:"source"`
	Agency        string     `json:"agency"`
	Region        string     `json:"region"`
	Urgency       Urgency    `json:"urgency"`
	UrgencyScore  int        `json:"urgency_score"`
	SignalType    SignalType `json:"signal_type"`
	Summary       string     `json:"summary"`
	PublishedDate time.Time  `json:"published_date"`
	ExternalURL   string     `json:"external_url,omitempty"`
	FullContent   string     `json:"full_content,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	// Description is the cleaned raw description used by the classifier and
	// summary fallback. It is not persisted separately.
	Description string `json:"-"`
}

// FetchStatus is the outcome label recorded in data_freshness.
type FetchStatus string

// Freshness statuses.
const (
	FetchStatusSuccess    FetchStatus = "success"
	FetchStatusFallback   FetchStatus = "fallback"
	FetchStatusNoResults  FetchStatus = "no_results"
	FetchStatusParseError FetchStatus = "parse_error"
	FetchStatusFailed     FetchStatus = "failed"
)

// HealthState is the circuit-breaker view of a source.
type HealthState string

// Health states; sources move between them across runs.
const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthRecord is the per-source freshness row.
type HealthRecord struct {
	SourceName          string      `json:"source_name"`
	LastAttempt         time.Time   `json:"last_attempt"`
	LastSuccessfulFetch *time.Time  `json:"last_successful_fetch,omitempty"`
	FetchStatus         FetchStatus `json:"fetch_status"`
	RecordsFetched      int         `json:"records_fetched"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	State               HealthState `json:"state"`
	LastError           string      `json:"last_error,omitempty"`
}

// RunState is the scheduler state of one source within an invocation.
type RunState string

// Scheduler states.
const (
	RunIdle      RunState = "idle"
	RunDue       RunState = "due"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunSkipped   RunState = "skipped"
)

// DuplicateQuery describes the dedup lookup for one candidate alert.
type DuplicateQuery struct {
	Title       string
	Source      string
	ExternalURL string
	Reference   time.Time
	Window      time.Duration
	URLWindow   time.Duration
}
