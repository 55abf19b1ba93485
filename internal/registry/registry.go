// Package registry loads and validates the source catalog.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

const (
	defaultTimeoutSeconds = 30
	minTimeoutSeconds     = 15
	maxTimeoutSeconds     = 45
)

type catalogFile struct {
	Sources []regulatory.Source `yaml:"sources"`
}

// LoadFile reads a YAML catalog, applies defaults and validates every entry.
func LoadFile(path string) ([]regulatory.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML catalog.
func Parse(raw []byte) ([]regulatory.Source, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode source catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Sources))
	var errs []error
	for i := range file.Sources {
		src := &file.Sources[i]
		ApplyDefaults(src)
		if err := Validate(*src); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[src.ID]; dup {
			errs = append(errs, fmt.Errorf("source %q: duplicate id", src.ID))
		}
		seen[src.ID] = struct{}{}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return file.Sources, nil
}

// ApplyDefaults fills optional fields.
func ApplyDefaults(src *regulatory.Source) {
	if src.TimeoutSeconds == 0 {
		src.TimeoutSeconds = defaultTimeoutSeconds
	}
	if src.Render == "" {
		src.Render = regulatory.RenderNever
	}
	if src.Name == "" {
		src.Name = src.ID
	}
}

// Validate checks a single catalog entry.
func Validate(src regulatory.Source) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("source %q: %s", src.ID, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(src.ID) == "" {
		return fmt.Errorf("source %q: id is required", src.Name)
	}
	if src.Agency == "" || src.Region == "" {
		return fail("agency and region are required")
	}
	if !src.Type.Valid() {
		return fail("unknown type %q", src.Type)
	}
	if src.PollIntervalMinutes <= 0 {
		return fail("poll_interval_minutes must be > 0")
	}
	if src.TimeoutSeconds < minTimeoutSeconds || src.TimeoutSeconds > maxTimeoutSeconds {
		return fail("timeout_seconds must be within %d-%d", minTimeoutSeconds, maxTimeoutSeconds)
	}
	switch src.Render {
	case regulatory.RenderNever, regulatory.RenderAuto, regulatory.RenderAlways:
	default:
		return fail("unknown render mode %q", src.Render)
	}
	if src.Render != regulatory.RenderNever && src.Type != regulatory.SourceTypeScraper {
		return fail("render is only supported for scraper sources")
	}
	if len(src.Endpoints) == 0 {
		return fail("at least one endpoint is required")
	}
	for _, ep := range src.Endpoints {
		if err := checkURL(ep.URL); err != nil {
			return fail("endpoint: %v", err)
		}
		if ep.FallbackURL != "" {
			if err := checkURL(ep.FallbackURL); err != nil {
				return fail("fallback_url: %v", err)
			}
		}
	}
	if src.DedupWindowDays < 0 {
		return fail("dedup_window_days must be >= 0")
	}
	if src.APIKeyParam != "" && src.APIKeyEnv == "" {
		return fail("api_key_param requires api_key_env")
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be http(s)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// Filter narrows an invocation to sources matching agency and region.
// Empty filters match everything; comparison ignores case.
type Filter struct {
	Agency string
	Region string
}

// Match reports whether src passes the filter.
func (f Filter) Match(src regulatory.Source) bool {
	if f.Agency != "" && !strings.EqualFold(f.Agency, src.Agency) {
		return false
	}
	if f.Region != "" && !strings.EqualFold(f.Region, src.Region) {
		return false
	}
	return true
}

// Active returns active sources passing the filter, highest priority first.
func Active(sources []regulatory.Source, f Filter) []regulatory.Source {
	out := make([]regulatory.Source, 0, len(sources))
	for _, src := range sources {
		if src.Active && f.Match(src) {
			out = append(out, src)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Due reports whether a source should run given its last run.
func Due(src regulatory.Source, lastRun time.Time, seen bool, now time.Time) bool {
	if !seen {
		return true
	}
	return now.Sub(lastRun) >= src.PollInterval()
}

// Upserter writes catalog rows.
type Upserter interface {
	UpsertSource(ctx context.Context, src regulatory.Source) error
}

// Sync writes every source to the store and returns how many were written.
func Sync(ctx context.Context, store Upserter, sources []regulatory.Source) (int, error) {
	for i, src := range sources {
		if err := Validate(src); err != nil {
			return i, err
		}
		if err := store.UpsertSource(ctx, src); err != nil {
			return i, err
		}
	}
	return len(sources), nil
}
