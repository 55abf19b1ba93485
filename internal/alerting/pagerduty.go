package alerting

import (
	"context"
	"net/http"
	"time"
)

// DefaultPagerDutyURL is the Events API v2 enqueue endpoint.
const DefaultPagerDutyURL = "https://events.pagerduty.com/v2/enqueue"

type pdPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp"`
	Component     string            `json:"component,omitempty"`
	CustomDetails map[string]string `json:"custom_details,omitempty"`
}

type pdEvent struct {
	RoutingKey  string    `json:"routing_key"`
	EventAction string    `json:"event_action"`
	DedupKey    string    `json:"dedup_key,omitempty"`
	Payload     pdPayload `json:"payload"`
}

// PagerDuty triggers incidents for critical notices only.
type PagerDuty struct {
	routingKey string
	url        string
	client     *http.Client
}

// NewPagerDuty builds a PagerDuty channel. An empty url uses the public
// Events v2 endpoint.
func NewPagerDuty(routingKey, url string, timeout time.Duration) *PagerDuty {
	if url == "" {
		url = DefaultPagerDutyURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PagerDuty{routingKey: routingKey, url: url, client: &http.Client{Timeout: timeout}}
}

// Name implements Channel.
func (*PagerDuty) Name() string { return "pagerduty" }

// Accepts implements Channel.
func (*PagerDuty) Accepts(sev Severity) bool { return sev == SeverityCritical }

// Send implements Channel.
func (p *PagerDuty) Send(ctx context.Context, n Notice) error {
	details := make(map[string]string, len(n.Fields)+1)
	for k, v := range n.Fields {
		details[k] = v
	}
	if n.Message != "" {
		details["message"] = n.Message
	}
	source := n.Source
	if source == "" {
		source = "regalert"
	}
	event := pdEvent{
		RoutingKey:  p.routingKey,
		EventAction: "trigger",
		DedupKey:    "regalert:" + source + ":" + n.Title,
		Payload: pdPayload{
			Summary:       n.Title,
			Source:        source,
			Severity:      string(SeverityCritical),
			Timestamp:     n.Timestamp.UTC().Format(time.RFC3339),
			Component:     "ingestion",
			CustomDetails: details,
		},
	}
	return postJSON(ctx, p.client, p.Name(), p.url, event, nil)
}
