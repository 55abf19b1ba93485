package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

var slackColors = map[Severity]string{
	SeverityCritical: "#d32f2f",
	SeverityWarning:  "#f9a825",
	SeverityInfo:     "#2e7d32",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

// Slack posts every severity to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack builds a Slack channel.
func NewSlack(webhookURL string, timeout time.Duration) *Slack {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Slack{webhookURL: webhookURL, client: &http.Client{Timeout: timeout}}
}

// Name implements Channel.
func (*Slack) Name() string { return "slack" }

// Accepts implements Channel.
func (*Slack) Accepts(Severity) bool { return true }

// Send implements Channel.
func (s *Slack) Send(ctx context.Context, n Notice) error {
	keys := make([]string, 0, len(n.Fields)+1)
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]slackField, 0, len(keys)+1)
	if n.Source != "" {
		fields = append(fields, slackField{Title: "Source", Value: n.Source, Short: true})
	}
	for _, k := range keys {
		fields = append(fields, slackField{Title: k, Value: n.Fields[k], Short: true})
	}
	msg := slackMessage{
		Text: fmt.Sprintf("[%s] %s", n.Severity, n.Title),
		Attachments: []slackAttachment{{
			Color:  slackColors[n.Severity],
			Title:  n.Title,
			Text:   n.Message,
			Fields: fields,
			Footer: "regalert",
			TS:     n.Timestamp.Unix(),
		}},
	}
	return postJSON(ctx, s.client, s.Name(), s.webhookURL, msg, nil)
}

func postJSON(ctx context.Context, client *http.Client, channel, target string, body any, headers map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", channel, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Channel: channel, StatusCode: resp.StatusCode}
	}
	return nil
}
