package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// HTTPSummarizer posts alert text to an external summary endpoint.
type HTTPSummarizer struct {
	endpoint string
	apiKey   string
	maxChars int
	client   *http.Client
}

// NewHTTPSummarizer builds a summarizer for endpoint.
func NewHTTPSummarizer(endpoint, apiKey string, timeout time.Duration, maxChars int) *HTTPSummarizer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSummarizer{
		endpoint: endpoint,
		apiKey:   apiKey,
		maxChars: maxChars,
		client:   &http.Client{Timeout: timeout},
	}
}

type summaryRequest struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	Agency   string `json:"agency"`
	MaxChars int    `json:"max_chars"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// Summarize implements regulatory.Summarizer.
func (s *HTTPSummarizer) Summarize(ctx context.Context, alert regulatory.Alert) (string, error) {
	body, err := json.Marshal(summaryRequest{
		Title:    alert.Title,
		Text:     alert.Description,
		Agency:   alert.Agency,
		MaxChars: s.maxChars,
	})
	if err != nil {
		return "", fmt.Errorf("encode summary request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build summary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("summary endpoint returned %d", resp.StatusCode)
	}
	var out summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode summary response: %w", err)
	}
	return out.Summary, nil
}

// Truncate shortens text to at most maxChars runes, cutting at a word
// boundary when one is close and appending an ellipsis.
func Truncate(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	if maxChars <= 3 {
		return string(runes[:maxChars])
	}
	cut := string(runes[:maxChars-3])
	if idx := strings.LastIndex(cut, " "); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}
