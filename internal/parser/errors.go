// Package parser turns fetched payloads into raw items. An empty, error-free
// result means the source had nothing to report.
package parser

import "fmt"

// ParseError means the payload no longer matches the expected structure.
type ParseError struct {
	FeedURL string
	Cause   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.FeedURL, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func parseErr(feedURL string, format string, args ...any) error {
	return &ParseError{FeedURL: feedURL, Cause: fmt.Errorf(format, args...)}
}
