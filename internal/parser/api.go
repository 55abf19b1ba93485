package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

const defaultResultsPath = "results"

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// ParseAPI extracts rows from a JSON payload using the source schema. A
// missing or empty results array yields no items and no error.
func ParseAPI(body []byte, schema regulatory.APISchema, feedURL string) ([]regulatory.RawItem, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{FeedURL: feedURL, Cause: fmt.Errorf("decode json: %w", err)}
	}

	rows, found, err := resultsArray(doc, schema.ResultsPath)
	if err != nil {
		return nil, &ParseError{FeedURL: feedURL, Cause: err}
	}
	if !found || len(rows) == 0 {
		return nil, nil
	}

	titleFields := schema.TitleFields
	if len(titleFields) == 0 {
		titleFields = []string{"title"}
	}

	items := make([]regulatory.RawItem, 0, len(rows))
	var rejected []string
	for i, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			rejected = append(rejected, fmt.Sprintf("row %d is %T", i, raw))
			continue
		}
		if missing := missingRequired(row, schema.Required); missing != "" {
			rejected = append(rejected, fmt.Sprintf("row %d missing %s", i, missing))
			continue
		}
		item := regulatory.RawItem{
			Title:       joinFields(row, titleFields),
			Link:        link(row, schema),
			Description: CleanText(lookupString(row, schema.DescriptionField)),
			PubDate:     lookupString(row, schema.DateField),
			GUID:        lookupString(row, schema.GUIDField),
			SourceRef:   feedURL,
			Extra:       scalars(row),
		}
		if item.Title == "" {
			rejected = append(rejected, fmt.Sprintf("row %d has no title", i))
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, &ParseError{FeedURL: feedURL, Cause: fmt.Errorf("all %d rows rejected: %s", len(rows), strings.Join(rejected, "; "))}
	}
	return items, nil
}

func resultsArray(doc any, path string) ([]any, bool, error) {
	if path == "" {
		path = defaultResultsPath
	}
	if path == "." {
		arr, ok := doc.([]any)
		if !ok {
			return nil, false, fmt.Errorf("expected top-level array, got %T", doc)
		}
		return arr, true, nil
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("expected json object, got %T", doc)
	}
	value, found := lookup(obj, path)
	if !found || value == nil {
		return nil, false, nil
	}
	arr, ok := value.([]any)
	if !ok {
		return nil, false, fmt.Errorf("%s is %T, not an array", path, value)
	}
	return arr, true, nil
}

// lookup walks a dot-separated path through nested objects.
func lookup(obj map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lookupString(obj map[string]any, path string) string {
	value, ok := lookup(obj, path)
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringify(value))
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(v))
		for _, entry := range v {
			if s := stringify(entry); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func missingRequired(row map[string]any, required []string) string {
	for _, field := range required {
		if lookupString(row, field) == "" {
			return field
		}
	}
	return ""
}

func joinFields(row map[string]any, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		if v := CleanText(lookupString(row, field)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " - ")
}

func link(row map[string]any, schema regulatory.APISchema) string {
	if v := lookupString(row, schema.LinkField); v != "" {
		return v
	}
	if schema.LinkTemplate == "" {
		return ""
	}
	var missing error
	out := placeholderPattern.ReplaceAllStringFunc(schema.LinkTemplate, func(m string) string {
		field := m[1 : len(m)-1]
		v := lookupString(row, field)
		if v == "" {
			missing = errors.New(field)
		}
		return v
	})
	if missing != nil {
		return ""
	}
	return out
}

// scalars keeps top-level scalar fields for the raw payload snapshot.
func scalars(row map[string]any) map[string]string {
	out := make(map[string]string, len(row))
	for key, value := range row {
		if _, nested := value.(map[string]any); nested {
			continue
		}
		if s := stringify(value); s != "" {
			out[key] = s
		}
	}
	return out
}
