// Package archive stores raw fetched payloads under content-addressed paths.
package archive

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// Archiver writes payload snapshots to a blob store.
type Archiver struct {
	blobs  regulatory.BlobStore
	hasher regulatory.Hasher
	clock  regulatory.Clock
	prefix string
}

// New builds an Archiver. prefix may be empty.
func New(blobs regulatory.BlobStore, hasher regulatory.Hasher, clock regulatory.Clock, prefix string) *Archiver {
	return &Archiver{
		blobs:  blobs,
		hasher: hasher,
		clock:  clock,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Store writes body as <prefix>/<source-id>/<yyyy>/<mm>/<dd>/<sha256>.<ext>
// and returns the blob URI.
func (a *Archiver) Store(ctx context.Context, sourceID, contentType string, body []byte) (string, error) {
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	path := a.Path(sourceID, digest, contentType)
	uri, err := a.blobs.PutObject(ctx, path, contentType, body)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return uri, nil
}

// Path builds the object path for a payload digest.
func (a *Archiver) Path(sourceID, digest, contentType string) string {
	day := a.clock.Now().UTC().Format("2006/01/02")
	name := fmt.Sprintf("%s/%s/%s.%s", sanitize(sourceID), day, digest, Extension(contentType))
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// Extension maps a Content-Type onto a file extension.
func Extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.Contains(mediaType, "json"):
		return "json"
	case strings.Contains(mediaType, "rss"), strings.Contains(mediaType, "atom"), strings.Contains(mediaType, "xml"):
		return "xml"
	case strings.Contains(mediaType, "html"):
		return "html"
	default:
		return "bin"
	}
}

func sanitize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
