package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL+"/storage/v1/"),
		option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "raw-payloads"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploads(t *testing.T) {
	var gotName, gotBody string
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get("name")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"` + gotName + `","bucket":"raw-payloads"}`))
	}))

	uri, err := store.PutObject(context.Background(), "raw/fda/2025/03/10/abc.json", "application/json", []byte(`{"results":[]}`))
	require.NoError(t, err)
	require.Equal(t, "gs://raw-payloads/raw/fda/2025/03/10/abc.json", uri)
	require.Equal(t, "raw/fda/2025/03/10/abc.json", gotName)
	require.Contains(t, gotBody, `{"results":[]}`)
}

func TestPutObjectExistingObjectIsNotAnError(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = w.Write([]byte(`{"error":{"code":412,"message":"conditionNotMet"}}`))
	}))

	uri, err := store.PutObject(context.Background(), "raw/a.json", "", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "gs://raw-payloads/raw/a.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "raw/a.json", "", []byte("x"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
