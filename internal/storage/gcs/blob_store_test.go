package gcs

import (
	"context"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "reports"})
	require.ErrorContains(t, err, "client")

	client := &storage.Client{}
	_, err = New(client, Config{Bucket: "  "})
	require.ErrorContains(t, err, "bucket")

	_, err = New(client, Config{Bucket: "gs://reports"})
	require.ErrorContains(t, err, "bare name")

	meta := map[string]string{"source": "crawl-console"}
	store, err := New(client, Config{Bucket: "reports", Metadata: meta})
	require.NoError(t, err)
	meta["source"] = "mutated"
	require.Equal(t, "crawl-console", store.metadata["source"])
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "reports"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "/", "application/json", strings.NewReader("{}"))
	require.ErrorContains(t, err, "path is required")
}
