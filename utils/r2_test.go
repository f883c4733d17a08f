package utils

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	appconfig "data-marketplace/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestR2ArchiverPutsObject(t *testing.T) {
	var gotPath, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewR2Archiver(context.Background(), appconfig.ArchiveConfig{
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "receipts",
		Endpoint:        srv.URL,
	})
	require.NoError(t, err)

	err = a.Archive(context.Background(), "archive/opt-outs/u1/1.json", []byte(`{"success":true}`))
	require.NoError(t, err)
	assert.Equal(t, "/receipts/archive/opt-outs/u1/1.json", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Contains(t, gotBody, `{"success":true}`)
}

func TestNoopArchiver(t *testing.T) {
	assert.NoError(t, NoopArchiver{}.Archive(context.Background(), "k", nil))
}
