package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDirectory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/entities/ent-1":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"ent-1"}`))
		case "/entities/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dir := NewHTTPDirectory(server.URL+"/", "entities", server.Client())
	ctx := context.Background()

	ok, err := dir.Exists(ctx, "ent-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.Exists(ctx, "ent-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = dir.Exists(ctx, "broken")
	assert.ErrorContains(t, err, "status code 502")
}

func TestHTTPDirectoryUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHTTPDirectory(url, "users", nil).Exists(context.Background(), "u-1")
	assert.Error(t, err)
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemoryDirectory("u-1")
	dir.Add("u-2")

	for id, want := range map[string]bool{"u-1": true, "u-2": true, "u-3": false} {
		got, err := dir.Exists(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}
