package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s3Stub answers the handful of S3 calls New and Put make.
type s3Stub struct {
	mu   sync.Mutex
	puts map[string]string
}

func (s *s3Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Query().Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`))
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		s.mu.Lock()
		s.puts[r.URL.Path] = r.Header.Get("Content-Type")
		s.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func TestStore_Put(t *testing.T) {
	stub := &s3Stub{puts: map[string]string{}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	store, err := New(context.Background(), host, "us-east-1", "codesec", "key", "secret", false)
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "runs/abc/tool-output.json", []byte(`{"results":[]}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "http://"+host+"/codesec/runs/abc/tool-output.json", url)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, "application/json", stub.puts["/codesec/runs/abc/tool-output.json"])
}

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "https://s3.local/b/k.json", objectURL("https", "s3.local", "b", "/k.json"))
	assert.Equal(t, "http://s3.local/b/k", objectURL("", "s3.local", "b", "k"))
}
