package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "call-1.mp3", ObjectKey("call-1"))
	assert.Equal(t, "abc.mp3", ObjectKey("abc"))
}

func TestIsCongestion(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"EAGAIN", syscall.EAGAIN, true},
		{"ECONNRESET", syscall.ECONNRESET, true},
		{"wrapped ECONNRESET", fmt.Errorf("write failed: %w", syscall.ECONNRESET), true},
		{"wrapped generic", fmt.Errorf("write failed: %w", errors.New("boom")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCongestion(tt.err))
		})
	}
}

func TestFetchReadsFullBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "mp3-bytes")
	}))
	t.Cleanup(srv.Close)

	b := &Bucket{httpc: srv.Client()}
	body, err := b.fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), body)
}

func TestFetchRejectsNonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	b := &Bucket{httpc: srv.Client()}
	_, err := b.fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	b := &Bucket{httpc: &http.Client{}}
	_, err := b.fetch(context.Background(), url)
	assert.Error(t, err)
}
