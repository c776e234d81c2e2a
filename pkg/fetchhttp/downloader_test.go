package fetchhttp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloader_Download_VerifiesSHA256(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello envy"))
	}))
	defer srv.Close()

	sum := sha256.Sum256([]byte("hello envy"))
	want := hex.EncodeToString(sum[:])

	d := New(WithRateLimitPerHost(100))
	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, d.Download(context.Background(), srv.URL, dest, want))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello envy", string(data))
}

func TestDownloader_Download_MismatchIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello envy"))
	}))
	defer srv.Close()

	d := New(WithRateLimitPerHost(100))
	dest := filepath.Join(t.TempDir(), "out.bin")
	err := d.Download(context.Background(), srv.URL, dest, "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	require.Error(t, err)

	e, ok := envyerrors.As(err, envyerrors.KindHashMismatch)
	require.True(t, ok)
	assert.Equal(t, envyerrors.KindHashMismatch, e.Kind)
	assert.NoFileExists(t, dest)
}

func TestDownloader_Download_NonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New()
	dest := filepath.Join(t.TempDir(), "out.bin")
	err := d.Download(context.Background(), srv.URL, dest, "")
	assert.Error(t, err)
}
