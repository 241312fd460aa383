package httpclient

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadFile_Success(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://example.test/labels.csv",
		httpmock.NewStringResponder(http.StatusOK, "index,mid,display_name\n"))
	client := newTestClient(t, &Config{Transport: mock})

	dest := filepath.Join(t.TempDir(), "a", "b", "labels.csv")
	n, err := client.DownloadFile(t.Context(), "https://example.test/labels.csv", dest, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(23), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "index,mid,display_name\n", string(data))
	assert.NoFileExists(t, dest+PartialSuffix)
}

func TestDownloadFile_FailureRemovesStaleAndPartial(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://example.test/model.pth",
		httpmock.NewStringResponder(http.StatusInternalServerError, "oops"))
	client := newTestClient(t, &Config{Transport: mock})

	dest := filepath.Join(t.TempDir(), "model.pth")
	require.NoError(t, os.WriteFile(dest, []byte("truncated"), 0o600))

	_, err := client.DownloadFile(t.Context(), "https://example.test/model.pth", dest, nil, nil)
	require.Error(t, err)
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+PartialSuffix)
}

func TestDownloadFile_CheckRejects(t *testing.T) {
	t.Parallel()

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, "https://example.test/model.pth",
		httpmock.NewStringResponder(http.StatusOK, "tiny"))
	client := newTestClient(t, &Config{Transport: mock})

	dest := filepath.Join(t.TempDir(), "model.pth")
	_, err := client.DownloadFile(t.Context(), "https://example.test/model.pth", dest, nil, func(n int64) error {
		return fmt.Errorf("only %d bytes", n)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only 4 bytes")
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+PartialSuffix)
}
