package testutil

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lnflash/flash-fedi-mod/internal/flash"
	"github.com/lnflash/flash-fedi-mod/internal/sandbox"
)

// StartSandbox runs an in-process sandbox backend and returns a client wired
// to it. The server is torn down with the test.
func StartSandbox(t *testing.T, cfg sandbox.Config, features flash.Features) (*httptest.Server, *flash.Client) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	srv, err := sandbox.New(cfg, entry)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := flash.New(flash.Config{
		BaseURL:  ts.URL,
		APIKey:   cfg.APIKey,
		Features: features,
		Logger:   entry,
	})
	require.NoError(t, err)
	return ts, client
}
