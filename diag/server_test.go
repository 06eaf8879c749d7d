/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-callthrottle/config"
	"github.com/acronis/go-callthrottle/log/logtest"
	"github.com/acronis/go-callthrottle/testutil"
	"github.com/acronis/go-callthrottle/throttle"
)

func newTestServer(t *testing.T, addr string, opts Opts) (*Server, *logtest.Recorder) {
	t.Helper()
	registry, err := throttle.NewDefaultRegistry(throttle.RegistryOpts{})
	require.NoError(t, err)
	cfg := NewDefaultConfig()
	cfg.Address = addr
	cfg.Timeouts.Shutdown = config.TimeDuration(time.Second)
	logger := logtest.NewRecorder()
	return NewServer(cfg, registry, logger, opts), logger
}

func TestServer_StartStop(t *testing.T) {
	promRegistry := prometheus.NewPedanticRegistry()
	srv, logger := newTestServer(t, testutil.GetLocalAddrWithFreeTCPPort(), Opts{Registerer: promRegistry, Gatherer: promRegistry})
	srv.MustRegisterMetrics()
	defer srv.UnregisterMetrics()

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(srv.HTTPServer.Addr, time.Second*3))

	resp, err := http.Get(fmt.Sprintf("http://%s/throttles", srv.HTTPServer.Addr))
	require.NoError(t, err)
	var body ThrottlesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Throttles, 3)
	require.Equal(t, throttle.ClassEthereumRPC, body.Throttles[0].Name)

	require.NoError(t, srv.Stop(true))
	testutil.RequireNoErrorInChannel(t, fatalErr)

	_, found := logger.FindEntry("diagnostics HTTP server shut down")
	require.True(t, found)
	_, found = logger.FindEntry("diagnostics HTTP server closed")
	require.True(t, found)
}

func TestServer_StopNotGracefully(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, _ := newTestServer(t, "", Opts{Listener: listener})

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(listener.Addr().String(), time.Second*3))
	require.Equal(t, listener.Addr().String(), srv.Addr().String())

	require.NoError(t, srv.Stop(false))
	testutil.RequireNoErrorInChannel(t, fatalErr)
}

func TestServer_ListenError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { require.NoError(t, busy.Close()) }()

	srv, logger := newTestServer(t, busy.Addr().String(), Opts{})
	fatalErr := make(chan error, 1)
	srv.Start(fatalErr)

	testutil.RequireErrorInChannel(t, fatalErr, time.Second)
	_, found := logger.FindEntry("diagnostics HTTP server error")
	require.True(t, found)
	require.NoError(t, srv.Stop(true))
}
