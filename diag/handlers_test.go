/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/acronis/go-callthrottle/log"
	"github.com/acronis/go-callthrottle/log/logtest"
	"github.com/acronis/go-callthrottle/restapi"
	"github.com/acronis/go-callthrottle/testutil"
	"github.com/acronis/go-callthrottle/throttle"
)

const testClass = "test_rpc"

type HandlersTestSuite struct {
	suite.Suite
	registry        *throttle.Registry
	throttleMetrics *throttle.PrometheusMetrics
	promRegistry    *prometheus.Registry
	metrics         *PrometheusMetrics
	logger          *logtest.Recorder
	router          chi.Router
}

func TestHandlers(t *testing.T) {
	suite.Run(t, &HandlersTestSuite{})
}

func (ts *HandlersTestSuite) SetupTest() {
	var err error
	throttleMetrics := throttle.NewPrometheusMetrics()
	ts.throttleMetrics = throttleMetrics
	ts.registry, err = throttle.NewRegistry(map[string]throttle.ClassConfig{
		testClass: {Config: throttle.Config{MaxRequests: 100, Window: time.Second, MaxConcurrent: 1}},
		"other":   {Config: throttle.Config{MaxRequests: 5, Window: time.Second, MaxConcurrent: 3}},
	}, throttle.RegistryOpts{Metrics: throttleMetrics})
	ts.Require().NoError(err)

	ts.promRegistry = prometheus.NewPedanticRegistry()
	throttleMetrics.MustRegister(ts.promRegistry)
	ts.metrics = NewPrometheusMetrics("")
	ts.logger = logtest.NewRecorder()
	ts.router = NewRouter(ts.registry, ts.logger, RouterOpts{
		Gatherer:    ts.promRegistry,
		Metrics:     ts.metrics,
		LogRequests: true,
	})
}

func (ts *HandlersTestSuite) TearDownTest() {
	ts.registry.ClearAll()
}

func (ts *HandlersTestSuite) serve(method, target string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, httptest.NewRequest(method, target, nil))
	return resp
}

func (ts *HandlersTestSuite) TestListThrottles() {
	resp := ts.serve(http.MethodGet, "/throttles")
	ts.Require().Equal(http.StatusOK, resp.Code)

	var body ThrottlesResponse
	ts.Require().NoError(json.Unmarshal(resp.Body.Bytes(), &body))
	ts.Require().Len(body.Throttles, 2)
	ts.Require().Equal("other", body.Throttles[0].Name)
	ts.Require().Equal(testClass, body.Throttles[1].Name)
	ts.Require().Equal(100, body.Throttles[1].MaxRequests)
	ts.Require().Equal(1, body.Throttles[1].MaxConcurrent)
	ts.Require().Nil(body.Throttles[1].BackoffUntil)
}

func (ts *HandlersTestSuite) TestGetThrottle() {
	_, err := throttle.Execute(context.Background(), ts.registry.MustGet(testClass), "eth_chainId",
		func(ctx context.Context) (string, error) { return "0x1", nil })
	ts.Require().NoError(err)

	resp := ts.serve(http.MethodGet, "/throttles/"+testClass)
	ts.Require().Equal(http.StatusOK, resp.Code)
	ts.Require().Equal(restapi.ContentTypeAppJSON, resp.Header().Get("Content-Type"))

	var stats throttle.Stats
	ts.Require().NoError(json.Unmarshal(resp.Body.Bytes(), &stats))
	ts.Require().Equal(testClass, stats.Name)
	ts.Require().Equal(uint64(1), stats.AdmittedTotal)
	ts.Require().Equal(1, stats.WindowAdmissions)
	ts.Require().Equal(0, stats.InFlight)
}

func (ts *HandlersTestSuite) TestUnknownThrottle() {
	resp := ts.serve(http.MethodGet, "/throttles/bitcoin_rpc")
	testutil.RequireErrorInRecorder(ts.T(), resp, http.StatusNotFound, ErrorDomain, "notFound")

	resp = ts.serve(http.MethodPost, "/throttles/bitcoin_rpc/clear")
	testutil.RequireErrorInRecorder(ts.T(), resp, http.StatusNotFound, ErrorDomain, "notFound")

	resp = ts.serve(http.MethodGet, "/unknown")
	testutil.RequireErrorInRecorder(ts.T(), resp, http.StatusNotFound, ErrorDomain, "notFound")

	resp = ts.serve(http.MethodGet, "/throttles/"+testClass+"/clear")
	testutil.RequireErrorInRecorder(ts.T(), resp, http.StatusMethodNotAllowed, ErrorDomain, "methodNotAllowed")
}

func (ts *HandlersTestSuite) TestClearThrottle() {
	inst := ts.registry.MustGet(testClass)

	release := make(chan struct{})
	blockerDone := make(chan error, 1)
	go func() {
		_, err := inst.Do(context.Background(), "blocker", 0, func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
		blockerDone <- err
	}()
	ts.Require().Eventually(func() bool { return inst.InFlight() == 1 }, time.Second*5, time.Millisecond)

	queuedErrs := make(chan error, 2)
	for _, key := range []string{"eth_getBalance", "eth_getCode"} {
		go func(key string) {
			_, err := inst.Do(context.Background(), key, 0, func(ctx context.Context) (interface{}, error) {
				return nil, errors.New("must not be executed")
			})
			queuedErrs <- err
		}(key)
	}
	ts.Require().Eventually(func() bool { return inst.QueueLen() == 2 }, time.Second*5, time.Millisecond)

	resp := ts.serve(http.MethodPost, "/throttles/"+testClass+"/clear")
	ts.Require().Equal(http.StatusOK, resp.Code)
	testutil.RequireJSONInRecorder(ts.T(), resp, &ClearResponse{Name: testClass, Canceled: 2}, &ClearResponse{})

	for i := 0; i < 2; i++ {
		ts.Require().ErrorIs(<-queuedErrs, throttle.ErrCanceled)
	}
	ts.Require().Equal(1, inst.InFlight())

	close(release)
	ts.Require().NoError(<-blockerDone)

	logEntry, found := ts.logger.FindEntry("throttle queue cleared")
	ts.Require().True(found)
	canceled, found := logEntry.FindField("canceled")
	ts.Require().True(found)
	ts.Require().Equal(int64(2), canceled.Int)
}

func (ts *HandlersTestSuite) TestHealthz() {
	resp := ts.serve(http.MethodGet, "/healthz")
	ts.Require().Equal(http.StatusOK, resp.Code)
	testutil.RequireJSONInRecorder(ts.T(), resp,
		&healthCheckResponseData{Components: map[string]bool{"throttle_other": true, "throttle_" + testClass: true}},
		&healthCheckResponseData{})
}

func (ts *HandlersTestSuite) TestMetrics() {
	_, err := throttle.Execute(context.Background(), ts.registry.MustGet("other"), "coins/list",
		func(ctx context.Context) (int, error) { return 1, nil })
	ts.Require().NoError(err)

	resp := ts.serve(http.MethodGet, "/metrics")
	ts.Require().Equal(http.StatusOK, resp.Code)
	ts.Require().Contains(resp.Body.String(), "throttle_admissions_total{")
	testutil.RequireSamplesCountInCounter(ts.T(), ts.throttleMetrics.AdmissionsTotal.WithLabelValues("other"), 1)

	hist := ts.metrics.RequestDuration.WithLabelValues(http.MethodGet, "/metrics", "200").(prometheus.Histogram)
	testutil.RequireSamplesCountInHistogram(ts.T(), hist, 1)
}

func (ts *HandlersTestSuite) TestRequestIDAndLogging() {
	req := httptest.NewRequest(http.MethodGet, "/throttles", nil)
	req.Header.Set(headerRequestID, "req-42")
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	ts.Require().Equal("req-42", resp.Header().Get(headerRequestID))

	resp = ts.serve(http.MethodGet, "/throttles")
	ts.Require().NotEmpty(resp.Header().Get(headerRequestID))
	ts.Require().NotEqual("req-42", resp.Header().Get(headerRequestID))

	logEntry, found := ts.logger.FindEntry("diag request done")
	ts.Require().True(found)
	ts.Require().Equal(log.LevelInfo, logEntry.Level)
	requestID, found := logEntry.FindField("request_id")
	ts.Require().True(found)
	ts.Require().Equal("req-42", string(requestID.Bytes))
}

func TestHealthCheckHandler(t *testing.T) {
	tests := []struct {
		name       string
		check      HealthCheck
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no components",
			check:      nil,
			wantStatus: http.StatusOK,
			wantBody:   `{"components":{}}`,
		},
		{
			name: "failed component",
			check: func(ctx context.Context) (HealthCheckResult, error) {
				return HealthCheckResult{"db": HealthCheckStatusOK, "upstream": HealthCheckStatusFail}, nil
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"components":{"db":true,"upstream":false}}`,
		},
		{
			name: "check error",
			check: func(ctx context.Context) (HealthCheckResult, error) {
				return nil, errors.New("boom")
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "client gone",
			check: func(ctx context.Context) (HealthCheckResult, error) {
				return nil, context.Canceled
			},
			wantStatus: StatusClientClosedRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			NewHealthCheckHandler(tt.check).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			require.Equal(t, tt.wantStatus, resp.Code)
			require.Equal(t, tt.wantBody, strings.TrimSpace(resp.Body.String()))
		})
	}
}

func TestThrottlesHealthCheck(t *testing.T) {
	registry, err := throttle.NewRegistry(map[string]throttle.ClassConfig{
		"flaky": {Config: throttle.Config{
			MaxRequests: 100, Window: time.Second, MaxConcurrent: 1,
			Backoff:    throttle.BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond},
			MaxRetries: 2,
		}},
	}, throttle.RegistryOpts{})
	require.NoError(t, err)

	check := ThrottlesHealthCheck(registry, 2)
	result, err := check(context.Background())
	require.NoError(t, err)
	require.Equal(t, HealthCheckResult{"throttle_flaky": HealthCheckStatusOK}, result)

	_, err = registry.MustGet("flaky").Do(context.Background(), "k", 0, func(ctx context.Context) (interface{}, error) {
		return nil, &softErr{}
	})
	var exhaustedErr *throttle.RetriesExhaustedError
	require.ErrorAs(t, err, &exhaustedErr)

	result, err = check(context.Background())
	require.NoError(t, err)
	require.Equal(t, HealthCheckResult{"throttle_flaky": HealthCheckStatusFail}, result)
}

func TestRecovery(t *testing.T) {
	logger := logtest.NewRecorder()
	router := chi.NewRouter()
	router.Use(requestIDMiddleware, loggingMiddleware(logger, false), recoveryMiddleware)
	router.Get("/panic", func(rw http.ResponseWriter, r *http.Request) {
		panic("unexpected state")
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/panic", nil))
	testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, ErrorDomain, "internalError")

	_, found := logger.FindEntry("Panic: unexpected state")
	require.True(t, found)
	logEntry, found := logger.FindEntry("diag request failed")
	require.True(t, found)
	require.Equal(t, log.LevelError, logEntry.Level)
}

func TestProfiling(t *testing.T) {
	registry, err := throttle.NewDefaultRegistry(throttle.RegistryOpts{})
	require.NoError(t, err)

	for _, enabled := range []bool{true, false} {
		router := NewRouter(registry, nil, RouterOpts{Profiling: enabled})
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
		if enabled {
			require.Equal(t, http.StatusOK, resp.Code)
		} else {
			testutil.RequireErrorInRecorder(t, resp, http.StatusNotFound, ErrorDomain, "notFound")
		}
	}
}

// softErr is classified as a soft failure by its status code.
type softErr struct{}

func (e *softErr) Error() string   { return "too many requests" }
func (e *softErr) StatusCode() int { return http.StatusTooManyRequests }
