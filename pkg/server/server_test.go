package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"probehub/pkg/auth"
	"probehub/pkg/ingest"
	"probehub/pkg/metrics"
	"probehub/pkg/mocks"
	"probehub/pkg/models"
	"probehub/pkg/query"
	"probehub/pkg/statuscache"
	"probehub/pkg/store"
	"probehub/pkg/store/sqlite"
)

const testSecret = "test-secret"

// ServerTestSuite runs the HTTP surface against SQLite and the memory cache
type ServerTestSuite struct {
	suite.Suite
	store   *sqlite.Store
	cache   *statuscache.Memory
	metrics *metrics.Metrics
	server  *Server
}

func (s *ServerTestSuite) SetupTest() {
	var err error
	s.store, err = sqlite.New(filepath.Join(s.T().TempDir(), "probehub.db"))
	s.Require().NoError(err)

	s.cache = statuscache.NewMemory(time.Minute)
	s.metrics = metrics.New()
	s.server = newTestServer(s.store, s.cache, s.metrics)
}

func (s *ServerTestSuite) TearDownTest() {
	s.cache.Close()
	s.store.Close()
}

func newTestServer(metricStore store.Store, cache statuscache.Cache, m *metrics.Metrics) *Server {
	ingestService := ingest.NewService(ingest.Config{Secret: testSecret}, auth.NewVerifier(auth.NewKeyCache()), metricStore, cache)
	queryService := query.NewService(query.Config{}, metricStore, cache)
	return New(Options{Version: "test-v1.0.0", Metrics: m}, ingestService, queryService, metricStore, cache)
}

func reportBody(nodeID, hostname string, cpu float64) []byte {
	doc := map[string]interface{}{
		"nodeId": nodeID,
		"snapshot": map[string]interface{}{
			"cpuPercent": cpu, "memUsedPercent": 63.1, "diskUsedPercent": 17,
			"netRxBytes": 1000, "netTxBytes": 2000, "uptimeSeconds": 86400,
		},
		"bandwidth": map[string]interface{}{
			"deltaRxBytes": 10, "deltaTxBytes": 20, "totalRxBytes": 9000000,
			"totalTxBytes": 4500000, "rxSpeed": 1000, "txSpeed": 500,
		},
		"meta": map[string]interface{}{"version": "0.1.0"},
	}
	if hostname != "" {
		doc["hostname"] = hostname
	}
	raw, _ := json.Marshal(doc)
	return raw
}

func signedRequest(path string, body []byte, at time.Time) *http.Request {
	ts := strconv.FormatInt(at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, auth.Sign([]byte(testSecret), ts, body))
	return req
}

func (s *ServerTestSuite) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *ServerTestSuite) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (s *ServerTestSuite) decode(rec *httptest.ResponseRecorder, out interface{}) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func (s *ServerTestSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var body map[string]interface{}
	s.decode(rec, &body)
	code, _ := body["error"].(string)
	return code
}

// TestIngestThenQuery tests the vm-1 example end to end
func (s *ServerTestSuite) TestIngestThenQuery() {
	rec := s.do(signedRequest("/v1/ingest", reportBody("vm-1", "web-01", 42.5), time.Now()))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.JSONEq(`{"ok":true}`, rec.Body.String())

	rec = s.get("/v1/nodes/vm-1")
	s.Require().Equal(http.StatusOK, rec.Code)
	var status models.NodeStatus
	s.decode(rec, &status)
	s.Equal("vm-1", status.ID)
	s.Equal("web-01", status.Name)
	s.Equal(models.StatusOnline, status.Status)
	s.Equal(42.5, status.CPU)
	s.Equal(uint64(1000), status.NetRxSpeed)
	s.InDelta(time.Now().UnixMilli(), status.LastSeen, float64(5*time.Second/time.Millisecond))

	rec = s.get("/nodes")
	s.Require().Equal(http.StatusOK, rec.Code)
	var statuses []models.NodeStatus
	s.decode(rec, &statuses)
	s.Require().Len(statuses, 1)
	s.Equal("vm-1", statuses[0].ID)

	rec = s.get("/nodes/vm-1/metrics?range=1h")
	s.Require().Equal(http.StatusOK, rec.Code)
	var points []models.MetricPoint
	s.decode(rec, &points)
	s.Require().Len(points, 1)
	s.Equal(42.5, points[0].CPU)
	s.Equal(63.1, points[0].Memory)
	s.Equal(status.LastSeen, points[0].TS)
}

// TestResendAppendsTwoRows tests idempotent re-send semantics
func (s *ServerTestSuite) TestResendAppendsTwoRows() {
	body := reportBody("vm-1", "", 10)
	now := time.Now()
	s.Require().Equal(http.StatusOK, s.do(signedRequest("/ingest", body, now)).Code)
	s.Require().Equal(http.StatusOK, s.do(signedRequest("/ingest", body, now)).Code)

	s.Require().Equal(http.StatusOK, s.do(signedRequest("/ingest", reportBody("vm-1", "", 20), now)).Code)

	var points []models.MetricPoint
	s.decode(s.get("/nodes/vm-1/metrics"), &points)
	s.Len(points, 3)

	var status models.NodeStatus
	s.decode(s.get("/nodes/vm-1"), &status)
	s.Equal(float64(20), status.CPU)
	s.Equal("vm-1", status.Name)
}

// TestIngestRejections tests the status and code of every rejection
func (s *ServerTestSuite) TestIngestRejections() {
	now := time.Now()
	body := reportBody("vm-1", "", 1)

	missing := signedRequest("/ingest", body, now)
	missing.Header.Del(headerTimestamp)

	stale := signedRequest("/ingest", body, now.Add(-301*time.Second))

	badSig := signedRequest("/ingest", body, now)
	badSig.Header.Set(headerSignature, strings.Repeat("0", 64))

	cases := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"missing timestamp", missing, http.StatusUnauthorized, "missing_timestamp"},
		{"stale timestamp", stale, http.StatusUnauthorized, "stale_timestamp"},
		{"bad signature", badSig, http.StatusUnauthorized, "invalid_signature"},
		{"invalid json", signedRequest("/ingest", []byte("{oops"), now), http.StatusBadRequest, "invalid_json"},
		{"invalid payload", signedRequest("/ingest", reportBody("bad id", "", 1), now), http.StatusBadRequest, "invalid_payload"},
		{"percent out of range", signedRequest("/ingest", reportBody("vm-1", "", 100.5), now), http.StatusBadRequest, "invalid_payload"},
	}

	for _, tc := range cases {
		rec := s.do(tc.req)
		s.Equal(tc.status, rec.Code, tc.name)
		var body map[string]interface{}
		s.decode(rec, &body)
		s.Equal(false, body["ok"], tc.name)
		s.Equal(tc.code, body["error"], tc.name)
	}

	var statuses []models.NodeStatus
	s.decode(s.get("/nodes"), &statuses)
	s.Empty(statuses)
}

// TestPayloadTooLarge tests the declared and streamed size limits
func (s *ServerTestSuite) TestPayloadTooLarge() {
	big := bytes.Repeat([]byte("x"), ingest.DefaultMaxBodyBytes+1)

	rec := s.do(signedRequest("/ingest", big, time.Now()))
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
	s.Equal("payload_too_large", s.errorCode(rec))

	// Unknown length forces the streamed check.
	req := signedRequest("/ingest", nil, time.Now())
	req.Body = io.NopCloser(bytes.NewReader(big))
	req.ContentLength = -1
	rec = s.do(req)
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
}

// TestGetNodeErrors tests invalid ids and unknown nodes
func (s *ServerTestSuite) TestGetNodeErrors() {
	rec := s.get("/nodes/bad%20id")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("invalid_id", s.errorCode(rec))

	rec = s.get("/nodes/vm%2F1")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("invalid_id", s.errorCode(rec))

	rec = s.get("/v1/nodes/ghost")
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", s.errorCode(rec))
}

// TestMetricsEndpointErrors tests unknown ids and bad ranges
func (s *ServerTestSuite) TestMetricsEndpointErrors() {
	rec := s.get("/nodes/unknown-id/metrics?range=1h")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`[]`, rec.Body.String())

	rec = s.get("/nodes/vm-1/metrics?range=7d")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("invalid_range", s.errorCode(rec))

	rec = s.get("/nodes/bad%20id/metrics")
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("invalid_id", s.errorCode(rec))
}

// TestNodeIDDecodedOnce tests an escaped percent sign is not decoded into
// another node's id
func (s *ServerTestSuite) TestNodeIDDecodedOnce() {
	s.Require().Equal(http.StatusOK, s.do(signedRequest("/ingest", reportBody("vm1", "", 5), time.Now())).Code)
	s.Require().Equal(http.StatusOK, s.get("/v1/nodes/vm1").Code)

	for _, path := range []string{"/v1/nodes/vm%2531", "/nodes/vm%2531", "/v1/nodes/vm%2531/metrics"} {
		rec := s.get(path)
		s.Equal(http.StatusBadRequest, rec.Code, path)
		s.Equal("invalid_id", s.errorCode(rec), path)
	}

	rec := s.get("/v1/nodes/vm%31")
	s.Equal(http.StatusOK, rec.Code)
	var status models.NodeStatus
	s.decode(rec, &status)
	s.Equal("vm1", status.ID)
}

// TestEmptyNodeList tests an empty array rather than null
func (s *ServerTestSuite) TestEmptyNodeList() {
	rec := s.get("/v1/nodes")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`[]`, rec.Body.String())
}

// TestRootAndDocs tests the supplemental endpoints
func (s *ServerTestSuite) TestRootAndDocs() {
	rec := s.get("/")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"service":"probehub","status":"ok","version":"test-v1.0.0"}`, rec.Body.String())

	rec = s.get("/openapi.yml")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "openapi: 3.0.3")

	rec = s.get("/healthz")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())
}

// TestNotFoundAndPanic tests the JSON error handler
func (s *ServerTestSuite) TestNotFoundAndPanic() {
	rec := s.get("/does/not/exist")
	s.Equal(http.StatusNotFound, rec.Code)
	s.JSONEq(`{"error":"not_found"}`, rec.Body.String())

	s.server.echo.GET("/boom", func(echo.Context) error { panic("boom") })
	rec = s.get("/boom")
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"error":"internal_error"}`, rec.Body.String())
}

// TestRequestID tests every response carries a request id
func (s *ServerTestSuite) TestRequestID() {
	rec := s.get("/")
	s.NotEmpty(rec.Header().Get(echo.HeaderXRequestID))
}

// TestPrometheusEndpoint tests outcomes are counted and exposed
func (s *ServerTestSuite) TestPrometheusEndpoint() {
	s.do(signedRequest("/ingest", reportBody("vm-1", "", 1), time.Now()))
	s.get("/nodes/ghost")

	rec := s.get("/metrics")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `probehub_ingest_requests_total{outcome="ok"} 1`)
	s.Contains(rec.Body.String(), `probehub_query_requests_total{endpoint="node",status="404"} 1`)
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

// FailureTestSuite injects storage failures through mocks
type FailureTestSuite struct {
	suite.Suite
	store  *mocks.MockStore
	cache  *mocks.MockCache
	server *Server
}

func (s *FailureTestSuite) SetupTest() {
	s.store = new(mocks.MockStore)
	s.cache = new(mocks.MockCache)
	s.server = newTestServer(s.store, s.cache, nil)
}

func (s *FailureTestSuite) TearDownTest() {
	s.store.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *FailureTestSuite) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

// TestDatabaseError tests db_error on a failed durable write
func (s *FailureTestSuite) TestDatabaseError() {
	s.store.On("RecordIngestion", mock.Anything, mock.Anything).Return(store.ErrDatabaseError).Once()

	rec := s.do(signedRequest("/ingest", reportBody("vm-1", "", 1), time.Now()))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"ok":false,"error":"db_error"}`, rec.Body.String())
}

// TestCacheError tests kv_error on a failed snapshot write
func (s *FailureTestSuite) TestCacheError() {
	s.store.On("RecordIngestion", mock.Anything, mock.Anything).Return(nil).Once()
	s.cache.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(statuscache.ErrCacheError).Once()

	rec := s.do(signedRequest("/ingest", reportBody("vm-1", "", 1), time.Now()))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"ok":false,"error":"kv_error"}`, rec.Body.String())
}

// TestGetNodeCacheError tests kv_error on an unreadable cache
func (s *FailureTestSuite) TestGetNodeCacheError() {
	s.cache.On("Get", mock.Anything, "vm-1").Return(models.NodeStatus{}, false, statuscache.ErrCacheError).Once()

	rec := s.do(httptest.NewRequest(http.MethodGet, "/nodes/vm-1", nil))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"error":"kv_error"}`, rec.Body.String())
}

// TestInvalidIDNeverTouchesStorage tests validation runs first
func (s *FailureTestSuite) TestInvalidIDNeverTouchesStorage() {
	rec := s.do(httptest.NewRequest(http.MethodGet, "/nodes/bad%20id", nil))
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/nodes/bad%20id/metrics?range=1h", nil))
	s.Equal(http.StatusBadRequest, rec.Code)

	s.cache.AssertNotCalled(s.T(), "Get", mock.Anything, mock.Anything)
	s.store.AssertNotCalled(s.T(), "MetricsSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestListNodesDatabaseError tests db_error on the node list
func (s *FailureTestSuite) TestListNodesDatabaseError() {
	s.store.On("ListRecentNodes", mock.Anything, query.DefaultNodeListLimit).Return(nil, store.ErrDatabaseError).Once()

	rec := s.do(httptest.NewRequest(http.MethodGet, "/nodes", nil))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"error":"db_error"}`, rec.Body.String())
}

// TestMetricsDatabaseError tests db_error on the range query
func (s *FailureTestSuite) TestMetricsDatabaseError() {
	s.store.On("MetricsSince", mock.Anything, "vm-1", mock.Anything, query.DefaultMetricRowLimit).Return(nil, store.ErrDatabaseError).Once()

	rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/nodes/vm-1/metrics", nil))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"error":"db_error"}`, rec.Body.String())
}

// TestHealthzUnavailable tests 503 when either store is down
func (s *FailureTestSuite) TestHealthzUnavailable() {
	s.store.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()
	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.JSONEq(`{"status":"unavailable","error":"db_error"}`, rec.Body.String())

	s.store.On("Ping", mock.Anything).Return(nil).Once()
	s.cache.On("Ping", mock.Anything).Return(statuscache.ErrCacheError).Once()
	rec = s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.JSONEq(`{"status":"unavailable","error":"kv_error"}`, rec.Body.String())
}

// TestMetricsRouteDisabled tests no scrape endpoint without instruments
func (s *FailureTestSuite) TestMetricsRouteDisabled() {
	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Equal(http.StatusNotFound, rec.Code)
}

func TestFailureSuite(t *testing.T) {
	suite.Run(t, new(FailureTestSuite))
}
