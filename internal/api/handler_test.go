package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-relief-ledger/internal/auth"
	"github.com/mr1hm/go-relief-ledger/internal/ledger"
	"github.com/mr1hm/go-relief-ledger/internal/metrics"
	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
	"github.com/mr1hm/go-relief-ledger/internal/severity"
)

const (
	testSecret = "handler-test-secret-0123"
	owner      = "owner@relief"
)

type testServer struct {
	router *gin.Engine
	db     *repository.SQLiteDB
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	// Audit synchronously so tests can read the log right away.
	notifier := ledger.NotifierFunc(func(n models.Notification) {
		_ = db.AppendAudit(context.Background(), n)
	})
	l, err := ledger.New(context.Background(), ledger.Config{
		Owner:           owner,
		ConflictRetries: 3,
		Scoring:         severity.DefaultConfig(),
		Clock:           clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Metrics:         m,
	}, db, notifier)
	require.NoError(t, err)

	h := NewHandler(l, db, db, m, Config{JWTSecret: testSecret, MaxUploadBytes: 1 << 20})
	return &testServer{
		router: NewRouter(h, RouterConfig{AllowedOrigins: []string{"http://localhost:3000"}}),
		db:     db,
	}
}

func token(t *testing.T, principal string) string {
	t.Helper()
	tok, err := auth.GenerateToken(principal, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a JSON request, authenticated as principal when it is non-empty.
func (s *testServer) do(t *testing.T, method, path, principal string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, principal))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func floodReport(seed string) map[string]any {
	sum := sha256.Sum256([]byte(seed))
	return map[string]any{
		"category":              "flood",
		"location":              "Chennai",
		"fingerprint":           hex.EncodeToString(sum[:]),
		"probabilities":         map[string]float64{"low": 0.1, "medium": 0.3, "high": 0.6},
		"rainfall_mm":           150,
		"water_level_cm":        100,
		"population_affected":   10000,
		"infrastructure_damage": 75,
		"impact_area_km2":       50,
	}
}

// verifiedEvent creates and verifies an event and returns its id.
func (s *testServer) verifiedEvent(t *testing.T, seed string) int64 {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/events", "reporter-1", floodReport(seed))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := int64(decode(t, w)["id"].(float64))

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/verify", id), owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestCreateEvent_JSON(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/events", "reporter-1", floodReport("img-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "HIGH", body["severity_level"])
	assert.Equal(t, 72.75, body["severity_score"])
	assert.Equal(t, false, body["verified"])
	assert.Equal(t, "reporter-1", body["reporter"])

	w = s.do(t, http.MethodPost, "/api/events", "reporter-2", floodReport("img-1"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate", decode(t, w)["reason"])
}

func TestCreateEvent_RequiresToken(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/events", "", floodReport("img-1"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateEvent_BadInput(t *testing.T) {
	s := setupTestServer(t)

	report := floodReport("img-1")
	report["fingerprint"] = "zz"
	w := s.do(t, http.MethodPost, "/api/events", "reporter-1", report)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	report = floodReport("img-2")
	report["probabilities"] = map[string]float64{"low": 0.9, "medium": 0.9, "high": 0.9}
	w = s.do(t, http.MethodPost, "/api/events", "reporter-1", report)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode(t, w)["reason"])
}

func TestCreateEvent_Multipart(t *testing.T) {
	s := setupTestServer(t)

	image := []byte("\x89PNG fake flood photo")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "flood.png")
	require.NoError(t, err)
	_, err = part.Write(image)
	require.NoError(t, err)
	for k, v := range map[string]string{
		"category":           "flood",
		"location":           "Chennai",
		"probability_low":    "0.1",
		"probability_medium": "0.3",
		"probability_high":   "0.6",
		"rainfall_mm":        "150",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/events", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, "reporter-1"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sum := sha256.Sum256(image)
	assert.Equal(t, hex.EncodeToString(sum[:]), decode(t, w)["fingerprint"])
}

func TestVerifyEvent(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/events", "reporter-1", floodReport("img-1"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/events/1/verify", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/events/1/verify", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["verified"])

	w = s.do(t, http.MethodPost, "/api/events/1/verify", owner, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/events/99/verify", owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/events/abc/verify", owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFundLifecycle(t *testing.T) {
	s := setupTestServer(t)
	eventID := s.verifiedEvent(t, "img-1")

	w := s.do(t, http.MethodPost, "/api/custody/deposits", owner, map[string]any{"amount": 100000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/funds", owner, map[string]any{"event_id": eventID, "total_amount": 100000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	fund := decode(t, w)
	assert.Equal(t, "APPROVED", fund["status"])
	fundPath := fmt.Sprintf("/api/funds/%d", int64(fund["id"].(float64)))

	w = s.do(t, http.MethodPost, fundPath+"/distributions", owner, map[string]any{"recipient": "shelter-a", "amount": 60000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["transfer_ref"])

	w = s.do(t, http.MethodPost, fundPath+"/distributions", owner, map[string]any{"recipient": "shelter-b", "amount": 40000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, fundPath+"/distributions", owner, map[string]any{"recipient": "shelter-c", "amount": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "insufficient_funds", decode(t, w)["reason"])

	w = s.do(t, http.MethodGet, fundPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "DISTRIBUTED", got["status"])
	assert.Equal(t, float64(100000), got["distributed_amount"])
	assert.Equal(t, float64(0), got["remaining_amount"])

	w = s.do(t, http.MethodGet, fundPath+"/distributions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["distributions"], 2)

	w = s.do(t, http.MethodGet, "/api/funds", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{float64(1)}, decode(t, w)["fund_ids"])

	w = s.do(t, http.MethodGet, "/api/custody", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["balance"])
}

func TestFund_UnverifiedEventAndUnauthorized(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/events", "reporter-1", floodReport("img-1"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/funds", owner, map[string]any{"event_id": 1, "total_amount": 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/funds", "mallory", map[string]any{"event_id": 1, "total_amount": 500})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/funds/7/distributions", owner, map[string]any{"recipient": "x", "amount": 5})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/custody/deposits", "mallory", map[string]any{"amount": 5})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDistribute_InsufficientCustody(t *testing.T) {
	s := setupTestServer(t)
	eventID := s.verifiedEvent(t, "img-1")

	w := s.do(t, http.MethodPost, "/api/funds", owner, map[string]any{"event_id": eventID, "total_amount": 1000})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/funds/1/distributions", owner, map[string]any{"recipient": "shelter", "amount": 10})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "insufficient_balance", decode(t, w)["reason"])
}

func TestDonations(t *testing.T) {
	s := setupTestServer(t)
	eventID := s.verifiedEvent(t, "img-1")
	path := fmt.Sprintf("/api/events/%d/donations", eventID)

	w := s.do(t, http.MethodPost, path, "donor-1", map[string]any{"amount": 2500, "purpose": "water"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "donor-1", body["donor"])
	assert.Equal(t, true, body["ledger_verified"])

	w = s.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["donations"], 1)

	donationPath := fmt.Sprintf("/api/donations/%d", int64(body["id"].(float64)))
	w = s.do(t, http.MethodGet, donationPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2500), decode(t, w)["amount"])

	w = s.do(t, http.MethodGet, "/api/donations/99", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, path, "donor-1", map[string]any{"amount": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDonation_CustodyOverflowRejected(t *testing.T) {
	s := setupTestServer(t)
	eventID := s.verifiedEvent(t, "img-1")
	path := fmt.Sprintf("/api/events/%d/donations", eventID)

	w := s.do(t, http.MethodPost, path, "donor-1", map[string]any{"amount": int64(math.MaxInt64)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, path, "donor-2", map[string]any{"amount": int64(math.MaxInt64)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode(t, w)["reason"])

	w = s.do(t, http.MethodGet, "/api/custody", owner, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScoreSeverity(t *testing.T) {
	s := setupTestServer(t)

	report := floodReport("unused")
	delete(report, "category")
	delete(report, "location")
	delete(report, "fingerprint")

	w := s.do(t, http.MethodPost, "/api/severity/score", "", report)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 72.75, body["score"])
	assert.Equal(t, "HIGH", body["level"])
	assert.Len(t, body["breakdown"], 6)

	// Scoring stores nothing.
	w = s.do(t, http.MethodGet, "/api/events", "", nil)
	assert.Equal(t, float64(0), decode(t, w)["total"])

	report["probabilities"] = map[string]float64{"low": 0.9, "medium": 0.9, "high": 0.9}
	w = s.do(t, http.MethodPost, "/api/severity/score", "", report)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEvents_Paging(t *testing.T) {
	s := setupTestServer(t)
	for i := 0; i < 3; i++ {
		w := s.do(t, http.MethodPost, "/api/events", "reporter-1", floodReport(fmt.Sprintf("img-%d", i)))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/events?page=2&per_page=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["pages"])
	assert.Len(t, body["events"], 1)

	w = s.do(t, http.MethodGet, "/api/events?per_page=101", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/events/3", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/events/4", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrincipals(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPut, "/api/principals/verifier", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, "/api/principals/verifier", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/principals", "verifier", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"verifier"}, decode(t, w)["principals"])

	w = s.do(t, http.MethodDelete, "/api/principals/verifier", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/principals", "verifier", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, "/api/principals/"+owner, owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditLogs(t *testing.T) {
	s := setupTestServer(t)
	s.verifiedEvent(t, "img-1")

	w := s.do(t, http.MethodGet, "/api/audit-logs", "reporter-1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/audit-logs?per_page=10", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["total"])

	logs := body["logs"].([]any)
	require.Len(t, logs, 2)
	assert.Equal(t, "event.created", logs[0].(map[string]any)["kind"])
	assert.Equal(t, "event.verified", logs[1].(map[string]any)["kind"])

	// A page far past the end is empty rather than wrapping to page one.
	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/audit-logs?page=%d&per_page=100", math.MaxInt), owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Empty(t, body["logs"])
	assert.Equal(t, float64(2), body["total"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t)
	s.do(t, http.MethodGet, "/api/health", "", nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `relief_ledger_http_requests_total{method="GET",path="/api/health",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrValidation, http.StatusBadRequest},
		{ledger.ErrUnauthorized, http.StatusForbidden},
		{ledger.ErrNotFound, http.StatusNotFound},
		{ledger.ErrDuplicate, http.StatusConflict},
		{ledger.ErrAlreadyVerified, http.StatusConflict},
		{ledger.ErrConcurrencyConflict, http.StatusConflict},
		{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{ledger.ErrInvariantViolation, http.StatusInternalServerError},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(fmt.Errorf("wrapped: %w", tt.err)), tt.err.Error())
	}
}
