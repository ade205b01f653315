package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	httpadapter "github.com/couchcryptid/location-ingest/internal/adapter/http"
	"github.com/couchcryptid/location-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSubmitter struct {
	submitErr error
	readyErr  error

	items    []domain.SubmitItem
	nickname string
	calls    int
}

func (m *mockSubmitter) Submit(_ context.Context, items []domain.SubmitItem, nickname string) error {
	m.calls++
	m.items = items
	m.nickname = nickname
	return m.submitErr
}

func (m *mockSubmitter) CheckReadiness(_ context.Context) error { return m.readyErr }

func newTestServer(submitter *mockSubmitter) *httpadapter.Server {
	return httpadapter.NewServer(":0", submitter, slog.Default())
}

func TestSubmitReturns204(t *testing.T) {
	submitter := &mockSubmitter{}
	srv := newTestServer(submitter)

	body := `{"items":[{"lat":51.5001,"lon":-0.1257,"time":"2024-01-09T23:00:00Z","radio":"gsm",` +
		`"cell":[{"radio":0,"mcc":234,"mnc":15,"lac":12345,"cid":67890}]}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(body))
	req.Header.Set("X-Nickname", "alice_phone")

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	require.Equal(t, 1, submitter.calls)
	assert.Equal(t, "alice_phone", submitter.nickname)
	require.Len(t, submitter.items, 1)
	assert.Equal(t, "51.5001", submitter.items[0].Lat)
	assert.Equal(t, "-0.1257", submitter.items[0].Lon)
	assert.Equal(t, "gsm", submitter.items[0].Radio)
	require.Len(t, submitter.items[0].Cell, 1)
	assert.Equal(t, 234, submitter.items[0].Cell[0].MCC)
}

func TestSubmitPreservesCoordinateText(t *testing.T) {
	submitter := &mockSubmitter{}
	srv := newTestServer(submitter)

	// The decimal text must reach normalization verbatim, not via float64.
	body := `{"items":[{"lat":10.0000001,"lon":-0.0000001,"wifi":[{"key":"aabbccddeeff"}]}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(body))

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, submitter.items, 1)
	assert.Equal(t, "10.0000001", submitter.items[0].Lat)
	assert.Equal(t, "-0.0000001", submitter.items[0].Lon)
}

func TestSubmitRejectsItemWithoutSignals(t *testing.T) {
	submitter := &mockSubmitter{}
	srv := newTestServer(submitter)

	body := `{"items":[` +
		`{"lat":10.0,"lon":20.0,"wifi":[{"key":"aabbccddeeff"}]},` +
		`{"lat":10.0,"lon":20.0}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(body))

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, submitter.calls, "invalid batch must never reach the pipeline")

	var resp struct {
		Errors []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "body", resp.Errors[0].Name)
	assert.Equal(t, "You need to provide a mapping with least one cell or wifi entry.",
		resp.Errors[0].Description)
}

func TestSubmitRejectsMalformedJSON(t *testing.T) {
	submitter := &mockSubmitter{}
	srv := newTestServer(submitter)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader("{not json"))

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, submitter.calls)
}

func TestSubmitEmptyBatchReturns204(t *testing.T) {
	submitter := &mockSubmitter{}
	srv := newTestServer(submitter)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(`{"items":[]}`))

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, submitter.calls)
	assert.Empty(t, submitter.items)
}

func TestSubmitReturns500OnPipelineError(t *testing.T) {
	submitter := &mockSubmitter{submitErr: fmt.Errorf("store offline")}
	srv := newTestServer(submitter)

	body := `{"items":[{"lat":10.0,"lon":20.0,"wifi":[{"key":"aabbccddeeff"}]}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(body))

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Internal detail must not leak to the client.
	assert.NotContains(t, rec.Body.String(), "store offline")
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(&mockSubmitter{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(&mockSubmitter{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(&mockSubmitter{readyErr: fmt.Errorf("not ready yet")})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&mockSubmitter{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
