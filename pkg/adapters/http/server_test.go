package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/transmute"
	"github.com/aretw0/transmute/internal/logging"
	"github.com/aretw0/transmute/pkg/property"
)

func testHandler(t *testing.T) http.Handler {
	t.Helper()
	eng, err := transmute.New(transmute.WithoutPlugins())
	require.NoError(t, err)
	return NewHandler(eng, logging.NewNop())
}

func TestHealthz(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestListConverters(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/converters", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var decls []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decls))
	assert.NotEmpty(t, decls)

	ids := make([]string, 0, len(decls))
	for _, d := range decls {
		ids = append(ids, d["id"].(string))
	}
	assert.Contains(t, ids, "serde.json-to-yaml")
}

func TestPlanEndpoint(t *testing.T) {
	h := testHandler(t)

	body := `{"source": {"format": "json"}, "target": {"format": "yaml"}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/plan", strings.NewReader(body))
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PlanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Plan)
	require.Len(t, resp.Plan.Steps, 1)
	assert.Equal(t, "serde.json-to-yaml", resp.Plan.Steps[0].ConverterID)
}

func TestPlanEndpointNoPath(t *testing.T) {
	h := testHandler(t)

	body := `{"source": {"format": "json"}, "target": {"format": "parquet"}}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/plan", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_path")
}

func TestConvertEndpoint(t *testing.T) {
	h := testHandler(t)

	reqBody, err := json.Marshal(ConvertRequest{
		Input:  base64.StdEncoding.EncodeToString([]byte(`{"a":1}`)),
		Source: map[string]any{"format": "json"},
		Target: property.NewPattern().WithEq("format", "yaml"),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", bytes.NewReader(reqBody)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ConvertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	out, err := base64.StdEncoding.DecodeString(resp.Output)
	require.NoError(t, err)
	assert.Contains(t, string(out), "a: 1")
	assert.Equal(t, "yaml", resp.Props["format"])
	assert.Equal(t, 1, resp.Stats.StepsExecuted)
}

func TestConvertEndpointInvalidInput(t *testing.T) {
	h := testHandler(t)

	reqBody, err := json.Marshal(ConvertRequest{
		Input:  base64.StdEncoding.EncodeToString([]byte(`{broken`)),
		Source: map[string]any{"format": "json"},
		Target: property.NewPattern().WithEq("format", "yaml"),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", bytes.NewReader(reqBody)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_input")
}

func TestMetricsEndpoint(t *testing.T) {
	h := testHandler(t)

	// Drive one conversion so counters move.
	reqBody, _ := json.Marshal(ConvertRequest{
		Input:  base64.StdEncoding.EncodeToString([]byte(`{}`)),
		Source: map[string]any{"format": "json"},
		Target: property.NewPattern().WithEq("format", "yaml"),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", bytes.NewReader(reqBody)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transmute_conversions_total")
}

func TestCORSPreflights(t *testing.T) {
	h := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/plan", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

