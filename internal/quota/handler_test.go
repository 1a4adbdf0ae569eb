package quota

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(store Repository, limits Limits) *Handler {
	return NewHandler(newTestService(store, limits))
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got: %s", rec.Body.String())
	return data
}

func TestHandler_Check_Allowed(t *testing.T) {
	h := newTestHandler(newMemStore(), freeLimits())

	rec := doJSON(t, h.Check, "POST", "/v1/quota/check", map[string]any{
		"user_id": uuid.New().String(),
		"metric":  "messages",
		"amount":  1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, true, data["allowed"])
	assert.Equal(t, float64(20), data["limit"])
	assert.Equal(t, float64(19), data["remaining"])
}

func TestHandler_Check_DeniedIsStill200(t *testing.T) {
	store := newMemStore()
	h := newTestHandler(store, freeLimits())
	userID := uuid.New()
	store.seed(userID, time.Now(), MetricMessages, 20)

	rec := doJSON(t, h.Check, "POST", "/v1/quota/check", map[string]any{
		"user_id": userID.String(),
		"metric":  "messages",
		"amount":  1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, false, data["allowed"])
	assert.Equal(t, string(ReasonLimitExceeded), data["reason"])
}

func TestHandler_Check_UnknownMetric(t *testing.T) {
	h := newTestHandler(newMemStore(), freeLimits())

	rec := doJSON(t, h.Check, "POST", "/v1/quota/check", map[string]any{
		"user_id": uuid.New().String(),
		"metric":  "bogus",
		"amount":  1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Check_InvalidBody(t *testing.T) {
	h := newTestHandler(newMemStore(), freeLimits())

	req := httptest.NewRequest("POST", "/v1/quota/check", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.Check(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RecordThenUsage(t *testing.T) {
	store := newMemStore()
	h := newTestHandler(store, freeLimits())
	userID := uuid.New()

	rec := doJSON(t, h.Record, "POST", "/v1/quota/usage", map[string]any{
		"user_id": userID.String(),
		"metric":  "tokens",
		"amount":  150,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	day := time.Now().UTC().Format("2006-01-02")
	req := httptest.NewRequest("GET",
		fmt.Sprintf("/v1/quota/usage?user_id=%s&day=%s", userID, day), nil)
	out := httptest.NewRecorder()
	h.Usage(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	data := decodeData(t, out)
	assert.Equal(t, float64(150), data["tokens"])
	assert.Equal(t, float64(0), data["messages"])
}

func TestHandler_Usage_BadDay(t *testing.T) {
	h := newTestHandler(newMemStore(), freeLimits())

	req := httptest.NewRequest("GET",
		fmt.Sprintf("/v1/quota/usage?user_id=%s&day=15-06-2025", uuid.New()), nil)
	rec := httptest.NewRecorder()
	h.Usage(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Limits(t *testing.T) {
	h := newTestHandler(newMemStore(), freeLimits())

	req := httptest.NewRequest("GET",
		fmt.Sprintf("/v1/quota/limits?user_id=%s", uuid.New()), nil)
	rec := httptest.NewRecorder()
	h.Limits(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	assert.Equal(t, "free", data["tier"])
	assert.Equal(t, float64(7), data["attachment_retention_days"])
}
