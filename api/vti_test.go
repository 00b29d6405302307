package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"example.com/damdoh/services/traceability/cache"
	"example.com/damdoh/services/traceability/config"
	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/handlers"
	"example.com/damdoh/services/traceability/ledger"
	"example.com/damdoh/services/traceability/metrics"
	"example.com/damdoh/services/traceability/tracing"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	collector := metrics.NewMetrics()
	batchHandler := handlers.NewBatchHandler(ledger.NewMemory(), cache.Disabled(), collector)

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	return NewServer(config.Config{}, batchHandler, nil, collector, tracer)
}

func doRequest(t *testing.T, server *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func createBatchRequest() gin.H {
	return gin.H{
		"type": "createBatch",
		"batchData": gin.H{
			"productId":       "maize-1",
			"initialQuantity": 500,
			"unit":            "kg",
			"origin": gin.H{
				"farmId":   "farm-7",
				"location": gin.H{"lat": -1.28, "lng": 36.82},
			},
		},
	}
}

func registerBatch(t *testing.T, server *Server) string {
	t.Helper()

	recorder := doRequest(t, server, http.MethodPost, "/vti", createBatchRequest())
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	require.Equal(t, "success", body["status"])

	data := body["data"].(map[string]interface{})
	batchID := data["id"].(string)
	require.NotEmpty(t, batchID)
	return batchID
}

func addEventRequest(batchID, eventType string, timestamp time.Time, data gin.H) gin.H {
	return gin.H{
		"type": "addEvent",
		"eventData": gin.H{
			"vtiBatchId":      batchID,
			"eventType":       eventType,
			"stakeholderId":   "farmer-1",
			"stakeholderType": "Farmer",
			"timestamp":       timestamp.Format(time.RFC3339),
			"data":            data,
		},
	}
}

func TestCreateBatchAndTraceLifecycle(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodPost, "/vti", createBatchRequest())
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	require.Equal(t, "success", body["status"])

	data := body["data"].(map[string]interface{})
	require.Equal(t, "maize-1", data["productId"])
	require.Equal(t, 500.0, data["initialQuantity"])
	require.Equal(t, "kg", data["unit"])
	require.Equal(t, "farm-7", data["farmId"])
	require.Equal(t, domain.StatusRegistered, data["status"])

	batchID := data["id"].(string)

	recorder = doRequest(t, server, http.MethodPost, "/vti",
		addEventRequest(batchID, domain.EventHarvest, time.Now().UTC(), gin.H{"yield": 480, "unit": "kg"}))
	require.Equal(t, http.StatusOK, recorder.Code)

	body = decodeBody(t, recorder)
	require.Equal(t, "success", body["status"])
	event := body["data"].(map[string]interface{})
	require.Equal(t, batchID, event["vtiBatchId"])
	require.Equal(t, domain.EventHarvest, event["eventType"])

	recorder = doRequest(t, server, http.MethodGet, "/vti?batchId="+batchID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body = decodeBody(t, recorder)
	history := body["data"].(map[string]interface{})
	batch := history["batch"].(map[string]interface{})
	require.Equal(t, domain.StatusHarvested, batch["status"])

	events := history["events"].([]interface{})
	require.Len(t, events, 1)
}

func TestGetHistoryOrderedByTimestamp(t *testing.T) {
	server := newTestServer(t)
	batchID := registerBatch(t, server)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// Append out of chronological order
	recorder := doRequest(t, server, http.MethodPost, "/vti",
		addEventRequest(batchID, domain.EventHarvest, base.Add(2*time.Hour), gin.H{"yield": 480, "unit": "kg"}))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(t, server, http.MethodPost, "/vti",
		addEventRequest(batchID, domain.EventPlanting, base, gin.H{"cropType": "maize", "areaPlanted": 2.5}))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(t, server, http.MethodGet, "/vti?batchId="+batchID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	events := body["data"].(map[string]interface{})["events"].([]interface{})
	require.Len(t, events, 2)

	first := events[0].(map[string]interface{})
	second := events[1].(map[string]interface{})
	require.Equal(t, domain.EventPlanting, first["eventType"])
	require.Equal(t, domain.EventHarvest, second["eventType"])
}

func TestGetHistoryIsIdempotent(t *testing.T) {
	server := newTestServer(t)
	batchID := registerBatch(t, server)

	recorder := doRequest(t, server, http.MethodPost, "/vti",
		addEventRequest(batchID, domain.EventHarvest, time.Now().UTC(), gin.H{"yield": 480, "unit": "kg"}))
	require.Equal(t, http.StatusOK, recorder.Code)

	first := doRequest(t, server, http.MethodGet, "/vti?batchId="+batchID, nil)
	second := doRequest(t, server, http.MethodGet, "/vti?batchId="+batchID, nil)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
}

func TestGetVtiRequiresBatchID(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/vti", nil)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	body := decodeBody(t, recorder)
	require.Equal(t, "error", body["status"])
	require.Contains(t, body["message"], "batchId")
}

func TestGetVtiUnknownBatch(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/vti?batchId=no-such-batch", nil)

	require.Equal(t, http.StatusNotFound, recorder.Code)
	body := decodeBody(t, recorder)
	require.Equal(t, "error", body["status"])
}

func TestPostVtiRejectsUnknownRequestType(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodPost, "/vti", gin.H{"type": "deleteBatch"})

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	body := decodeBody(t, recorder)
	require.Equal(t, "error", body["status"])
	require.Equal(t, "Invalid request type", body["message"])
}

func TestPostVtiRejectsNonPositiveQuantity(t *testing.T) {
	server := newTestServer(t)

	req := createBatchRequest()
	req["batchData"].(gin.H)["initialQuantity"] = 0

	recorder := doRequest(t, server, http.MethodPost, "/vti", req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	body := decodeBody(t, recorder)
	require.Equal(t, "error", body["status"])
}

func TestAddEventToUnknownBatch(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodPost, "/vti",
		addEventRequest("no-such-batch", domain.EventHarvest, time.Now().UTC(), gin.H{"yield": 480, "unit": "kg"}))

	require.Equal(t, http.StatusNotFound, recorder.Code)
	body := decodeBody(t, recorder)
	require.Equal(t, "error", body["status"])

	// The failed append must leave no trace behind
	recorder = doRequest(t, server, http.MethodGet, "/vti?batchId=no-such-batch", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestUnknownEventTypeIsAccepted(t *testing.T) {
	server := newTestServer(t)
	batchID := registerBatch(t, server)

	recorder := doRequest(t, server, http.MethodPost, "/vti",
		addEventRequest(batchID, "CustomAudit", time.Now().UTC(), gin.H{"auditor": "acme", "score": 97}))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(t, server, http.MethodGet, "/vti?batchId="+batchID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	history := body["data"].(map[string]interface{})
	batch := history["batch"].(map[string]interface{})

	// Unknown event types carry no status side effect
	require.Equal(t, domain.StatusRegistered, batch["status"])

	events := history["events"].([]interface{})
	require.Len(t, events, 1)
	require.Equal(t, "CustomAudit", events[0].(map[string]interface{})["eventType"])
}

func TestListBatches(t *testing.T) {
	server := newTestServer(t)
	registerBatch(t, server)
	registerBatch(t, server)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/batches", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	require.Equal(t, "success", body["status"])
	require.Len(t, body["data"].([]interface{}), 2)
}

func TestGetBatchByID(t *testing.T) {
	server := newTestServer(t)
	batchID := registerBatch(t, server)

	recorder := doRequest(t, server, http.MethodGet, fmt.Sprintf("/api/v1/batches/%s", batchID), nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	data := body["data"].(map[string]interface{})
	require.Equal(t, batchID, data["id"])
}

func TestSearchUnavailableWithoutBackend(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/api/v1/search?q=maize", nil)

	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	recorder := doRequest(t, server, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	require.Equal(t, true, body["healthy"])
}
