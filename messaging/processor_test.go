package messaging

import (
	"context"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/require"

	"example.com/damdoh/services/traceability/cache"
	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/handlers"
	"example.com/damdoh/services/traceability/ledger"
	"example.com/damdoh/services/traceability/metrics"
)

func newTestProcessor() (*Processor, *ledger.Memory) {
	store := ledger.NewMemory()
	batchHandler := handlers.NewBatchHandler(store, cache.Disabled(), metrics.NewMetrics())
	return NewProcessor(batchHandler), store
}

func message(body string) *azservicebus.ReceivedMessage {
	return &azservicebus.ReceivedMessage{
		MessageID: "msg-1",
		Body:      []byte(body),
	}
}

func TestProcessMessageRegistersBatch(t *testing.T) {
	processor, store := newTestProcessor()

	body := `{
		"type": "createBatch",
		"batchData": {
			"productId": "maize-1",
			"initialQuantity": 500,
			"unit": "kg",
			"origin": {"farmId": "farm-7", "location": {"lat": -1.28, "lng": 36.82}}
		}
	}`

	err := processor.ProcessMessage(context.Background(), message(body))
	require.NoError(t, err)

	batches, err := store.ListBatches(context.Background(), ledger.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, domain.StatusRegistered, batches[0].Status)
}

func TestProcessMessageAppendsEvent(t *testing.T) {
	processor, store := newTestProcessor()

	create := `{
		"type": "createBatch",
		"batchData": {
			"productId": "maize-1",
			"initialQuantity": 500,
			"unit": "kg",
			"origin": {"farmId": "farm-7", "location": {"lat": -1.28, "lng": 36.82}}
		}
	}`
	require.NoError(t, processor.ProcessMessage(context.Background(), message(create)))

	batches, err := store.ListBatches(context.Background(), ledger.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, batches, 1)

	addEvent := `{
		"type": "addEvent",
		"eventData": {
			"vtiBatchId": "` + batches[0].BatchID + `",
			"eventType": "Harvest",
			"stakeholderId": "farmer-1",
			"stakeholderType": "Farmer",
			"data": {"yield": 480, "unit": "kg"}
		}
	}`
	require.NoError(t, processor.ProcessMessage(context.Background(), message(addEvent)))

	history, err := store.History(context.Background(), batches[0].BatchID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, domain.EventHarvest, history[0].EventType)
}

func TestProcessMessageSwallowsMalformedEnvelope(t *testing.T) {
	processor, _ := newTestProcessor()

	err := processor.ProcessMessage(context.Background(), message(`not json`))
	require.NoError(t, err)
}

func TestProcessMessageSwallowsUnknownType(t *testing.T) {
	processor, _ := newTestProcessor()

	err := processor.ProcessMessage(context.Background(), message(`{"type":"deleteBatch"}`))
	require.NoError(t, err)
}

func TestProcessMessageSwallowsUnknownBatchReference(t *testing.T) {
	processor, store := newTestProcessor()

	body := `{
		"type": "addEvent",
		"eventData": {
			"vtiBatchId": "no-such-batch",
			"eventType": "Harvest",
			"stakeholderId": "farmer-1",
			"stakeholderType": "Farmer",
			"data": {"yield": 480, "unit": "kg"}
		}
	}`

	// Unprocessable envelopes are dropped rather than redelivered forever
	err := processor.ProcessMessage(context.Background(), message(body))
	require.NoError(t, err)

	history, err := store.History(context.Background(), "no-such-batch")
	require.NoError(t, err)
	require.Empty(t, history)
}
