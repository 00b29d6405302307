package messaging

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/handlers"
)

// MessageProcessor handles a single Service Bus message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// traceEnvelope mirrors the HTTP write envelope so field gateways and
// offline-first mobile clients can push the same payloads through the queue
type traceEnvelope struct {
	Type      string          `json:"type"`
	BatchData json.RawMessage `json:"batchData"`
	EventData json.RawMessage `json:"eventData"`
}

// Processor dispatches queue envelopes to the batch handler
type Processor struct {
	batchHandler *handlers.BatchHandler
}

// NewProcessor creates a new message processor
func NewProcessor(batchHandler *handlers.BatchHandler) *Processor {
	return &Processor{batchHandler: batchHandler}
}

// ProcessMessage decodes and applies one trace envelope. Validation failures
// and unknown batch references are logged and swallowed so the poison message
// is not redelivered forever; store failures propagate for redelivery.
func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var envelope traceEnvelope
	if err := json.Unmarshal(message.Body, &envelope); err != nil {
		log.Error().Err(err).Str("messageID", message.MessageID).Msg("Discarding malformed trace envelope")
		return nil
	}

	switch envelope.Type {
	case "createBatch":
		var cmd handlers.RegisterBatchCommand
		if err := json.Unmarshal(envelope.BatchData, &cmd); err != nil {
			log.Error().Err(err).Str("messageID", message.MessageID).Msg("Discarding malformed batchData")
			return nil
		}

		batch, err := p.batchHandler.HandleRegisterBatch(ctx, cmd)
		if err != nil {
			return p.classify(err, message.MessageID)
		}

		log.Info().Str("batchID", batch.BatchID).Str("messageID", message.MessageID).Msg("Batch registered from queue")
		return nil

	case "addEvent":
		var cmd handlers.AppendEventCommand
		if err := json.Unmarshal(envelope.EventData, &cmd); err != nil {
			log.Error().Err(err).Str("messageID", message.MessageID).Msg("Discarding malformed eventData")
			return nil
		}

		event, err := p.batchHandler.HandleAppendEvent(ctx, cmd)
		if err != nil {
			return p.classify(err, message.MessageID)
		}

		log.Info().Str("eventID", event.EventID).Str("messageID", message.MessageID).Msg("Event appended from queue")
		return nil

	default:
		log.Error().Str("type", envelope.Type).Str("messageID", message.MessageID).Msg("Discarding envelope with unknown type")
		return nil
	}
}

func (p *Processor) classify(err error, messageID string) error {
	if domain.IsValidation(err) || domain.IsNotFound(err) {
		log.Error().Err(err).Str("messageID", messageID).Msg("Discarding unprocessable trace envelope")
		return nil
	}
	return errors.Wrapf(err, "failed to process message %s", messageID)
}
