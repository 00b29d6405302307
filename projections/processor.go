package projections

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/damdoh/services/traceability/config"
	"example.com/damdoh/services/traceability/ledger"
	"example.com/damdoh/services/traceability/models"
	"example.com/damdoh/services/traceability/search"
)

// EventProcessor pushes freshly appended ledger events into the search
// indices. It trails the transactional write path; search visibility is
// eventually consistent.
type EventProcessor struct {
	store              ledger.Store
	searchClient       *search.Client
	batchSize          int
	processingInterval time.Duration
	running            bool
	mutex              sync.Mutex
	stopChan           chan struct{}
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(store ledger.Store, searchClient *search.Client, cfg config.Config) *EventProcessor {
	return &EventProcessor{
		store:              store,
		searchClient:       searchClient,
		batchSize:          cfg.ProjectionBatchSize,
		processingInterval: cfg.ProjectionInterval,
		stopChan:           make(chan struct{}),
	}
}

// Start starts the event processor
func (p *EventProcessor) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return
	}

	p.running = true
	go p.processEvents()
}

// Stop stops the event processor
func (p *EventProcessor) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}

	p.running = false
	p.stopChan <- struct{}{}
}

// processEvents processes events in a loop
func (p *EventProcessor) processEvents() {
	ticker := time.NewTicker(p.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.processBatch(); err != nil {
				log.Error().Err(err).Msg("Failed to process projection batch")
			}
		case <-p.stopChan:
			return
		}
	}
}

// processBatch projects one batch of unprocessed events
func (p *EventProcessor) processBatch() error {
	ctx := context.Background()

	events, err := p.store.UnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	log.Info().Msgf("Projecting %d events", len(events))

	for _, event := range events {
		if err := p.projectEvent(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to project event")
			if merr := p.store.MarkEventFailed(ctx, event.EventID, err.Error()); merr != nil {
				log.Error().Err(merr).Str("event_id", event.EventID).Msg("Failed to record projection error")
			}
			continue
		}

		if err := p.store.MarkEventProcessed(ctx, event.EventID); err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to mark event as processed")
		}
	}

	return nil
}

// projectEvent indexes the event document plus the current snapshot of its batch
func (p *EventProcessor) projectEvent(ctx context.Context, event models.TraceEvent) error {
	if err := p.searchClient.IndexEvent(ctx, &event); err != nil {
		return err
	}

	batch, err := p.store.GetBatch(ctx, event.BatchID)
	if err != nil {
		return err
	}

	return p.searchClient.IndexBatch(ctx, batch)
}
