package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/damdoh/services/traceability/config"
	"example.com/damdoh/services/traceability/models"
)

// Index names, combined with the configured prefix
const (
	BatchesIndex = "batches"
	EventsIndex  = "events"
)

// Client provides integration with Elasticsearch for traceability search
type Client struct {
	client *elasticsearch.Client
	prefix string
}

// NewClient creates a new Elasticsearch client and verifies the connection
func NewClient(cfg config.Config) (*Client, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.ElasticSearchURL},
		Username:  cfg.ElasticSearchUsername,
		Password:  cfg.ElasticSearchPassword,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	res, err := client.Info()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Elasticsearch")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Errorf("Elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("Successfully connected to Elasticsearch")
	return &Client{client: client, prefix: cfg.ElasticSearchPrefix}, nil
}

// FormatIndex adds the prefix to an index name
func (c *Client) FormatIndex(index string) string {
	return c.prefix + "-" + index
}

// EnsureIndices ensures that all required indices exist
func (c *Client) EnsureIndices() error {
	for _, index := range []string{BatchesIndex, EventsIndex} {
		formatted := c.FormatIndex(index)

		exists, err := c.indexExists(formatted)
		if err != nil {
			return err
		}

		if !exists {
			log.Info().Msgf("Creating index %s", formatted)
			if err := c.createIndex(formatted); err != nil {
				return err
			}
		}
	}

	return nil
}

// IndexBatch indexes a batch snapshot
func (c *Client) IndexBatch(ctx context.Context, batch *models.Batch) error {
	doc := map[string]interface{}{
		"id":               batch.BatchID,
		"product_id":       batch.ProductID,
		"farm_id":          batch.FarmID,
		"unit":             batch.Unit,
		"initial_quantity": batch.InitialQuantity,
		"status":           batch.Status,
		"origin_lat":       batch.OriginLat,
		"origin_lng":       batch.OriginLng,
		"current_lat":      batch.CurrentLat,
		"current_lng":      batch.CurrentLng,
		"carbon_footprint": batch.CarbonFootprint,
		"last_event_at":    batch.LastEventAt,
		"updated_at":       batch.UpdatedAt,
	}

	return c.index(ctx, c.FormatIndex(BatchesIndex), batch.BatchID, doc)
}

// IndexEvent indexes a ledger event
func (c *Client) IndexEvent(ctx context.Context, event *models.TraceEvent) error {
	var payload map[string]interface{}
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			log.Warn().Err(err).Str("eventID", event.EventID).Msg("Could not expand event payload for indexing")
		}
	}

	doc := map[string]interface{}{
		"id":               event.EventID,
		"batch_id":         event.BatchID,
		"event_type":       event.EventType,
		"stakeholder_id":   event.StakeholderID,
		"stakeholder_type": event.StakeholderType,
		"lat":              event.Lat,
		"lng":              event.Lng,
		"timestamp":        event.EventTime,
		"data":             payload,
	}

	return c.index(ctx, c.FormatIndex(EventsIndex), event.EventID, doc)
}

// SearchBatches runs a free-text query over the batch index
func (c *Client) SearchBatches(ctx context.Context, query string, size int) ([]map[string]interface{}, error) {
	if size <= 0 {
		size = 20
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"id", "product_id", "farm_id", "status"},
			},
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(c.FormatIndex(BatchesIndex)),
		c.client.Search.WithBody(bytes.NewReader(data)),
		c.client.Search.WithSize(size),
	)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Errorf("search returned error: %s", res.String())
	}

	var envelope struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	results := make([]map[string]interface{}, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		results = append(results, hit.Source)
	}

	return results, nil
}

func (c *Client) index(ctx context.Context, index, docID string, doc map[string]interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	res, err := c.client.Index(
		index,
		bytes.NewReader(data),
		c.client.Index.WithDocumentID(docID),
		c.client.Index.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to index document %s", docID)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("indexing document %s returned error: %s", docID, res.String())
	}

	return nil
}

func (c *Client) indexExists(index string) (bool, error) {
	res, err := c.client.Indices.Exists([]string{index})
	if err != nil {
		return false, errors.Wrapf(err, "error checking if index %s exists", index)
	}
	defer res.Body.Close()

	return res.StatusCode == 200, nil
}

func (c *Client) createIndex(index string) error {
	res, err := c.client.Indices.Create(index)
	if err != nil {
		return errors.Wrapf(err, "error creating index %s", index)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("error creating index %s: %s", index, res.String())
	}

	return nil
}
