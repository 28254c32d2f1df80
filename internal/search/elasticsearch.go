package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/logistics/services/fulfillment/config"
	"example.com/logistics/services/fulfillment/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexShipment indexes a dispatched shipment in Elasticsearch
func (c *ElasticClient) IndexShipment(ctx context.Context, shipment *models.Shipment) error {
	log.Info().Str("shipment_id", shipment.ID.String()).Msg("indexing shipment")

	lines := make([]map[string]interface{}, 0, len(shipment.Lines))
	for _, line := range shipment.Lines {
		lines = append(lines, map[string]interface{}{
			"item_id":  line.ItemID.String(),
			"sku":      line.SKU,
			"quantity": line.Quantity,
		})
	}

	doc := map[string]interface{}{
		"id":                   shipment.ID.String(),
		"shipment_number":      shipment.ShipmentNumber,
		"organization_id":      shipment.OrganizationID.String(),
		"status":               shipment.Status,
		"origin_location":      shipment.OriginLocation,
		"destination_location": shipment.DestinationLocation,
		"carrier_ref":          shipment.CarrierRef,
		"declared_value":       shipment.DeclaredValue.String(),
		"dispatched_at":        shipment.DispatchedAt,
		"lines":                lines,
	}

	return c.index(ctx, "shipments", shipment.ID.String(), doc)
}

// IndexShortageReport indexes a material shortage report for an organization
func (c *ElasticClient) IndexShortageReport(ctx context.Context, organizationID uuid.UUID, requirements []map[string]interface{}) error {
	doc := map[string]interface{}{
		"organization_id": organizationID.String(),
		"computed_at":     time.Now().UTC(),
		"requirements":    requirements,
	}

	docID := fmt.Sprintf("%s:%d", organizationID.String(), time.Now().Unix())
	return c.index(ctx, "shortages", docID, doc)
}

func (c *ElasticClient) index(ctx context.Context, index, docID string, doc map[string]interface{}) error {
	docJson, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	req := esapi.IndexRequest{
		Index:      config.FormatIndex(c.config, index),
		DocumentID: docID,
		Body:       bytes.NewReader(docJson),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	return nil
}

// SearchShipments searches dispatched shipments with the given criteria
func (c *ElasticClient) SearchShipments(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{config.FormatIndex(c.config, "shipments")},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}

	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}

		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}

		docs = append(docs, source)
	}

	return docs, nil
}
