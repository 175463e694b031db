package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/config"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// ElasticClient projects delivery orders into Elasticsearch for the
// operations dashboard. The index is a read model; the database stays the
// source of truth.
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

// IndexDeliveryOrder indexes an order together with its approval trail.
// Re-indexing after every transition keeps the document current; the order
// id doubles as the document id so updates overwrite.
func (c *ElasticClient) IndexDeliveryOrder(ctx context.Context, order *models.DeliveryOrder, trail []models.TierReview) error {
	reviews := make([]map[string]interface{}, 0, len(trail))
	for _, review := range trail {
		reviews = append(reviews, map[string]interface{}{
			"target_state": review.TargetState,
			"status":       review.Status,
			"reviewer_id":  review.ReviewerID.String(),
			"comment":      review.Comment,
			"decided_at":   review.DecidedAt,
		})
	}

	doc := map[string]interface{}{
		"id":                  order.ID.String(),
		"name":                order.Name,
		"state":               order.State,
		"nominal":             order.Nominal,
		"bop_paid":            order.BopPaid,
		"bop_percentage":      order.BopPercentagePaid,
		"bop_quota":           order.BopQuota,
		"loading_location":    order.LoadingLocation,
		"unloading_location":  order.UnloadingLocation,
		"delivered":           order.Delivered,
		"created_at":          order.CreatedAt,
		"updated_at":          order.UpdatedAt,
		"approval_trail":      reviews,
		"approval_trail_size": len(reviews),
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: order.ID.String(),
		Body:       bytes.NewReader(docJSON),
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

	log.Debug().Str("delivery_order", order.Name).Msg("Delivery order indexed")
	return nil
}

// SearchOrders runs a raw Elasticsearch query against the order index and
// returns the matching documents.
func (c *ElasticClient) SearchOrders(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
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
