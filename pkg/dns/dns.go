package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/apployd/engine/internal/log"
)

// Adapter upserts a custom domain's A record.
type Adapter interface {
	UpsertARecord(ctx context.Context, domain, ipv4 string) error
}

// NoopAdapter is used when no DNS provider is configured: the pipeline
// skips the DNS stage entirely and logs the omission (§4.G).
type NoopAdapter struct{}

func (NoopAdapter) UpsertARecord(ctx context.Context, domain, ipv4 string) error {
	log.WithComponent("dns").Info().Str("domain", domain).Msg("DNS provider not configured, skipping record upsert")
	return nil
}

// CloudflareAdapter upserts A records via the Cloudflare REST API.
type CloudflareAdapter struct {
	apiToken string
	zoneID   string
	client   *http.Client
	baseURL  string
}

// NewCloudflareAdapter builds an adapter for the given zone.
func NewCloudflareAdapter(apiToken, zoneID string) *CloudflareAdapter {
	return &CloudflareAdapter{
		apiToken: apiToken,
		zoneID:   zoneID,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  "https://api.cloudflare.com/client/v4",
	}
}

type cfRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

type cfListResponse struct {
	Success bool       `json:"success"`
	Result  []cfRecord `json:"result"`
}

type cfWriteResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// UpsertARecord idempotently creates or updates domain's A record to
// point at ipv4.
func (c *CloudflareAdapter) UpsertARecord(ctx context.Context, domain, ipv4 string) error {
	logger := log.WithComponent("dns").With().Str("domain", domain).Logger()

	existing, err := c.findRecord(ctx, domain)
	if err != nil {
		return fmt.Errorf("looking up existing record: %w", err)
	}

	record := cfRecord{Type: "A", Name: domain, Content: ipv4, TTL: 300}

	if existing != nil {
		if existing.Content == ipv4 {
			return nil
		}
		record.ID = existing.ID
		if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/zones/%s/dns_records/%s", c.zoneID, existing.ID), record); err != nil {
			return fmt.Errorf("updating A record: %w", err)
		}
		logger.Info().Str("ip", ipv4).Msg("updated A record")
		return nil
	}

	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", c.zoneID), record); err != nil {
		return fmt.Errorf("creating A record: %w", err)
	}
	logger.Info().Str("ip", ipv4).Msg("created A record")
	return nil
}

func (c *CloudflareAdapter) findRecord(ctx context.Context, domain string) (*cfRecord, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records?type=A&name=%s", c.baseURL, c.zoneID, domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authenticate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var listResp cfListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, err
	}
	if !listResp.Success || len(listResp.Result) == 0 {
		return nil, nil
	}
	return &listResp.Result[0], nil
}

func (c *CloudflareAdapter) do(ctx context.Context, method, path string, body cfRecord) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authenticate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var writeResp cfWriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&writeResp); err != nil {
		return err
	}
	if !writeResp.Success {
		if len(writeResp.Errors) > 0 {
			return fmt.Errorf("cloudflare error: %s", writeResp.Errors[0].Message)
		}
		return fmt.Errorf("cloudflare request failed")
	}
	return nil
}

func (c *CloudflareAdapter) authenticate(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
}
