package shipments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shiplink/internal"
	"shiplink/internal/config"
)

// Client pulls the shipment book out of the forwarding TMS. All calls are
// bounded, rate-limited reads; transient failures retry with backoff.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

type scrollPayload struct {
	Shipments []map[string]any `json:"shipments"`
	ScrollID  *string          `json:"scrollId"`
	Total     *int             `json:"total"`
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TMSTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.TMSRateLimitRPS),
	}
}

func (c *Client) GetShipmentsScrollAll(ctx context.Context) ([]internal.Shipment, error) {
	return c.getShipmentsScroll(ctx, map[string]string{})
}

// GetShipmentsIncremental fetches shipments updated within the configured
// lookback window.
func (c *Client) GetShipmentsIncremental(ctx context.Context) ([]internal.Shipment, error) {
	params := map[string]string{"updatedWithinHours": strconv.Itoa(c.cfg.IncrementalLookbackHrs)}
	return c.getShipmentsScroll(ctx, params)
}

func (c *Client) getShipmentsScroll(ctx context.Context, params map[string]string) ([]internal.Shipment, error) {
	all := make([]internal.Shipment, 0)
	seen := map[string]struct{}{}
	var scrollID string

	for {
		query := map[string]string{}
		for k, v := range params {
			query[k] = v
		}
		if scrollID != "" {
			query["scrollId"] = scrollID
		}

		body, err := c.fetchJSON(ctx, "shipment/scroll", query)
		if err != nil {
			return nil, err
		}

		var payload scrollPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}

		for _, raw := range payload.Shipments {
			shipment, err := toShipment(raw)
			if err != nil {
				continue
			}
			all = append(all, shipment)
		}

		if payload.ScrollID == nil || *payload.ScrollID == "" || len(payload.Shipments) == 0 {
			break
		}
		if _, ok := seen[*payload.ScrollID]; ok {
			break
		}
		seen[*payload.ScrollID] = struct{}{}
		scrollID = *payload.ScrollID
	}

	return all, nil
}

func (c *Client) fetchJSON(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.TMSAPIToken) == "" {
		return nil, errors.New("missing TMS_API_TOKEN")
	}

	baseURL := strings.TrimRight(c.cfg.TMSAPIBaseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		c.limiter.WaitTurn()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.TMSAPIToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < 5 {
				backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
				time.Sleep(backoff)
				lastErr = fmt.Errorf("tms status %d", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("tms api error: status=%d body=%s", resp.StatusCode, string(body))
		}

		var apiResp apiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return nil, err
		}
		if !apiResp.Success {
			return nil, fmt.Errorf("tms api unsuccessful: %s", string(apiResp.Errors))
		}
		return apiResp.Data, nil
	}

	if lastErr == nil {
		lastErr = errors.New("tms request failed")
	}
	return nil, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func toShipment(raw map[string]any) (internal.Shipment, error) {
	id, _ := raw["id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return internal.Shipment{}, errors.New("missing shipment id")
	}

	rawJSON, _ := json.Marshal(raw)
	shipment := internal.Shipment{
		ID:      id,
		Status:  internal.ShipmentOpen,
		RawJSON: string(rawJSON),
	}

	shipment.BookingNumber = toStringPtr(raw["bookingNumber"])
	shipment.MBLNumber = toStringPtr(raw["mblNumber"])
	shipment.HBLNumber = toStringPtr(raw["hblNumber"])
	shipment.ContainerNumber = toStringPtr(raw["containerNumber"])
	shipment.ExtraContainers = toStringSlice(raw["containers"])

	if status, _ := raw["status"].(string); strings.EqualFold(status, "closed") {
		shipment.Status = internal.ShipmentClosed
	}
	shipment.ClosedAt = toTimePtr(raw["closedAt"])
	shipment.SICutoff = toTimePtr(raw["siCutoff"])
	shipment.VGMCutoff = toTimePtr(raw["vgmCutoff"])
	shipment.CargoCutoff = toTimePtr(raw["cargoCutoff"])

	return shipment, nil
}

func toStringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return internal.StringPtr(s)
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func toTimePtr(v any) *time.Time {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &parsed
}
