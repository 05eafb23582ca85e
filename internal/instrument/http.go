package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pv/labacq-go/internal/config"
)

// channelsResponse ответ драйвера прибора на /read
type channelsResponse struct {
	Result string             `json:"result"`
	Error  string             `json:"error,omitempty"`
	Values map[string]float64 `json:"values,omitempty"`
}

// HTTP reads channel values from an instrument gateway exposing a small
// JSON API: GET {base}/read?channels=a,b -> {"result":"OK","values":{...}}
type HTTP struct {
	equipmentID string
	baseURL     string
	httpClient  *http.Client
}

func NewHTTP(equipmentID string, cfg config.HTTPDriverConfig) *HTTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTP{
		equipmentID: equipmentID,
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) ReadChannels(ctx context.Context, channels []string) (map[string]float64, error) {
	url := fmt.Sprintf("%s/read?channels=%s", h.baseURL, strings.Join(channels, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindConnectionLost, Equipment: h.equipmentID, Err: err}
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindConnectionLost, Equipment: h.equipmentID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:      KindConnectionLost,
			Equipment: h.equipmentID,
			Err:       fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindConnectionLost, Equipment: h.equipmentID, Err: err}
	}

	var parsed channelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{
			Kind:      KindConnectionLost,
			Equipment: h.equipmentID,
			Err:       fmt.Errorf("unmarshal failed: %w", err),
		}
	}
	if parsed.Result != "OK" {
		return nil, &Error{
			Kind:      KindConnectionLost,
			Equipment: h.equipmentID,
			Err:       fmt.Errorf("gateway error: %s", parsed.Error),
		}
	}

	values := make(map[string]float64, len(channels))
	for _, ch := range channels {
		v, ok := parsed.Values[ch]
		if !ok {
			return nil, &Error{Kind: KindInvalidChannel, Equipment: h.equipmentID}
		}
		values[ch] = v
	}
	return values, nil
}

func (h *HTTP) Close() error { return nil }

var _ Reader = (*HTTP)(nil)
