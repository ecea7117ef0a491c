package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/ucwatch/ucwatch/pkg/common"
	"github.com/ucwatch/ucwatch/pkg/types"
)

// HTTPSource fetches UC records from an upstream ingestion API. Every
// request carries a bearer credential; a 401/403 from the upstream maps
// to ErrAuthExpired so a cycle with a bad credential fails loudly
// instead of serving an empty tenant.
type HTTPSource struct {
	client *http.Client
	url    string
	token  string
}

func configuredHTTP() *HTTPSource {
	url := lflag.String("records-url", "", "URL of the upstream UC record API")
	token := lflag.String("records-token", "", "Bearer token for the upstream UC record API")

	h := &HTTPSource{
		client: common.HTTPClient(time.Minute),
	}

	lflag.Do(func() {
		h.url = *url
		h.token = *token
	})

	return h
}

// Validate checks if the source is properly configured.
func (h *HTTPSource) Validate() error {
	if h.url == "" {
		return errors.New("records-url is required for the http provider")
	}
	return nil
}

// FetchRecords performs an authenticated GET against the record API and
// decodes the tenant's UC records.
func (h *HTTPSource) FetchRecords(ctx context.Context) ([]types.UCRecord, error) {
	if h.token == "" {
		return nil, ErrAuthExpired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build records request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("records request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: upstream returned %d", ErrAuthExpired, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("records request returned %d: %s", resp.StatusCode, string(body))
	}

	var records []types.UCRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records response: %w", err)
	}
	return records, nil
}
