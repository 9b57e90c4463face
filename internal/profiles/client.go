package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"servhub/internal/models"
)

// HTTPProfileClient talks to the profile collaborator's REST endpoint.
type HTTPProfileClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProfileClient(baseURL string, timeout time.Duration) *HTTPProfileClient {
	if timeout <= 0 {
		timeout = models.DefaultProfileFetchTimeout * time.Second
	}
	return &HTTPProfileClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPProfileClient) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/profiles/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("profile service returned status %d", resp.StatusCode)
	}

	var profile models.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}
