package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
)

const maxResponseBytes = 1 << 20

// restClient is the JSON-over-HTTPS transport shared by the REST gateway adapters.
type restClient struct {
	gateway string
	baseURL string
	http    *http.Client
}

func newRESTClient(gateway, baseURL string, client *http.Client) restClient {
	if client == nil {
		client = http.DefaultClient
	}
	return restClient{
		gateway: gateway,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    client,
	}
}

// do sends payload (when non-nil) as JSON and decodes the response into out.
func (c restClient) do(ctx context.Context, method, path string, header http.Header, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.gateway, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.gateway, err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, c.gateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", ErrGatewayUnavailable, c.gateway, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s returned %d", ErrGatewayUnavailable, c.gateway, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrReferenceNotFound, c.gateway)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s returned %d", ErrGatewayRejected, c.gateway, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrGatewayUnavailable, c.gateway, err)
	}
	return nil
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// toMajor converts minor units to the decimal amount Flutterwave and Monnify expect.
func toMajor(amount int64) float64 {
	return float64(amount) / 100
}

func toMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
