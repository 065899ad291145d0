package infer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/framelab/sreval/internal/imageio"
)

// HTTPEngine delegates inference to a model server: the staged low-quality
// frame is POSTed as PNG and the response body is the super-resolved PNG.
type HTTPEngine struct {
	base
	endpoint string
	client   *http.Client
}

// NewHTTPEngine points the engine at a model server endpoint.
func NewHTTPEngine(endpoint string) *HTTPEngine {
	return &HTTPEngine{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

func (e *HTTPEngine) Test(ctx context.Context) error {
	if e.lq == nil {
		return fmt.Errorf("no sample fed")
	}
	payload, err := imageio.Encode(e.lq)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model server returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read inference response: %w", err)
	}
	out, err := imageio.Decode(data)
	if err != nil {
		return fmt.Errorf("model server returned invalid image: %w", err)
	}
	e.out = out
	return nil
}
