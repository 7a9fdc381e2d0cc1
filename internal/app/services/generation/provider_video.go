package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/storyloft/studio_layer/internal/app/domain/job"
	"github.com/storyloft/studio_layer/pkg/logger"
)

// HTTPVideoProvider submits render requests to an external video service.
// The service answers with an accepted render id and later POSTs the result
// to our callback endpoint, so Generate always finishes with ErrAsync.
type HTTPVideoProvider struct {
	client       *http.Client
	endpoint     *url.URL
	apiKey       string
	callbackBase string
	log          *logger.Logger
}

// NewHTTPVideoProvider constructs a video provider. callbackBase is the
// public base URL of this server; the per-job callback URL is derived from
// it and handed to the render service.
func NewHTTPVideoProvider(client *http.Client, endpoint, apiKey, callbackBase string, log *logger.Logger) (*HTTPVideoProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("video endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse video endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("video-http")
	}
	return &HTTPVideoProvider{
		client:       client,
		endpoint:     parsed,
		apiKey:       strings.TrimSpace(apiKey),
		callbackBase: strings.TrimRight(strings.TrimSpace(callbackBase), "/"),
		log:          log,
	}, nil
}

func (p *HTTPVideoProvider) Name() string   { return "video-http" }
func (p *HTTPVideoProvider) Kind() job.Kind { return job.KindVideo }

func (p *HTTPVideoProvider) Generate(ctx context.Context, j job.Job) (string, error) {
	payload := map[string]interface{}{
		"job_id":       j.ID,
		"prompt":       j.Prompt,
		"model":        j.Model,
		"callback_url": fmt.Sprintf("%s/jobs/%s/callback", p.callbackBase, j.ID),
	}
	for k, v := range j.Params {
		payload["param_"+k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read render response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("render service status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	renderID := gjson.GetBytes(raw, "render_id").String()
	if renderID == "" {
		return "", fmt.Errorf("render service response missing render_id")
	}
	p.log.WithField("job_id", j.ID).WithField("render_id", renderID).Info("render accepted")
	return "", ErrAsync
}
