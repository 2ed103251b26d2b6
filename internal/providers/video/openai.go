package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sorastudio/internal/domain"
	"sorastudio/internal/infra"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 90 * time.Second
	videosPath     = "/videos"

	// maxErrorBody bounds how much of a failed response is read for the message.
	maxErrorBody = 64 << 10
)

// Options configures the client. The API key is the one credential shared by
// every operation; it is read once and never mutated.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	Project      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Client talks to the provider's /videos endpoints.
type Client struct {
	apiKey       string
	baseURL      string
	organization string
	project      string
	httpClient   *http.Client
	logger       *infra.Logger
}

// CreateRequest carries the parameters of a new generation job.
type CreateRequest struct {
	Prompt    string
	Model     string
	Size      string
	Seconds   string
	Reference *Reference
}

// Reference is an optional input image guiding the first frame.
type Reference struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ListParams controls pagination of List.
type ListParams struct {
	Limit int
	After string
	Order domain.Order
}

// NewClient constructs a client. A nil HTTP client gets a default with a
// generous timeout since downloads can be large.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("video: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		project:      strings.TrimSpace(opts.Project),
		httpClient:   client,
		logger:       logger,
	}, nil
}

// Create submits a new generation job as multipart form data.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*domain.Job, error) {
	ctx, span := infra.StartSpan(ctx, "video.create",
		attribute.String("video.model", req.Model),
		attribute.String("video.size", req.Size),
		attribute.String("video.seconds", req.Seconds),
	)
	defer span.End()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := []struct{ name, value string }{
		{"prompt", req.Prompt},
		{"model", req.Model},
		{"size", req.Size},
		{"seconds", req.Seconds},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, c.fail(span, fmt.Errorf("video: write %s field: %w", f.name, err))
		}
	}
	if ref := req.Reference; ref != nil && len(ref.Data) > 0 {
		filename := ref.Filename
		if filename == "" {
			filename = "reference"
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf("form-data; name=%q; filename=%q", "input_reference", filename))
		header.Set("Content-Type", ref.ContentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, c.fail(span, fmt.Errorf("video: create reference part: %w", err))
		}
		if _, err := part.Write(ref.Data); err != nil {
			return nil, c.fail(span, fmt.Errorf("video: write reference: %w", err))
		}
	}
	if err := writer.Close(); err != nil {
		return nil, c.fail(span, fmt.Errorf("video: close multipart: %w", err))
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+videosPath, body)
	if err != nil {
		return nil, c.fail(span, err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var job domain.Job
	if err := c.doJSON(httpReq, &job); err != nil {
		return nil, c.fail(span, err)
	}
	if job.ID == "" {
		return nil, c.fail(span, errors.New("video: response missing job id"))
	}
	span.SetAttributes(attribute.String("video.id", job.ID))
	c.logger.Debug().Str("video_id", job.ID).Str("model", job.Model).Msg("video: job created")
	return &job, nil
}

// Retrieve returns the current snapshot of a job.
func (c *Client) Retrieve(ctx context.Context, id string) (*domain.Job, error) {
	ctx, span := infra.StartSpan(ctx, "video.retrieve", attribute.String("video.id", id))
	defer span.End()

	httpReq, err := c.newRequest(ctx, http.MethodGet, c.jobURL(id), nil)
	if err != nil {
		return nil, c.fail(span, err)
	}
	var job domain.Job
	if err := c.doJSON(httpReq, &job); err != nil {
		return nil, c.fail(span, err)
	}
	span.SetAttributes(attribute.String("video.status", string(job.Status)))
	return &job, nil
}

// List returns one page of jobs.
func (c *Client) List(ctx context.Context, params ListParams) (*domain.JobList, error) {
	ctx, span := infra.StartSpan(ctx, "video.list", attribute.Int("video.limit", params.Limit))
	defer span.End()

	endpoint, err := url.Parse(c.baseURL + videosPath)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("video: parse base url: %w", err))
	}
	query := endpoint.Query()
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.After != "" {
		query.Set("after", params.After)
	}
	if params.Order != "" {
		query.Set("order", string(params.Order))
	}
	endpoint.RawQuery = query.Encode()

	httpReq, err := c.newRequest(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, c.fail(span, err)
	}
	var list domain.JobList
	if err := c.doJSON(httpReq, &list); err != nil {
		return nil, c.fail(span, err)
	}
	if list.Data == nil {
		list.Data = []domain.Job{}
	}
	return &list, nil
}

// Delete removes a job and its assets at the provider.
func (c *Client) Delete(ctx context.Context, id string) error {
	ctx, span := infra.StartSpan(ctx, "video.delete", attribute.String("video.id", id))
	defer span.End()

	httpReq, err := c.newRequest(ctx, http.MethodDelete, c.jobURL(id), nil)
	if err != nil {
		return c.fail(span, err)
	}
	if err := c.doJSON(httpReq, nil); err != nil {
		return c.fail(span, err)
	}
	c.logger.Debug().Str("video_id", id).Msg("video: job deleted")
	return nil
}

// Download fetches one binary variant of a completed job.
func (c *Client) Download(ctx context.Context, id string, variant domain.Variant) (*domain.Asset, error) {
	ctx, span := infra.StartSpan(ctx, "video.download",
		attribute.String("video.id", id),
		attribute.String("video.variant", string(variant)),
	)
	defer span.End()

	endpoint := c.jobURL(id) + "/content?variant=" + url.QueryEscape(string(variant))
	httpReq, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, c.fail(span, err)
	}
	httpReq.Header.Set("Accept", variant.ContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("video: download %s: %w", variant, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, c.fail(span, readAPIError(resp))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(span, fmt.Errorf("video: read %s: %w", variant, err))
	}
	contentType := variant.ContentType()
	if ct := strings.TrimSpace(resp.Header.Get("Content-Type")); ct != "" && ct != "application/octet-stream" {
		contentType = ct
	}
	span.SetAttributes(attribute.Int("video.bytes", len(data)))
	return &domain.Asset{
		JobID:       id,
		Variant:     variant,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// Remix creates a new job from a completed one. The source job is untouched.
func (c *Client) Remix(ctx context.Context, id, prompt string) (*domain.Job, error) {
	ctx, span := infra.StartSpan(ctx, "video.remix", attribute.String("video.source_id", id))
	defer span.End()

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(map[string]string{"prompt": prompt}); err != nil {
		return nil, c.fail(span, fmt.Errorf("video: encode remix: %w", err))
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.jobURL(id)+"/remix", body)
	if err != nil {
		return nil, c.fail(span, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var job domain.Job
	if err := c.doJSON(httpReq, &job); err != nil {
		return nil, c.fail(span, err)
	}
	if job.ID == "" {
		return nil, c.fail(span, errors.New("video: response missing job id"))
	}
	span.SetAttributes(attribute.String("video.id", job.ID))
	c.logger.Debug().Str("video_id", job.ID).Str("source_id", id).Msg("video: remix created")
	return &job, nil
}

func (c *Client) jobURL(id string) string {
	return c.baseURL + videosPath + "/" + url.PathEscape(id)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("video: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}
	if c.project != "" {
		req.Header.Set("OpenAI-Project", c.project)
	}
	return req, nil
}

// doJSON executes req and decodes a successful body into out when non-nil.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("video: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("video: decode response: %w", err)
	}
	return nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
