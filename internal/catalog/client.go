// Package catalog is a client for the remote record catalog's JSON API.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/JakeFAU/catalog-archiver/internal/catalog"

// Paths of the catalog endpoints, relative to the base URL.
const (
	searchPath = "/api/roboShopItems/list"
	detailPath = "/api/roboShopItems/get/"
)

// Pacer throttles outbound requests.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config holds client settings.
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Client talks to the catalog over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	pacer  Pacer
	logger *zap.Logger
	tracer trace.Tracer
}

// NewClient builds a Client. httpClient and pacer may be nil.
func NewClient(cfg Config, httpClient *http.Client, pacer Pacer, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("catalog base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Client{cfg: cfg, http: httpClient, pacer: pacer, logger: logger, tracer: tp.Tracer(tracerName)}, nil
}

// Search fetches one page of results. A non-success status is reported in the
// response, not as an error; errors mean the request itself failed.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.Search", trace.WithAttributes(
		attribute.Int64("catalog.page", req.Page),
		attribute.Int64("catalog.page_size", req.PageSize),
	))
	defer span.End()
	body, err := json.Marshal(req)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("encode search request: %w", err)
	}
	status, payload, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+searchPath, body)
	if err != nil {
		return SearchResponse{}, err
	}
	resp := SearchResponse{StatusCode: status}
	if !isSuccess(status) {
		return resp, nil
	}
	var env listEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return SearchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	if env.StatusCode != 0 {
		resp.StatusCode = env.StatusCode
	}
	resp.Items = env.Response.Items
	return resp, nil
}

// GetDetail fetches the full record for id.
func (c *Client) GetDetail(ctx context.Context, id int64) (DetailResponse, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.GetDetail", trace.WithAttributes(
		attribute.Int64("catalog.id", id),
	))
	defer span.End()
	target := c.cfg.BaseURL + detailPath + strconv.FormatInt(id, 10)
	status, payload, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return DetailResponse{}, err
	}
	resp := DetailResponse{StatusCode: status}
	if !isSuccess(status) {
		return resp, nil
	}
	var env detailEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return DetailResponse{}, fmt.Errorf("decode detail response %d: %w", id, err)
	}
	if env.StatusCode != 0 {
		resp.StatusCode = env.StatusCode
	}
	resp.Item = env.Response
	return resp, nil
}

// do sends one request and annotates the active span with its outcome.
func (c *Client) do(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	span := trace.SpanFromContext(ctx)
	status, payload, err := c.send(ctx, method, target, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return status, payload, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	if !isSuccess(status) {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	return status, payload, nil
}

func (c *Client) send(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, target); err != nil {
			return 0, nil, err
		}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close response body failed", zap.Error(cerr))
		}
	}()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debug("catalog request",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp.StatusCode, payload, nil
}
