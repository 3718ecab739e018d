// Package collyfetcher downloads static assets with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 60 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a single request; the caller's context may end it sooner.
	Timeout time.Duration
	Headers http.Header
}

// Pacer throttles requests per host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher issues one GET per asset through a cloned base collector.
type Fetcher struct {
	cfg           Config
	pacer         Pacer
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. pacer may be nil.
func New(cfg Config, pacer Pacer) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, pacer: pacer, baseCollector: c}
}

type result struct {
	status      int
	contentType string
	body        []byte
	err         error
}

// Fetch downloads url and returns its body and content type. Any status
// outside 2xx is an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", errors.New("asset url is empty")
	}
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx, url); err != nil {
			return nil, "", err
		}
	}
	var res result
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, &res)

	if err := f.runCollector(ctx, collector, url, &res); err != nil {
		return nil, "", err
	}
	if res.status < http.StatusOK || res.status >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", url, res.status)
	}
	return res.body, res.contentType, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, res *result) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
		if r.Headers != nil {
			res.contentType = r.Headers.Get("Content-Type")
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, res *result) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if res.err != nil {
			return fmt.Errorf("colly response failed: %w", res.err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
