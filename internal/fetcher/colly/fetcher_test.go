package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBodyAndContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Archive"))
		assert.Equal(t, "archiver-test", r.UserAgent())
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "archiver-test", Headers: http.Header{"X-Archive": {"yes"}}}, nil)
	for i := 0; i < 2; i++ {
		body, contentType, err := f.Fetch(context.Background(), srv.URL+"/thumb.jpg")
		require.NoError(t, err, "attempt %d", i)
		require.Equal(t, []byte{0xff, 0xd8, 0xff}, body)
		require.Equal(t, "image/jpeg", contentType)
	}
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	_, _, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestFetchHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 5 * time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchRequiresURL(t *testing.T) {
	t.Parallel()

	_, _, err := New(Config{}, nil).Fetch(context.Background(), "")
	require.Error(t, err)
}

type denyPacer struct{}

func (denyPacer) Wait(context.Context, string) error { return errors.New("paced out") }

func TestFetchWaitsForPacer(t *testing.T) {
	t.Parallel()

	_, _, err := New(Config{}, denyPacer{}).Fetch(context.Background(), "http://127.0.0.1:1/x")
	require.ErrorContains(t, err, "paced out")
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil)
	hooks := &stubHooks{}
	var res result
	f.configureCollectorHooks(hooks, &res)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	require.Equal(t, "yes", req.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("img"),
		Headers:    &http.Header{"Content-Type": {"image/png"}},
	})
	require.Equal(t, "img", string(res.body))
	require.Equal(t, "image/png", res.contentType)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, res.err, "boom")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
