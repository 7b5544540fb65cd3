package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/engineer"
)

const okResult = `{"refinedPrompt":"Act as...","whyThisWorks":"CO-STAR","suggestedVariables":[],"provider":"ollama","model":"llama3.2"}`

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// flaky fails the first n round trips with a transport error and then
// answers with body.
func flaky(n int32, status int, body string, calls *atomic.Int32) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) <= n {
			return nil, errors.New("connection reset by peer")
		}
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})}
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestEngineer_RetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	rec := &sleepRecorder{}
	c := New("http://promptarch.test", WithHTTPClient(flaky(2, http.StatusOK, okResult, &calls)), WithSleep(rec.sleep))

	res, err := c.Engineer(context.Background(), engineer.Request{UserInput: "idea"})
	require.NoError(t, err)
	assert.Equal(t, "Act as...", res.RefinedPrompt)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.delays)
}

func TestEngineer_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	rec := &sleepRecorder{}
	c := New("http://promptarch.test", WithHTTPClient(flaky(100, http.StatusOK, okResult, &calls)), WithSleep(rec.sleep))

	_, err := c.Engineer(context.Background(), engineer.Request{UserInput: "idea"})
	require.Error(t, err)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.Network, e.Code)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Equal(t, int32(MaxRetries+1), calls.Load())
	assert.Len(t, rec.delays, MaxRetries)
}

func TestEngineer_StructuredErrorNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apperr.Code
	}{
		{"validation", http.StatusBadRequest, `{"error":"Input invalid or too long. Max 5000 characters.","errorCode":"VALIDATION_ERROR"}`, apperr.Validation},
		{"unavailable", http.StatusServiceUnavailable, `{"error":"The ollama service is unavailable.","errorCode":"LLM_SERVICE_UNAVAILABLE"}`, apperr.ServiceUnavailable},
		{"generation", http.StatusInternalServerError, `{"error":"Failed to parse","errorCode":"LLM_GENERATION_FAILED","details":{"rawOutput":"garbage"}}`, apperr.GenerationFailed},
		{"no code", http.StatusInternalServerError, `{"error":"something broke"}`, apperr.GenerationFailed},
		{"unknown code", http.StatusInternalServerError, `{"error":"x","errorCode":"TEAPOT"}`, apperr.GenerationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			rec := &sleepRecorder{}
			c := New("http://promptarch.test", WithHTTPClient(flaky(0, tt.status, tt.body, &calls)), WithSleep(rec.sleep))

			_, err := c.Engineer(context.Background(), engineer.Request{UserInput: "idea"})
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.CodeOf(err))
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, rec.delays)
		})
	}
}

func TestEngineer_StructuredErrorKeepsDetails(t *testing.T) {
	var calls atomic.Int32
	c := New("http://promptarch.test", WithHTTPClient(flaky(0, http.StatusInternalServerError,
		`{"error":"Failed to parse","errorCode":"LLM_GENERATION_FAILED","details":{"rawOutput":"garbage"}}`, &calls)))

	_, err := c.Engineer(context.Background(), engineer.Request{UserInput: "idea"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "Failed to parse", e.Message)
	assert.Equal(t, "garbage", e.Details["rawOutput"])
}

func TestEngineer_UnstructuredErrorRetried(t *testing.T) {
	var calls atomic.Int32
	rec := &sleepRecorder{}
	c := New("http://promptarch.test", WithHTTPClient(flaky(0, http.StatusBadGateway, "<html>bad gateway</html>", &calls)), WithSleep(rec.sleep))

	_, err := c.Engineer(context.Background(), engineer.Request{UserInput: "idea"})
	assert.Equal(t, apperr.Network, apperr.CodeOf(err))
	assert.Equal(t, int32(MaxRetries+1), calls.Load())
}

// Two transport failures cost two real one-second pauses.
func TestEngineer_FlatBackoffTiming(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the real backoff")
	}
	var calls atomic.Int32
	c := New("http://promptarch.test", WithHTTPClient(flaky(2, http.StatusOK, okResult, &calls)))

	start := time.Now()
	_, err := c.Engineer(context.Background(), engineer.Request{UserInput: "idea"})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestCall_ContextCancelledDuringBackoff(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	c := New("http://promptarch.test",
		WithHTTPClient(flaky(100, http.StatusOK, okResult, &calls)),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err := c.Engineer(ctx, engineer.Request{UserInput: "idea"})
	assert.Equal(t, apperr.Network, apperr.CodeOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_AgainstServer(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/engineer-prompt":
			io.WriteString(w, `{"title":"Autumn Haiku"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/history":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			io.WriteString(w, `{"items":[{"id":"h1","originalInput":"idea","result":{"refinedPrompt":"p"},"favorite":true,"createdAt":"2026-01-02T03:04:05Z"}],"limit":5,"offset":0}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/history":
			io.WriteString(w, `{"deleted":3}`)
		case r.Method == http.MethodPut && r.URL.Path == "/favorites/h1":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/history/missing":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"Not found.","errorCode":"NOT_FOUND"}`)
		case r.URL.Path == "/models":
			io.WriteString(w, `{"providers":[{"provider":"ollama","models":["llama3.2"],"defaultModel":"llama3.2","default":true}]}`)
		case r.URL.Path == "/health":
			io.WriteString(w, `{"status":"ok"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("tok"))
	ctx := context.Background()

	title, err := c.Title(ctx, "Write a haiku", "", "")
	require.NoError(t, err)
	assert.Equal(t, "Autumn Haiku", title)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Contains(t, gotBody, `"task":"title"`)

	page, err := c.ListHistory(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "h1", page.Items[0].ID)
	assert.True(t, page.Items[0].Favorite)

	n, err := c.ClearHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, c.AddFavorite(ctx, "h1"))

	_, err = c.GetHistory(ctx, "missing")
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))

	cat, err := c.Models(ctx)
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.True(t, cat[0].Default)

	status, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", status)
}

func TestHealth_Degraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer srv.Close()

	status, err := New(srv.URL).Health(context.Background())
	assert.Equal(t, "degraded", status)
	assert.Error(t, err)
}
