package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"red-ai/internal/domain"
)

var hello = []domain.ChatMessage{{Role: "user", Content: "hello"}}

// ---------------------------------------------------------------------------
// URL helpers
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

func TestSpeechURL(t *testing.T) {
	require.Equal(t, "https://api.openai.com/v1/audio/speech", speechURL(""))
	require.Equal(t, "http://localhost:8080/v1/audio/speech", speechURL("http://localhost:8080/"))
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/red-ai")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/red-ai/")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, "/red-ai/open-ai-token", c.tokenParameterName())
	require.Equal(t, "gpt-3.5-turbo", c.model)
	require.Equal(t, 100, c.maxTokens)
	require.Nil(t, c.temperature)
	require.Equal(t, "tts-1", c.ttsModel)
	require.Equal(t, "nova", c.voice)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/red-ai",
		WithCompletionModel("gpt-4o-mini", 256, 0.2),
		WithSpeechVoice("tts-1-hd", "alloy"),
	)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", c.model)
	require.Equal(t, 256, c.maxTokens)
	require.InDelta(t, 0.2, *c.temperature, 1e-9)
	require.Equal(t, "tts-1-hd", c.ttsModel)
	require.Equal(t, "alloy", c.voice)
}

// ---------------------------------------------------------------------------
// resolveAPIKey: SSM caching
// ---------------------------------------------------------------------------

func TestResolveAPIKey_FetchedOnFirstCall(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/red-ai")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 1, calls)

	// subsequent calls must never hit SSM again
	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestResolveAPIKey_FailureNotCached(t *testing.T) {
	calls := 0
	g := &fakeGetter{err: errors.New("throttled")}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/red-ai")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.ErrorContains(t, err, "throttled")

	g.err = nil
	g.val = `{"token":"sk-recovered"}`
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-recovered", key)

	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 2, calls)
}

func TestClient_Complete_RecoversAfterCanceledKeyFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	g := &ctxGetter{val: `{"token":"sk-test"}`}
	c, err := NewClient(g, "/red-ai", WithBaseURL(srv.URL))
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(canceled, []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.ErrorIs(t, err, context.Canceled)

	out, err := c.Complete(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 2, g.calls)
}

// ctxGetter fails the way the SSM client does when its context is done.
type ctxGetter struct {
	val   string
	calls int
}

func (g *ctxGetter) GetParameter(ctx context.Context, _ string) (string, error) {
	g.calls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.val, nil
}

// ---------------------------------------------------------------------------
// fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestFetchAPIKey_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	key, err := fetchAPIKeyFromParamStore(context.Background(), g, "/red-ai/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)
}

func TestFetchAPIKey_JSONMissingTokenField(t *testing.T) {
	g := &fakeGetter{val: `{"other":"value"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/red-ai/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "API token is empty")
}

func TestFetchAPIKey_MalformedJSON(t *testing.T) {
	g := &fakeGetter{val: `{"broken`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/red-ai/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestFetchAPIKey_GetterError(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "/red-ai/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestFetchAPIKey_NilGetter(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), nil, "/red-ai/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestFetchAPIKey_EmptyName(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

// ---------------------------------------------------------------------------
// Client.Complete
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}, opts...)
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/red-ai", opts...)
	require.NoError(t, err)
	return c
}

func TestClient_Complete_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var got chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, "gpt-mock", got.Model)
		require.Equal(t, 100, got.MaxTokens)
		require.NotNil(t, got.Temperature)
		require.InDelta(t, 0.7, *got.Temperature, 1e-9)
		require.Equal(t, hello, got.Messages)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1670000000,
			"choices": [{
				"index": 0,
				"message": { "role": "assistant", "content": "hi there" }
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithCompletionModel("gpt-mock", 0, 0.7))
	resp, err := c.Complete(context.Background(), hello)
	require.NoError(t, err)
	require.Equal(t, "hi there", resp)
}

func TestClient_Complete_EmptyMessages(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/red-ai")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "messages")
}

func TestClient_Complete_StatusErrors(t *testing.T) {
	for _, status := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Complete(context.Background(), hello)
		srv.Close()

		require.Error(t, err)
		var statusErr *HTTPStatusError
		require.True(t, errors.As(err, &statusErr))
		require.Equal(t, status, statusErr.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
	}
}

func TestClient_Complete_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), hello)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Complete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), hello)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Complete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Complete(context.Background(), hello)
	require.Error(t, err)
}

func TestClient_Complete_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, hello)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Complete_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/red-ai")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Complete(context.Background(), hello)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Complete_TokenError(t *testing.T) {
	c, err := NewClient(&fakeGetter{err: errors.New("AccessDenied")}, "/red-ai")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), hello)
	require.Error(t, err)
	require.Contains(t, err.Error(), "AccessDenied")
}

// ---------------------------------------------------------------------------
// Client.Synthesize
// ---------------------------------------------------------------------------

func TestClient_Synthesize_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"model":"tts-1","input":"hi there","voice":"nova"}`, string(body))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-mp3-bytes"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	audio, err := c.Synthesize(context.Background(), "hi there")
	require.NoError(t, err)
	require.Equal(t, []byte("ID3-mp3-bytes"), audio)
}

func TestClient_Synthesize_EmptyText(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/red-ai")
	require.NoError(t, err)
	_, err = c.Synthesize(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestClient_Synthesize_EmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Synthesize(context.Background(), "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty audio")
}

func TestClient_Synthesize_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Synthesize(context.Background(), "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "speech request failed")
	require.Contains(t, err.Error(), "503")
}
