package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/lumichat/internal/profile"
	"github.com/hrygo/lumichat/plugin/ai"
	"github.com/hrygo/lumichat/plugin/ai/aitest"
	"github.com/hrygo/lumichat/server/auth"
	v1 "github.com/hrygo/lumichat/server/router/api/v1"
	"github.com/hrygo/lumichat/server/service/chat"
	"github.com/hrygo/lumichat/store"
	teststore "github.com/hrygo/lumichat/store/test"
)

const (
	testSecret = "test-secret"
	testCookie = "lumichat.session-token"
)

type testServer struct {
	echo     *echo.Echo
	store    *store.Store
	upstream *aitest.Server
}

type testServerOptions struct {
	// noLLM leaves the LLM unconfigured.
	noLLM     bool
	rateLimit bool
}

func newTestServer(t *testing.T, opts testServerOptions, fragments ...string) *testServer {
	t.Helper()
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	upstream := aitest.NewServer(t, fragments...)

	cfg := chat.Config{}
	if opts.noLLM {
		_, cfg.LLMError = ai.NewLLMService(&ai.LLMConfig{Provider: ai.ProviderGemini, Model: "gemini-2.5-flash"})
	} else {
		cfg.LLM = upstream.LLMService(t)
	}

	p := &profile.Profile{
		Mode:             "dev",
		Secret:           testSecret,
		SessionCookie:    testCookie,
		RateLimitEnabled: opts.rateLimit,
	}
	e := echo.New()
	e.Validator = v1.NewRequestValidator()
	e.HTTPErrorHandler = v1.HTTPErrorHandler
	v1.NewAPIV1Service(p, ts, chat.NewService(ts, cfg)).RegisterRoutes(e)

	return &testServer{echo: e, store: ts, upstream: upstream}
}

func sessionToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateSessionToken(userID, "", time.Now().Add(time.Hour), []byte(testSecret))
	require.NoError(t, err)
	return token
}

// do performs a request as userID; an empty userID sends no credentials.
func (s *testServer) do(t *testing.T, method, path string, body any, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: sessionToken(t, userID)})
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) conversations(t *testing.T, userID string) []*store.Conversation {
	t.Helper()
	conversations, err := s.store.ListConversations(context.Background(), &store.FindConversation{CreatorID: &userID})
	require.NoError(t, err)
	return conversations
}

func (s *testServer) messages(t *testing.T, conversation *store.Conversation) []*store.Message {
	t.Helper()
	messages, err := s.store.ListMessages(context.Background(), &store.FindMessage{ConversationID: &conversation.ID})
	require.NoError(t, err)
	return messages
}

func newRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

func serve(s *testServer, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}
