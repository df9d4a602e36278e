// Package aitest provides a fake OpenAI-compatible upstream for tests.
package aitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/lumichat/plugin/ai"
)

// Server is a fake chat completions endpoint.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	fragments []string
	status    int
	// hold, when set, pauses a stream after its first fragment until closed.
	hold     chan struct{}
	release  func()
	requests []openai.ChatCompletionRequest
}

// NewServer starts a fake upstream replying with the concatenation of fragments.
// Streaming requests receive one chunk per fragment.
func NewServer(t *testing.T, fragments ...string) *Server {
	t.Helper()
	s := &Server{fragments: fragments, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FailWith makes every following request fail with the given HTTP status.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// HoldAfterFirstFragment pauses streams after the first fragment until release is called.
func (s *Server) HoldAfterFirstFragment() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
	var once sync.Once
	hold := s.hold
	s.release = func() { once.Do(func() { close(hold) }) }
	return s.release
}

// Close releases held streams and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	release := s.release
	s.mu.Unlock()
	if release != nil {
		release()
	}
	s.Server.Close()
}

// Requests returns the requests received so far.
func (s *Server) Requests() []openai.ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), s.requests...)
}

// Reply is the full text the server answers with.
func (s *Server) Reply() string {
	return strings.Join(s.fragments, "")
}

// LLMConfig returns a config pointing at the fake server.
func (s *Server) LLMConfig() *ai.LLMConfig {
	return &ai.LLMConfig{
		Provider: ai.ProviderOpenAI,
		Model:    "fake-model",
		APIKey:   "test-key",
		BaseURL:  s.URL + "/v1",
	}
}

// LLMService returns a real go-openai backed service talking to the fake server.
func (s *Server) LLMService(t *testing.T) ai.LLMService {
	t.Helper()
	llm, err := ai.NewLLMService(s.LLMConfig())
	if err != nil {
		t.Fatalf("failed to create llm service: %v", err)
	}
	return llm
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	status := s.status
	hold := s.hold
	s.mu.Unlock()

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"message":"upstream failure","type":"server_error","code":%d}}`, status)
		return
	}

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:      "chatcmpl-test",
			Object:  "chat.completion",
			Created: 1,
			Model:   req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: s.Reply()},
				FinishReason: openai.FinishReasonStop,
			}},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for i, fragment := range s.fragments {
		chunk, _ := json.Marshal(openai.ChatCompletionStreamResponse{
			ID:      "chatcmpl-test",
			Object:  "chat.completion.chunk",
			Created: 1,
			Model:   req.Model,
			Choices: []openai.ChatCompletionStreamChoice{{
				Index: 0,
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: fragment},
			}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		if flusher != nil {
			flusher.Flush()
		}
		if i == 0 && hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
