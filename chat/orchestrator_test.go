package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"charla/models"
	"charla/providers"
	"charla/session"
)

// capturedRequest is the chat completion body the fake upstream received.
type capturedRequest struct {
	Model             string              `json:"model"`
	Messages          []providers.Message `json:"messages"`
	Temperature       float64             `json:"temperature"`
	MaxTokens         int                 `json:"max_tokens"`
	RepetitionPenalty float64             `json:"repetition_penalty"`
}

func completionJSON(text string) string {
	return fmt.Sprintf(`{"model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, text)
}

type testEnv struct {
	svc      *Service
	store    *session.Store
	requests *atomic.Int64
	captured *capturedRequest
	slept    *[]time.Duration
}

// newTestEnv wires a Service to a fake OpenAI-compatible upstream. handler
// decides the response per request; the default is a fixed completion.
func newTestEnv(t *testing.T, maxRetries int, handler http.HandlerFunc) *testEnv {
	t.Helper()

	var requests atomic.Int64
	var capturedMu sync.Mutex
	captured := &capturedRequest{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var body capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			capturedMu.Lock()
			*captured = body
			capturedMu.Unlock()
		}
		handler(w, r)
	}))
	t.Cleanup(upstream.Close)

	deployments := models.NewDeploymentRegistry()
	deployments.Register(&models.Deployment{
		ID:              "test-deployment",
		ModelID:         "test-model",
		Provider:        models.ProviderBaselineOpenAI,
		ProviderModelID: "test-model",
		Endpoint: models.EndpointConfig{
			BaseURL:      upstream.URL + "/v1/chat/completions",
			Timeout:      2 * time.Second,
			MaxRetries:   maxRetries,
			RetryBackoff: 10 * time.Millisecond,
		},
	})

	store := session.NewStore(filepath.Join(t.TempDir(), "chats_db.json"))
	slept := &[]time.Duration{}

	svc := NewService(ServiceConfig{
		Store:       store,
		Profiles:    models.NewProfileRegistry(),
		Deployments: deployments,
		Providers: map[models.ProviderType]providers.Provider{
			models.ProviderBaselineOpenAI: providers.NewBaselineOpenAIProvider(),
		},
		Model: "test-model",
		Sleep: func(d time.Duration) { *slept = append(*slept, d) },
	})

	return &testEnv{svc: svc, store: store, requests: &requests, captured: captured, slept: slept}
}

func TestSendMessageAppendsPair(t *testing.T) {
	env := newTestEnv(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("hi there"))
	})

	reply, err := env.svc.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q, want %q", reply, "hi there")
	}

	// First send auto-creates Chat 1 and appends exactly the pair.
	sessions := env.store.Sessions()
	if len(sessions) != 1 || sessions[0].Title != "Chat 1" {
		t.Fatalf("sessions = %+v, want one Chat 1", sessions)
	}
	history := sessions[0].History
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Role != session.RoleUser || history[0].Content != "hello" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != session.RoleAssistant || history[1].Content != "hi there" {
		t.Errorf("history[1] = %+v", history[1])
	}
}

func TestSendMessageWhitespaceIsNoop(t *testing.T) {
	env := newTestEnv(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("never"))
	})

	reply, err := env.svc.SendMessage(context.Background(), "   \n\t ")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "" {
		t.Fatalf("reply = %q, want empty", reply)
	}
	if got := env.requests.Load(); got != 0 {
		t.Fatalf("upstream requests = %d, want 0", got)
	}
	if env.store.Len() != 0 {
		t.Fatalf("sessions created = %d, want 0", env.store.Len())
	}
}

func TestAuthFailureIsTerminal(t *testing.T) {
	env := newTestEnv(t, 3, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid token"}`)
	})

	sess, _ := env.store.Create()
	before := len(sess.History)

	_, err := env.svc.SendMessage(context.Background(), "hello")
	if KindOf(err) != KindAuth {
		t.Fatalf("error kind = %q (%v), want %q", KindOf(err), err, KindAuth)
	}
	if got := env.requests.Load(); got != 1 {
		t.Fatalf("upstream requests = %d, want 1 (no retries on 401)", got)
	}
	if len(sess.History) != before {
		t.Fatalf("history changed on terminal failure: %d -> %d", before, len(sess.History))
	}
}

func TestRateLimitRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	env := newTestEnv(t, 2, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"slow down"}`)
			return
		}
		fmt.Fprint(w, completionJSON("after retry"))
	})

	reply, err := env.svc.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "after retry" {
		t.Fatalf("reply = %q, want text from the retry", reply)
	}
	if got := env.requests.Load(); got != 2 {
		t.Fatalf("upstream requests = %d, want 2", got)
	}
	if len(*env.slept) != 1 || (*env.slept)[0] != 10*time.Millisecond {
		t.Fatalf("backoff sleeps = %v, want one of 10ms", *env.slept)
	}
}

func TestRateLimitExhaustsRetryBudget(t *testing.T) {
	env := newTestEnv(t, 2, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := env.svc.SendMessage(context.Background(), "hello")
	if KindOf(err) != KindRateLimit {
		t.Fatalf("error kind = %q (%v), want %q", KindOf(err), err, KindRateLimit)
	}
	// Initial attempt plus two retries, then terminal.
	if got := env.requests.Load(); got != 3 {
		t.Fatalf("upstream requests = %d, want 3", got)
	}
	if env.store.Len() != 1 {
		t.Fatalf("sessions = %d, want the auto-created one", env.store.Len())
	}
	if history := env.store.Sessions()[0].History; len(history) != 0 {
		t.Fatalf("history length = %d, want 0 after terminal failure", len(history))
	}
}

func TestProviderErrorIsTerminal(t *testing.T) {
	env := newTestEnv(t, 3, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	})

	_, err := env.svc.SendMessage(context.Background(), "hello")
	if KindOf(err) != KindProvider {
		t.Fatalf("error kind = %q (%v), want %q", KindOf(err), err, KindProvider)
	}
	if got := env.requests.Load(); got != 1 {
		t.Fatalf("upstream requests = %d, want 1 (5xx is not retried)", got)
	}
}

func TestMalformedResponseIsParseError(t *testing.T) {
	env := newTestEnv(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected":"shape"}`)
	})

	_, err := env.svc.SendMessage(context.Background(), "hello")
	if KindOf(err) != KindParse {
		t.Fatalf("error kind = %q (%v), want %q", KindOf(err), err, KindParse)
	}
}

func TestContextWindowBoundsRequest(t *testing.T) {
	env := newTestEnv(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("ok"))
	})

	sess, _ := env.store.Create()
	for i := 0; i < 5; i++ {
		if err := env.store.AppendExchange(sess, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if len(sess.History) != 10 {
		t.Fatalf("seeded history = %d, want 10", len(sess.History))
	}

	if _, err := env.svc.SendMessage(context.Background(), "latest question"); err != nil {
		t.Fatal(err)
	}

	msgs := env.captured.Messages
	// One system instruction, the trailing six history messages, the prompt.
	if len(msgs) != 8 {
		t.Fatalf("request carried %d messages, want 8", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("msgs[0].Role = %q, want system", msgs[0].Role)
	}
	if msgs[1].Content != "q2" {
		t.Errorf("window starts at %q, want q2", msgs[1].Content)
	}
	if msgs[6].Content != "a4" {
		t.Errorf("window ends at %q, want a4", msgs[6].Content)
	}
	if msgs[7].Role != "user" || msgs[7].Content != "latest question" {
		t.Errorf("msgs[7] = %+v, want the new prompt", msgs[7])
	}
}

func TestMissingProfileUsesDefaults(t *testing.T) {
	env := newTestEnv(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("ok"))
	})

	if _, err := env.svc.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("generation must not fail for missing profile: %v", err)
	}
	if env.captured.MaxTokens != models.DefaultProfile.MaxTokens {
		t.Errorf("max_tokens = %d, want default %d", env.captured.MaxTokens, models.DefaultProfile.MaxTokens)
	}
	if env.captured.Temperature != models.DefaultProfile.Temperature {
		t.Errorf("temperature = %g, want default %g", env.captured.Temperature, models.DefaultProfile.Temperature)
	}
	if env.captured.RepetitionPenalty != models.DefaultProfile.RepetitionPenalty {
		t.Errorf("repetition_penalty = %g, want default %g", env.captured.RepetitionPenalty, models.DefaultProfile.RepetitionPenalty)
	}
}

func TestGenerateLeavesSessionUntouched(t *testing.T) {
	env := newTestEnv(t, 0, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	sess, _ := env.store.Create()
	env.store.AppendExchange(sess, "q", "a")
	before := len(sess.History)

	if _, err := env.svc.Generate(context.Background(), sess, "prompt"); err == nil {
		t.Fatal("want error from throttled upstream")
	}
	if len(sess.History) != before {
		t.Fatalf("Generate mutated history: %d -> %d", before, len(sess.History))
	}
}

func TestLanguageInstruction(t *testing.T) {
	tests := []struct {
		prompt  string
		spanish bool
	}{
		{"hello there", false},
		{"what is the weather", false},
		{"hola señor", true},
		{"¿Qué hora es?", true},
		{"ação", false}, // Portuguese cedilla is not on the hint list
		{"cómo estás", true},
		{"¡Vamos!", true},
	}
	for _, tt := range tests {
		got := languageInstruction(tt.prompt)
		isSpanish := got == "Eres un asistente útil. Responde siempre en español."
		if isSpanish != tt.spanish {
			t.Errorf("languageInstruction(%q): spanish = %v, want %v", tt.prompt, isSpanish, tt.spanish)
		}
	}
}

func TestAskIsStateless(t *testing.T) {
	env := newTestEnv(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("42"))
	})

	reply, err := env.svc.Ask(context.Background(), "meaning of life")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "42" {
		t.Fatalf("reply = %q, want 42", reply)
	}
	if env.store.Len() != 0 {
		t.Fatalf("Ask created %d sessions, want 0", env.store.Len())
	}
	if len(env.captured.Messages) != 2 {
		t.Fatalf("Ask sent %d messages, want system + user", len(env.captured.Messages))
	}
}

func TestConcurrentSendsKeepPairedHistory(t *testing.T) {
	env := newTestEnv(t, 0, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("ok"))
	})

	// The window read and the history append share the store lock, so
	// in-flight sends must not tear the history slice. Run under -race.
	const goroutines = 4
	const sends = 10

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < sends; i++ {
				prompt := fmt.Sprintf("g%d message %d", g, i)
				if _, err := env.svc.SendMessage(context.Background(), prompt); err != nil {
					t.Errorf("SendMessage(%q): %v", prompt, err)
				}
			}
		}(g)
	}
	wg.Wait()

	sessions := env.store.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	history := env.store.History(sessions[0])
	if len(history) != goroutines*sends*2 {
		t.Fatalf("len(history) = %d, want %d", len(history), goroutines*sends*2)
	}
	for i := 0; i < len(history); i += 2 {
		if history[i].Role != session.RoleUser || history[i+1].Role != session.RoleAssistant {
			t.Fatalf("history[%d:%d] roles = %s/%s, want user/assistant pair",
				i, i+2, history[i].Role, history[i+1].Role)
		}
	}
}
