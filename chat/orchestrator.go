package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"charla/models"
	"charla/providers"
	"charla/session"
)

const (
	// DefaultWindow is how many trailing history messages accompany a new
	// prompt: three user/assistant pairs.
	DefaultWindow = 6

	defaultTimeout    = 25 * time.Second
	defaultBackoff    = 30 * time.Second
	defaultMaxRetries = 2
)

// Service is the generation orchestrator plus the operations the
// presentation layer consumes: session management and message sending. It
// owns no ambient globals; everything it touches is passed in.
type Service struct {
	store       *session.Store
	profiles    *models.ProfileRegistry
	deployments *models.DeploymentRegistry
	providers   map[models.ProviderType]providers.Provider
	model       string
	window      int
	audit       *Audit
	sleep       func(time.Duration)
}

// ServiceConfig assembles a Service. Store, Profiles, Deployments, Providers
// and Model are required; the rest have working defaults.
type ServiceConfig struct {
	Store       *session.Store
	Profiles    *models.ProfileRegistry
	Deployments *models.DeploymentRegistry
	Providers   map[models.ProviderType]providers.Provider
	Model       string
	Window      int
	Audit       *Audit
	Sleep       func(time.Duration) // overridable for tests
}

// NewService creates the orchestrator.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Service{
		store:       cfg.Store,
		profiles:    cfg.Profiles,
		deployments: cfg.Deployments,
		providers:   cfg.Providers,
		model:       cfg.Model,
		window:      cfg.Window,
		audit:       cfg.Audit,
		sleep:       cfg.Sleep,
	}
}

// SessionSummary is the listing view the presentation layer renders.
type SessionSummary struct {
	ID    string `json:"id"`
	Title string `json:"titulo"`
}

// Sessions lists all sessions in creation order.
func (s *Service) Sessions() []SessionSummary {
	sessions := s.store.Sessions()
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionSummary{ID: sess.ID, Title: sess.Title})
	}
	return out
}

// CreateSession allocates a new empty session and makes it current.
func (s *Service) CreateSession() (*session.ChatSession, error) {
	return s.store.Create()
}

// SelectSession makes an existing session current.
func (s *Service) SelectSession(id string) (*session.ChatSession, error) {
	return s.store.Select(id)
}

// DeleteSession removes a session.
func (s *Service) DeleteSession(id string) error {
	return s.store.Delete(id)
}

// History returns the current session's ordered message history, healing the
// current pointer first.
func (s *Service) History() ([]session.Message, error) {
	sess, err := s.ensureCurrent()
	if err != nil {
		return nil, err
	}
	return s.store.History(sess), nil
}

// ensureCurrent wraps the store's self-healing check. A persistence failure
// while auto-creating is logged but not fatal: the session still exists in
// memory for the rest of the run.
func (s *Service) ensureCurrent() (*session.ChatSession, error) {
	sess, err := s.store.EnsureCurrent()
	if sess == nil {
		return nil, err
	}
	if err != nil {
		log.Printf("[CHAT] Session available in memory only: %v", err)
	}
	return sess, nil
}

// SendMessage generates a reply for the current session and appends the
// user/assistant pair to its history. An all-whitespace prompt is a no-op.
// On terminal generation failure nothing is appended and the history is
// exactly as it was before the call.
func (s *Service) SendMessage(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", nil
	}

	sess, err := s.ensureCurrent()
	if err != nil {
		return "", err
	}

	text, err := s.Generate(ctx, sess, prompt)
	if err != nil {
		return "", err
	}

	// Durability failure does not undo the exchange the user just saw.
	if err := s.store.AppendExchange(sess, prompt, text); err != nil {
		log.Printf("[CHAT] Exchange not persisted: %v", err)
	}
	return text, nil
}

// Generate builds a provider request from the session's trailing history
// window plus the new prompt and returns the normalized reply. The session
// is never mutated here.
func (s *Service) Generate(ctx context.Context, sess *session.ChatSession, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", nil
	}

	messages := make([]providers.Message, 0, s.window+2)
	messages = append(messages, providers.Message{
		Role:    string(session.RoleSystem),
		Content: languageInstruction(prompt),
	})
	for _, m := range s.store.Window(sess, s.window) {
		messages = append(messages, providers.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, providers.Message{Role: string(session.RoleUser), Content: prompt})

	return s.complete(ctx, sess.ID, messages)
}

// Ask answers a one-shot prompt with no session bookkeeping. Used by the
// stateless DNS surface.
func (s *Service) Ask(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", nil
	}
	messages := []providers.Message{
		{Role: string(session.RoleSystem), Content: languageInstruction(prompt)},
		{Role: string(session.RoleUser), Content: prompt},
	}
	return s.complete(ctx, "", messages)
}

// complete runs the provider call loop: profile application, bounded retry
// on throttling, terminal classification of everything else.
func (s *Service) complete(ctx context.Context, sessionID string, messages []providers.Message) (string, error) {
	deployment, ok := s.deployments.GetByModel(s.model)
	if !ok {
		all := s.deployments.All()
		if len(all) == 0 {
			return "", &GenerationError{Kind: KindProvider, Err: errors.New("no deployments configured")}
		}
		deployment = all[0]
		log.Printf("[CHAT] No deployment for model %q, using %q", s.model, deployment.ID)
	}

	provider, ok := s.providers[deployment.Provider]
	if !ok {
		return "", &GenerationError{
			Kind: KindProvider,
			Err:  fmt.Errorf("no provider registered for type %q", deployment.Provider),
		}
	}

	profile := s.profiles.Resolve(s.model)
	unified := &providers.UnifiedRequest{
		Model:             s.model,
		Messages:          messages,
		Temperature:       profile.Temperature,
		MaxTokens:         profile.MaxTokens,
		RepetitionPenalty: profile.RepetitionPenalty,
	}

	providerReq, err := provider.TranslateRequest(ctx, unified, deployment)
	if err != nil {
		return "", &GenerationError{Kind: KindProvider, Err: fmt.Errorf("translate request: %w", err)}
	}
	if providerReq.Timeout <= 0 {
		providerReq.Timeout = defaultTimeout
	}

	requestID := uuid.NewString()
	promptText := messages[len(messages)-1].Content
	entry := AuditEntry{
		RequestID:   requestID,
		SessionID:   sessionID,
		Model:       s.model,
		Deployment:  deployment.ID,
		Provider:    string(deployment.Provider),
		PromptHash:  Signature(promptText),
		PromptChars: len(promptText),
	}

	maxRetries := deployment.Endpoint.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := deployment.Endpoint.RetryBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	attempts := maxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		resp, err := provider.Execute(ctx, providerReq)
		entry.Duration = time.Since(start)

		if err != nil {
			kind := KindNetwork
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("request timed out: %w", err)
			}
			entry.Status = 0
			entry.Error = err.Error()
			s.audit.Record(entry)
			return "", &GenerationError{Kind: kind, Err: err}
		}
		entry.Status = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusOK:
			unified, err := provider.TranslateResponse(ctx, resp, deployment)
			if err != nil {
				entry.Error = err.Error()
				s.audit.Record(entry)
				return "", &GenerationError{Kind: KindParse, Status: resp.StatusCode, Err: err}
			}
			text := strings.TrimSpace(unified.Text)
			if text == "" {
				err := fmt.Errorf("%w: empty completion", providers.ErrUnexpectedShape)
				entry.Error = err.Error()
				s.audit.Record(entry)
				return "", &GenerationError{Kind: KindParse, Status: resp.StatusCode, Err: err}
			}
			entry.ResponseHash = Signature(text)
			entry.ReplyChars = len(text)
			s.audit.Record(entry)
			return text, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			err := fmt.Errorf("credential rejected: %s", bodyExcerpt(resp.Body))
			entry.Error = err.Error()
			s.audit.Record(entry)
			return "", &GenerationError{Kind: KindAuth, Status: resp.StatusCode, Err: err}

		case resp.StatusCode == http.StatusTooManyRequests:
			entry.Error = "rate limited"
			s.audit.Record(entry)
			if attempt < attempts {
				log.Printf("[CHAT] Rate limited (attempt %d/%d), backing off %s", attempt, attempts, backoff)
				s.sleep(backoff)
				continue
			}
			return "", &GenerationError{
				Kind:   KindRateLimit,
				Status: resp.StatusCode,
				Err:    fmt.Errorf("still throttled after %d attempts", attempts),
			}

		default:
			err := fmt.Errorf("provider returned status %d: %s", resp.StatusCode, bodyExcerpt(resp.Body))
			entry.Error = err.Error()
			s.audit.Record(entry)
			return "", &GenerationError{Kind: KindProvider, Status: resp.StatusCode, Err: err}
		}
	}

	// Unreachable: the loop always returns.
	return "", &GenerationError{Kind: KindProvider, Err: errors.New("retry loop exhausted")}
}

// spanishHintChars are characters whose presence switches the system
// instruction to Spanish. A coarse best-effort hint, not language detection.
const spanishHintChars = "áéíóúüñÁÉÍÓÚÜÑ¿¡"

func languageInstruction(prompt string) string {
	if strings.ContainsAny(prompt, spanishHintChars) {
		return "Eres un asistente útil. Responde siempre en español."
	}
	return "You are a helpful assistant. Answer in English."
}

func bodyExcerpt(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
