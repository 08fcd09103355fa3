package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Store holds the full session collection plus the "current session" pointer
// and persists every structural mutation back to a single JSON document.
//
// The document is whole-file state with no locking: single-process use only.
// Multi-process access would need file locking or a real store.
type Store struct {
	mu       sync.Mutex
	path     string
	sessions []*ChatSession
	current  string // session id, "" when no session is current
}

// NewStore creates a store backed by the JSON document at path. The file is
// not touched until Load or the first mutation.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the backing document. A missing file yields an empty collection
// and no error. A malformed file is reported to the caller, but the store
// stays usable with an empty collection so the application can continue.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	s.current = ""

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	var sessions []*ChatSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		log.Printf("[STORE] Malformed session document %s, starting empty: %v", s.path, err)
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.sessions = sessions
	return nil
}

// save rewrites the whole document. Callers must hold s.mu. The write goes
// through a temp file and rename so a crash mid-write never leaves a
// half-written document behind.
func (s *Store) save() error {
	sessions := s.sessions
	if sessions == nil {
		// An empty collection serializes as [] rather than null.
		sessions = []*ChatSession{}
	}
	data, err := json.MarshalIndent(sessions, "", "    ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".chats-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Create allocates a new empty session titled "Chat N", appends it to the
// collection, makes it current and persists. The session exists in memory
// even when persistence fails; the I/O error is returned alongside it.
func (s *Store) Create() (*ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

func (s *Store) createLocked() (*ChatSession, error) {
	sess := &ChatSession{
		ID:    uuid.NewString(),
		Title: fmt.Sprintf("Chat %d", len(s.sessions)+1),
	}
	s.sessions = append(s.sessions, sess)
	s.current = sess.ID

	if err := s.save(); err != nil {
		log.Printf("[STORE] Created session %s but persist failed: %v", sess.ID, err)
		return sess, err
	}
	return sess, nil
}

// Select makes the session with the given id current.
func (s *Store) Select(id string) (*ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.ID == id {
			s.current = id
			return sess, nil
		}
	}
	return nil, fmt.Errorf("select %q: %w", id, ErrSessionNotFound)
}

// Delete removes the session with the given id and persists. Deleting the
// current session leaves the store with no current session; the next
// EnsureCurrent call heals that.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sess := range s.sessions {
		if sess.ID != id {
			continue
		}
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
		if s.current == id {
			s.current = ""
		}
		return s.save()
	}
	return fmt.Errorf("delete %q: %w", id, ErrSessionNotFound)
}

// Current returns the current session, or nil if none is current.
func (s *Store) Current() *ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Store) currentLocked() *ChatSession {
	if s.current == "" {
		return nil
	}
	for _, sess := range s.sessions {
		if sess.ID == s.current {
			return sess
		}
	}
	return nil
}

// EnsureCurrent guarantees exactly one current session: if none is current
// and sessions exist, the first one becomes current; if the collection is
// empty, a fresh session is created. Runs on every store-consuming entry
// point because deletion can leave the store without a current session
// mid-run, not just at startup.
func (s *Store) EnsureCurrent() (*ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess := s.currentLocked(); sess != nil {
		return sess, nil
	}
	if len(s.sessions) > 0 {
		s.current = s.sessions[0].ID
		return s.sessions[0], nil
	}
	return s.createLocked()
}

// Sessions returns the collection in creation order. The slice is a copy;
// the sessions themselves are shared.
func (s *Store) Sessions() []*ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ChatSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Len reports the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Window returns a copy of the trailing n messages of the session's history,
// read under the store lock. Safe against a concurrent AppendExchange.
func (s *Store) Window(sess *ChatSession, n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := sess.Window(n)
	out := make([]Message, len(view))
	copy(out, view)
	return out
}

// History returns a copy of the session's full history, read under the
// store lock.
func (s *Store) History(sess *ChatSession) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(sess.History))
	copy(out, sess.History)
	return out
}

// AppendExchange appends the user prompt and the assistant reply to the
// session's history, in that order, then persists. Persistence failure is
// returned but the in-memory append stands.
func (s *Store) AppendExchange(sess *ChatSession, prompt, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.History = append(sess.History,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, Content: reply},
	)
	if err := s.save(); err != nil {
		log.Printf("[STORE] Exchange appended to %s but persist failed: %v", sess.ID, err)
		return err
	}
	return nil
}

// Save persists the current collection. Exposed for callers that mutate
// session fields directly, such as a rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}
