package session

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem is synthesized for outgoing requests and never persisted.
	RoleSystem Role = "system"
)

// Message is a single conversation turn entry.
//
// The JSON keys keep the on-disk names used by the original chats_db.json
// format ("rol"/"contenido") so existing documents load unchanged.
type Message struct {
	Role    Role   `json:"rol"`
	Content string `json:"contenido"`
}

// ChatSession is one chat thread. History is ordered oldest first and is
// append-only: entries are never rewritten or reordered in place.
type ChatSession struct {
	ID      string    `json:"id"`
	Title   string    `json:"titulo"`
	History []Message `json:"historial"`
}

// Window returns the trailing n messages of the history. The returned slice
// aliases the history and must be treated as read-only. Sessions shared
// across goroutines must go through Store.Window instead.
func (s *ChatSession) Window(n int) []Message {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
