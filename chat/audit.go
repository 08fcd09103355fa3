package chat

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Audit records every generation attempt to a local SQLite database. A nil
// *Audit is valid and records nothing, so callers never need to branch.
type Audit struct {
	db *sql.DB
}

// AuditEntry describes one generation attempt, success or failure.
type AuditEntry struct {
	RequestID    string
	SessionID    string
	Model        string
	Deployment   string
	Provider     string
	PromptHash   string
	ResponseHash string
	PromptChars  int
	ReplyChars   int
	Status       int
	Error        string
	Duration     time.Duration
}

// OpenAudit initializes the audit database at path. Setting
// ENABLE_GENERATION_AUDIT=false disables auditing entirely, in which case a
// nil Audit is returned with no error.
func OpenAudit(path string) (*Audit, error) {
	if os.Getenv("ENABLE_GENERATION_AUDIT") == "false" {
		log.Println("[AUDIT] Generation audit logging DISABLED")
		return nil, nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS generation_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		session_id TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		model TEXT NOT NULL,
		deployment TEXT,
		provider TEXT,
		prompt_hash TEXT,
		response_hash TEXT,
		prompt_chars INTEGER,
		reply_chars INTEGER,
		status INTEGER,
		error TEXT,
		duration_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_audit_session ON generation_audit(session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON generation_audit(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_model ON generation_audit(model);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	log.Println("[AUDIT] Generation audit database initialized")
	return &Audit{db: db}, nil
}

// Record writes one audit entry. Failures are logged, never propagated: the
// audit trail must not affect the generation path.
func (a *Audit) Record(e AuditEntry) {
	if a == nil || a.db == nil {
		return
	}

	_, err := a.db.Exec(`
		INSERT INTO generation_audit
		(request_id, session_id, model, deployment, provider, prompt_hash,
		 response_hash, prompt_chars, reply_chars, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.SessionID, e.Model, e.Deployment, e.Provider,
		e.PromptHash, e.ResponseHash, e.PromptChars, e.ReplyChars,
		e.Status, e.Error, e.Duration.Milliseconds(),
	)
	if err != nil {
		log.Printf("[AUDIT] Failed to record generation: %v", err)
	}
}

// Close closes the underlying database.
func (a *Audit) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Signature creates a short hash signature for content, used so the audit
// trail can correlate prompts and replies without storing them verbatim.
func Signature(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)[:16]
}
