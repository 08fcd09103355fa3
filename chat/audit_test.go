package chat

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAuditRecordAndClose(t *testing.T) {
	audit, err := OpenAudit(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenAudit: %v", err)
	}
	if audit == nil {
		t.Fatal("audit is nil while enabled")
	}
	defer audit.Close()

	audit.Record(AuditEntry{
		RequestID:   "req-1",
		SessionID:   "sess-1",
		Model:       "test-model",
		Deployment:  "test",
		Provider:    "baseline_openai",
		PromptHash:  Signature("hello"),
		PromptChars: 5,
		Status:      200,
		Duration:    120 * time.Millisecond,
	})

	var count int
	if err := audit.db.QueryRow("SELECT COUNT(*) FROM generation_audit").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("recorded rows = %d, want 1", count)
	}
}

func TestAuditDisabledByEnv(t *testing.T) {
	t.Setenv("ENABLE_GENERATION_AUDIT", "false")

	audit, err := OpenAudit(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenAudit: %v", err)
	}
	if audit != nil {
		t.Fatal("audit active despite ENABLE_GENERATION_AUDIT=false")
	}

	// A nil audit must be safe to use.
	audit.Record(AuditEntry{RequestID: "req-1"})
	if err := audit.Close(); err != nil {
		t.Fatalf("Close on nil audit: %v", err)
	}
}

func TestSignature(t *testing.T) {
	a := Signature("hello")
	b := Signature("hello")
	c := Signature("world")
	if a != b {
		t.Error("Signature is not deterministic")
	}
	if a == c {
		t.Error("distinct content produced identical signatures")
	}
	if len(a) != 16 {
		t.Errorf("len(signature) = %d, want 16", len(a))
	}
}
