package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestAuditEvents verifies JSONL events land in the audit file with scope
// defaults applied.
func TestAuditEvents(t *testing.T) {
	tempDir := t.TempDir()
	resetState()
	if err := Initialize(Options{Dir: tempDir, Level: "debug"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("init audit: %v", err)
	}

	a := AuditFor("story-abc", "req-9")
	a.Ok(AuditFragmentCreate, "pr-bokura")
	a.Fail(AuditToolBlocked, "patchFragment", os.ErrPermission)
	a.Log(AuditEvent{EventType: AuditGenerateSave, Target: "pr-bokura", Success: true, DurationMs: 42})

	CloseAudit()
	CloseAll()

	entries, _ := os.ReadDir(tempDir)
	var auditName string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_audit.jsonl") {
			auditName = e.Name()
		}
	}
	if auditName == "" {
		t.Fatal("audit file not created")
	}

	data, err := os.ReadFile(filepath.Join(tempDir, auditName))
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 audit lines, got %d", len(lines))
	}

	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if first.StoryID != "story-abc" || first.RequestID != "req-9" {
		t.Errorf("scope defaults not applied: %+v", first)
	}
	if first.EventType != AuditFragmentCreate || !first.Success {
		t.Errorf("unexpected first event: %+v", first)
	}

	var second AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if second.Success || second.Error == "" {
		t.Errorf("failure event should carry error: %+v", second)
	}
}

// TestAuditDisabled verifies audit is a no-op without a log directory.
func TestAuditDisabled(t *testing.T) {
	resetState()
	if err := Initialize(Options{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	Audit().Ok(AuditFragmentCreate, "pr-bokura")
	CloseAudit()
}
