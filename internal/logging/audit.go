// Audit logging: structured JSONL events covering every state-changing
// operation (fragment writes, tool executions, provider calls, librarian
// runs). One line per event so the trail stays greppable and parseable.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Fragment store events
	AuditFragmentCreate  AuditEventType = "fragment_create"
	AuditFragmentUpdate  AuditEventType = "fragment_update"
	AuditFragmentArchive AuditEventType = "fragment_archive"
	AuditFragmentRestore AuditEventType = "fragment_restore"
	AuditFragmentDelete  AuditEventType = "fragment_delete"
	AuditFragmentRevert  AuditEventType = "fragment_revert"

	// Branch events
	AuditBranchCreate AuditEventType = "branch_create"
	AuditBranchSwitch AuditEventType = "branch_switch"
	AuditBranchDelete AuditEventType = "branch_delete"

	// Chain events
	AuditChainSection   AuditEventType = "chain_section"
	AuditChainVariation AuditEventType = "chain_variation"
	AuditChainReorder   AuditEventType = "chain_reorder"
	AuditChainRemove    AuditEventType = "chain_remove"

	// Generation events
	AuditGenerateStart AuditEventType = "generate_start"
	AuditGenerateSave  AuditEventType = "generate_save"
	AuditGenerateError AuditEventType = "generate_error"

	// Provider events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Tool events
	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolBlocked  AuditEventType = "tool_blocked"
	AuditToolError    AuditEventType = "tool_error"

	// Librarian events
	AuditLibrarianQueued   AuditEventType = "librarian_queued"
	AuditLibrarianRun      AuditEventType = "librarian_run"
	AuditLibrarianComplete AuditEventType = "librarian_complete"
	AuditLibrarianError    AuditEventType = "librarian_error"
)

// AuditEvent is one structured audit record.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	StoryID    string                 `json:"story,omitempty"`
	RequestID  string                 `json:"req,omitempty"`
	Target     string                 `json:"target,omitempty"` // fragment/branch/tool the op acted on
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit log file. No-op when file logging is disabled.
func InitAudit() error {
	mu.RLock()
	dir := opts.Dir
	mu.RUnlock()
	if dir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_audit.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		_ = auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger emits audit events scoped to a story and request.
type AuditLogger struct {
	storyID   string
	requestID string
}

// Audit returns an unscoped audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditFor returns an audit logger scoped to a story and request.
func AuditFor(storyID, requestID string) *AuditLogger {
	return &AuditLogger{storyID: storyID, requestID: requestID}
}

// Log writes one audit event, filling in scope defaults.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.StoryID == "" {
		event.StoryID = a.storyID
	}
	if event.RequestID == "" {
		event.RequestID = a.requestID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = auditFile.Write(append(data, '\n'))
}

// Ok records a successful event with a target.
func (a *AuditLogger) Ok(event AuditEventType, target string) {
	a.Log(AuditEvent{EventType: event, Target: target, Success: true})
}

// Fail records a failed event with the error.
func (a *AuditLogger) Fail(event AuditEventType, target string, err error) {
	e := AuditEvent{EventType: event, Target: target, Success: false}
	if err != nil {
		e.Error = err.Error()
	}
	a.Log(e)
}
