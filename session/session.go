// Package session implements the chat-mode session and command-grammar
// layer shared by the CLI's chat subcommand and any future front end:
// session state, the prefix-matched command parser, and a process-wide
// registry guarded by a lock.
package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for session and command-grammar failures. These are
// local to this package (rather than the root ragheal package) so the
// root package can import session to build its Engine without a cycle.
var (
	// ErrSessionNotFound is returned when a session id does not exist
	// in the registry.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrPermissionDenied is returned when a session's chat-mode does
	// not permit the requested command.
	ErrPermissionDenied = errors.New("session: permission denied")

	// ErrChatModeElevationDenied is returned when a USER session
	// attempts to elevate itself to ADMIN.
	ErrChatModeElevationDenied = errors.New("session: chat-mode elevation to admin is denied")

	// ErrInvalidCommand is returned by the root Engine's Chat for a
	// command that lacks its required arguments or has no handler.
	// ParseCommand treats text with no known prefix as a query.
	ErrInvalidCommand = errors.New("session: invalid command")

	// ErrInvalidResponseMode is returned for an unrecognized response
	// mode string.
	ErrInvalidResponseMode = errors.New("session: invalid response mode")
)

// ChatMode gates which commands a session may execute.
type ChatMode string

const (
	ModeUser  ChatMode = "user"
	ModeAdmin ChatMode = "admin"
)

// ResponseMode selects the verbosity and guardrail profile of a
// retrieval answer.
type ResponseMode string

const (
	ResponseConcise  ResponseMode = "concise"
	ResponseVerbose  ResponseMode = "verbose"
	ResponseInternal ResponseMode = "internal"
)

// ParseResponseMode validates and normalizes a response-mode string.
func ParseResponseMode(s string) (ResponseMode, error) {
	switch ResponseMode(strings.ToLower(strings.TrimSpace(s))) {
	case ResponseConcise:
		return ResponseConcise, nil
	case ResponseVerbose:
		return ResponseVerbose, nil
	case ResponseInternal:
		return ResponseInternal, nil
	default:
		return "", ErrInvalidResponseMode
	}
}

// CommandType enumerates every recognized chat command.
type CommandType string

const (
	CmdHelp         CommandType = "help"
	CmdStatus       CommandType = "status"
	CmdClear        CommandType = "clear"
	CmdSetMode      CommandType = "set_mode"
	CmdSetChatMode  CommandType = "set_chat_mode"
	CmdQuery        CommandType = "query"
	CmdIngestFile   CommandType = "ingest_file"
	CmdIngestText   CommandType = "ingest_text"
	CmdIngestTable  CommandType = "ingest_table"
	CmdHeal         CommandType = "heal"
	CmdOptimize     CommandType = "optimize"
	CmdCheckHealth  CommandType = "check_health"
)

// adminOnly is the set of commands requiring ChatMode admin.
var adminOnly = map[CommandType]bool{
	CmdIngestFile:  true,
	CmdIngestText:  true,
	CmdIngestTable: true,
	CmdHeal:        true,
	CmdOptimize:    true,
	CmdCheckHealth: true,
}

// Command is a parsed chat input line.
type Command struct {
	Type    CommandType
	Raw     string
	Args    []string
}

var prefixCommands = []struct {
	prefix string
	typ    CommandType
}{
	{"ingest_file:", CmdIngestFile},
	{"ingest_text:", CmdIngestText},
	{"ingest_table:", CmdIngestTable},
	{"heal:", CmdHeal},
	{"optimize:", CmdOptimize},
	{"check_health:", CmdCheckHealth},
}

// ParseCommand parses a raw chat line into a Command, case-insensitively
// matching the prefix grammar. Bare text with no recognized prefix is
// treated as a query.
func ParseCommand(text string) (*Command, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "help", "/help", "?":
		return &Command{Type: CmdHelp, Raw: trimmed}, nil
	case "status", "/status":
		return &Command{Type: CmdStatus, Raw: trimmed}, nil
	case "clear", "/clear":
		return &Command{Type: CmdClear, Raw: trimmed}, nil
	}

	if hasPrefix(lower, "set_mode:") || hasPrefix(lower, "mode:") {
		val := strings.TrimSpace(afterColon(trimmed))
		if _, err := ParseResponseMode(val); err != nil {
			return nil, fmt.Errorf("invalid response mode: %s", val)
		}
		return &Command{Type: CmdSetMode, Raw: trimmed, Args: []string{strings.ToLower(val)}}, nil
	}

	if hasPrefix(lower, "set_chat_mode:") || hasPrefix(lower, "chat_mode:") {
		val := strings.ToLower(strings.TrimSpace(afterColon(trimmed)))
		if val != string(ModeUser) && val != string(ModeAdmin) {
			return nil, fmt.Errorf("invalid chat mode: %s", val)
		}
		return &Command{Type: CmdSetChatMode, Raw: trimmed, Args: []string{val}}, nil
	}

	for _, pc := range prefixCommands {
		if hasPrefix(lower, pc.prefix) {
			argsStr := strings.TrimSpace(afterColon(trimmed))
			args := splitPipe(argsStr)
			return &Command{Type: pc.typ, Raw: trimmed, Args: args}, nil
		}
	}

	if hasPrefix(lower, "rag_query:") || hasPrefix(lower, "rag:") {
		return &Command{Type: CmdQuery, Raw: trimmed, Args: []string{strings.TrimSpace(afterColon(trimmed))}}, nil
	}
	if hasPrefix(lower, "query:") {
		return &Command{Type: CmdQuery, Raw: trimmed, Args: []string{strings.TrimSpace(afterColon(trimmed))}}, nil
	}

	// Default: bare text is a query.
	return &Command{Type: CmdQuery, Raw: trimmed, Args: []string{trimmed}}, nil
}

func hasPrefix(lower, prefix string) bool { return strings.HasPrefix(lower, prefix) }

func afterColon(s string) string {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return ""
	}
	return s[idx+1:]
}

func splitPipe(s string) []string {
	parts := strings.Split(s, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// CheckPermission returns ErrPermissionDenied if cmd is admin-only and
// mode is not ModeAdmin.
func CheckPermission(cmd CommandType, mode ChatMode) error {
	if adminOnly[cmd] && mode != ModeAdmin {
		return ErrPermissionDenied
	}
	return nil
}

// Context is the session's short-term memory cache.
type Context struct {
	LastDocID     string
	LastQuery     string
	IngestedFiles []string
	HealedDocs    []string
}

// Session is a logical conversation: identity, mode, and history.
type Session struct {
	mu sync.Mutex

	ID           string
	UserID       string
	Department   string
	Role         string
	Mode         ChatMode
	ResponseMode ResponseMode

	CreatedAt    time.Time
	LastActivity time.Time

	CommandHistory []Command
	Context        Context
}

// New creates a session in the given chat mode with a fresh UUID
// identifier and concise responses.
func New(userID, department, role string, mode ChatMode) *Session {
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Department:   department,
		Role:         role,
		Mode:         mode,
		ResponseMode: ResponseConcise,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
}

// IsAdmin reports whether the session currently has admin privilege.
func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Mode == ModeAdmin
}

// SetResponseMode changes the response mode; unrestricted per spec.
func (s *Session) SetResponseMode(mode ResponseMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponseMode = mode
	s.LastActivity = time.Now()
}

// SetChatMode attempts to change the chat mode. Elevation from user to
// admin is always denied; admins may freely step down or stay admin.
func (s *Session) SetChatMode(mode ChatMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == ModeAdmin && s.Mode != ModeAdmin {
		return ErrChatModeElevationDenied
	}
	s.Mode = mode
	s.LastActivity = time.Now()
	return nil
}

// RecordCommand appends cmd to the session's command history and
// updates last-activity. It does not itself enforce permissions —
// callers must call CheckPermission first.
func (s *Session) RecordCommand(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommandHistory = append(s.CommandHistory, cmd)
	s.LastActivity = time.Now()
}

// UpdateContext merges non-zero fields of patch into the session's
// context cache.
func (s *Session) UpdateContext(patch Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if patch.LastDocID != "" {
		s.Context.LastDocID = patch.LastDocID
	}
	if patch.LastQuery != "" {
		s.Context.LastQuery = patch.LastQuery
	}
	s.Context.IngestedFiles = append(s.Context.IngestedFiles, patch.IngestedFiles...)
	s.Context.HealedDocs = append(s.Context.HealedDocs, patch.HealedDocs...)
}

// Clear resets command history and context, keeping identity and mode.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommandHistory = nil
	s.Context = Context{}
}

// Snapshot returns a copy of the session's current identity/mode
// fields, safe to read without holding the lock further.
func (s *Session) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}

var docIDSanitizer = regexp.MustCompile(`[^a-z0-9_.\-]`)
var repeatUnderscore = regexp.MustCompile(`_+`)
var extensionSuffix = regexp.MustCompile(`\.[^.]*$`)

// sanitizeSourceName lowercases, replaces disallowed characters with
// underscores, strips a trailing extension, collapses repeated
// underscores, and caps the result at 30 characters.
func sanitizeSourceName(name string) string {
	s := strings.ToLower(name)
	s = extensionSuffix.ReplaceAllString(s, "")
	s = docIDSanitizer.ReplaceAllString(s, "_")
	s = repeatUnderscore.ReplaceAllString(s, "_")
	if len(s) > 30 {
		s = s[:30]
	}
	return s
}

var sourcePrefixes = map[string]string{
	"file":  "file",
	"text":  "text_user_input",
	"table": "table",
	"url":   "url",
}

// Registry is a process-wide, lock-guarded session map plus the
// doc_id-collision cache used by auto doc-id generation.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	docIDs   map[string]bool
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		docIDs:   make(map[string]bool),
	}
}

// Create registers and returns a new session.
func (r *Registry) Create(userID, department, role string, mode ChatMode) *Session {
	s := New(userID, department, role, mode)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close removes a session from the registry.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// GenerateDocID builds an auto doc_id of the form
// {prefix}_{sanitized_source_name}_{yyyymmdd_hhmmss}, resolving
// collisions by appending _{microseconds}_{counter} until unique. The
// registry's collision cache is consulted and updated under its lock
// so concurrent callers on the same registry never collide.
func (r *Registry) GenerateDocID(sourceType, sourceName string) string {
	prefix, ok := sourcePrefixes[sourceType]
	if !ok {
		prefix = "doc"
	}
	sanitized := sanitizeSourceName(sourceName)
	base := fmt.Sprintf("%s_%s_%s", prefix, sanitized, time.Now().Format("20060102_150405"))

	r.mu.Lock()
	defer r.mu.Unlock()

	docID := base
	counter := 0
	for r.docIDs[docID] {
		counter++
		microseconds := time.Now().UnixMicro() % 1_000_000
		docID = fmt.Sprintf("%s_%d_%d", base, microseconds, counter)
	}
	r.docIDs[docID] = true
	return docID
}
