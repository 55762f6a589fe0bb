package dialogue

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"courseloop/internal/entry"
	"courseloop/internal/task"
)

// ChatSession is the pre-task conversation state for one client.
type ChatSession struct {
	SessionID        string              `json:"session_id"`
	Intake           entry.Intake        `json:"intake"`
	IntakeReceived   bool                `json:"intake_received"`
	CreativeIntent   string              `json:"creative_intent"`
	EntryAsked       bool                `json:"entry_asked"`
	AwaitingEntry    bool                `json:"awaiting_entry"`
	AwaitingToolSeed bool                `json:"awaiting_tool_seed"`
	AwaitingScenario bool                `json:"awaiting_scenario"`
	ToolSeedPartial  map[string]any      `json:"tool_seed_partial"`
	ToolSeedAskCount int                 `json:"tool_seed_ask_count"`
	LastDecision     *task.EntryDecision `json:"last_entry_decision,omitempty"`
}

// SessionStore holds chat sessions by id.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*ChatSession)}
}

// Get returns the session for an id, creating one when the id is empty or
// unknown.
func (s *SessionStore) Get(sessionID string) *ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != "" {
		if session, ok := s.sessions[sessionID]; ok {
			return session
		}
	}
	if sessionID == "" {
		sessionID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	session := &ChatSession{
		SessionID:       sessionID,
		ToolSeedPartial: map[string]any{},
	}
	s.sessions[sessionID] = session
	return session
}

// Delete removes a session once a task has been created from it.
func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
