package telegram

import (
	"sync"

	"github.com/digkill/TGVisionBot/internal/models"
)

// Session is the in-memory interaction state for one chat. PendingAsset is
// only ever set in image-to-image mode while a photo waits for its prompt.
// Rev increases on every mode switch; a job result delivered against a
// stale rev is dropped instead of answering a newer conversation.
//
// Sessions live for the process lifetime only. Losing them on restart is
// acceptable: they carry no billing data.
type Session struct {
	Mode         models.Mode
	PendingAsset string
	Rev          uint64
}

// StateManager owns all sessions. First contact starts in idle mode; the
// bot presents the mode menu on /start.
type StateManager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
	}
}

// Get returns a copy of the session, creating an idle one on first use.
func (m *StateManager) Get(chatID int64) Session {
	m.mu.RLock()
	session, ok := m.sessions[chatID]
	m.mu.RUnlock()
	if ok {
		return *session
	}
	return Session{Mode: models.ModeIdle}
}

// SetMode switches the interaction mode, clearing any pending asset and
// bumping the revision.
func (m *StateManager) SetMode(chatID int64, mode models.Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[chatID]
	if !ok {
		session = &Session{}
		m.sessions[chatID] = session
	}
	session.Mode = mode
	session.PendingAsset = ""
	session.Rev++
}

// SetPending stores the hosted-media reference awaiting a transform prompt.
// A second photo before the prompt replaces the first: the latest photo is
// the one the prompt applies to.
func (m *StateManager) SetPending(chatID int64, assetURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[chatID]
	if !ok {
		session = &Session{Mode: models.ModeImageToImage}
		m.sessions[chatID] = session
	}
	session.PendingAsset = assetURL
}

// TakePending returns the pending asset and clears it in one step, so of
// two racing text messages exactly one observes it.
func (m *StateManager) TakePending(chatID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[chatID]
	if !ok || session.PendingAsset == "" {
		return "", false
	}
	asset := session.PendingAsset
	session.PendingAsset = ""
	return asset, true
}

// Rev reports the current session revision.
func (m *StateManager) Rev(chatID int64) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if session, ok := m.sessions[chatID]; ok {
		return session.Rev
	}
	return 0
}

// ReturnToIdle moves the session back to idle after a completed job, but
// only if the user has not switched modes while the job was in flight.
func (m *StateManager) ReturnToIdle(chatID int64, rev uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[chatID]
	if !ok || session.Rev != rev {
		return false
	}
	session.Mode = models.ModeIdle
	session.PendingAsset = ""
	session.Rev++
	return true
}
