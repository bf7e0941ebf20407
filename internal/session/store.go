// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"

	"github.com/jeranaias/glossa/internal/model"
)

// =============================================================================
// CHANGE NOTIFICATIONS
// =============================================================================

// ChangeKind identifies what a mutation touched.
type ChangeKind string

const (
	ChangeSessionCreated ChangeKind = "session_created"
	ChangeSessionRemoved ChangeKind = "session_removed"
	ChangeSessionCleared ChangeKind = "session_cleared"
	ChangeCurrent        ChangeKind = "current_changed"
	ChangeHighlight      ChangeKind = "highlight_changed"
	ChangeMessageAdded   ChangeKind = "message_added"
	ChangeMessageUpdated ChangeKind = "message_updated"
	ChangeReplaced       ChangeKind = "sessions_replaced"
)

// Persistent reports whether the change alters state worth saving.
// Switching the current session does not.
func (k ChangeKind) Persistent() bool {
	return k != ChangeCurrent
}

// Change describes one mutation of a Store.
type Change struct {
	Kind      ChangeKind
	SessionID string
	MessageID string
}

// =============================================================================
// STORE
// =============================================================================

// Init seeds a session created with CreateSession.
type Init struct {
	Messages  []model.Message
	Highlight *model.HighlightRef
}

// Store is the mutex-guarded session collection of one document.
type Store struct {
	mu        sync.Mutex
	sessions  []model.Session
	currentID string
	observers []func(Change)
}

// NewStore creates a store holding one empty "Chat 1" session.
func NewStore() *Store {
	s := &Store{}
	first := model.NewSession(1)
	s.sessions = []model.Session{first}
	s.currentID = first.ID
	return s
}

// OnChange registers an observer called after every mutation.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// notify runs observers outside the lock.
func (s *Store) notify(changes ...Change) {
	s.mu.Lock()
	observers := make([]func(Change), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, c := range changes {
		for _, fn := range observers {
			fn(c)
		}
	}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) renumberLocked() {
	for i := range s.sessions {
		s.sessions[i].Title = model.TitleFor(i + 1)
	}
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession appends a session, makes it current and returns a copy.
func (s *Store) CreateSession(init *Init) model.Session {
	s.mu.Lock()
	sess := model.NewSession(len(s.sessions) + 1)
	if init != nil {
		sess.Messages = append(sess.Messages, init.Messages...)
		if init.Highlight != nil {
			h := *init.Highlight
			sess.Highlight = &h
		}
	}
	s.sessions = append(s.sessions, sess)
	s.currentID = sess.ID
	out := sess.Clone()
	s.mu.Unlock()

	s.notify(
		Change{Kind: ChangeSessionCreated, SessionID: out.ID},
		Change{Kind: ChangeCurrent, SessionID: out.ID},
	)
	return out
}

// SetCurrent switches the current session. It reports false and keeps the
// prior current session when id is unknown.
func (s *Store) SetCurrent(id string) bool {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return false
	}
	if s.currentID == id {
		s.mu.Unlock()
		return true
	}
	s.currentID = id
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeCurrent, SessionID: id})
	return true
}

// RemoveSession removes a session. The last remaining session is cleared
// and retitled instead. It reports false when id is unknown.
func (s *Store) RemoveSession(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	if len(s.sessions) == 1 {
		s.sessions[0].Messages = []model.Message{}
		s.sessions[0].Highlight = nil
		s.sessions[0].Title = model.TitleFor(1)
		s.currentID = s.sessions[0].ID
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeSessionCleared, SessionID: id})
		return true
	}

	wasCurrent := s.currentID == id
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	s.renumberLocked()

	changes := []Change{{Kind: ChangeSessionRemoved, SessionID: id}}
	if wasCurrent {
		next := idx - 1
		if next < 0 {
			next = 0
		}
		if next >= len(s.sessions) {
			next = len(s.sessions) - 1
		}
		s.currentID = s.sessions[next].ID
		changes = append(changes, Change{Kind: ChangeCurrent, SessionID: s.currentID})
	}
	s.mu.Unlock()

	s.notify(changes...)
	return true
}

// FindReusableEmptySession returns the first session with no messages and
// no highlight.
func (s *Store) FindReusableEmptySession() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].Reusable() {
			return s.sessions[i].Clone(), true
		}
	}
	return model.Session{}, false
}

// SetHighlight binds a session to a highlight. A nil ref unbinds it.
func (s *Store) SetHighlight(sessionID string, ref *model.HighlightRef) bool {
	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	if ref != nil {
		h := *ref
		ref = &h
	}
	s.sessions[idx].Highlight = ref
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeHighlight, SessionID: sessionID})
	return true
}

// Replace swaps the whole session list, as after loading from persistence.
// An empty list leaves one fresh "Chat 1" session. The last session becomes
// current.
func (s *Store) Replace(sessions []model.Session) {
	s.mu.Lock()
	if len(sessions) == 0 {
		s.sessions = []model.Session{model.NewSession(1)}
	} else {
		s.sessions = model.CloneSessions(sessions)
		for i := range s.sessions {
			if s.sessions[i].Messages == nil {
				s.sessions[i].Messages = []model.Message{}
			}
		}
	}
	s.currentID = s.sessions[len(s.sessions)-1].ID
	current := s.currentID
	s.mu.Unlock()

	s.notify(
		Change{Kind: ChangeReplaced},
		Change{Kind: ChangeCurrent, SessionID: current},
	)
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// AppendMessage appends msg to a session. It reports false when the
// session no longer exists.
func (s *Store) AppendMessage(sessionID string, msg model.Message) bool {
	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.sessions[idx].Messages = append(s.sessions[idx].Messages, msg)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessageAdded, SessionID: sessionID, MessageID: msg.ID})
	return true
}

// UpdateMessage applies fn to a message in place. It reports false when
// the session or message no longer exists.
func (s *Store) UpdateMessage(sessionID, messageID string, fn func(*model.Message)) bool {
	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	sess := &s.sessions[idx]
	mi := sess.MessageIndex(messageID)
	if mi < 0 {
		s.mu.Unlock()
		return false
	}
	fn(&sess.Messages[mi])
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessageUpdated, SessionID: sessionID, MessageID: messageID})
	return true
}

// =============================================================================
// QUERIES
// =============================================================================

// Current returns a copy of the current session.
func (s *Store) Current() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[s.indexLocked(s.currentID)].Clone()
}

// CurrentID returns the id of the current session.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Session returns a copy of one session.
func (s *Store) Session(id string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Session{}, false
	}
	return s.sessions[idx].Clone(), true
}

// Sessions returns a deep copy of every session in order.
func (s *Store) Sessions() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneSessions(s.sessions)
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Typing reports whether a session has a message still streaming.
func (s *Store) Typing(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(sessionID)
	if idx < 0 {
		return false
	}
	return s.sessions[idx].Typing()
}

// History returns the messages of a session that precede uptoMessageID.
// An empty or unknown uptoMessageID returns every message.
func (s *Store) History(sessionID, uptoMessageID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(sessionID)
	if idx < 0 {
		return nil
	}
	msgs := s.sessions[idx].Messages
	if cut := s.sessions[idx].MessageIndex(uptoMessageID); cut >= 0 {
		msgs = msgs[:cut]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}
