package domain

import "time"

// TranscriptEntry is a single line of the literal conversation record.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	State     string    `json:"state,omitempty"`
	Field     FieldKey  `json:"field,omitempty"`
}

// Session is the mutable per-call record driven by the dialogue engine.
//
// Values holds only validated field values; a missing key means unset.
// ConfirmationAttempts counts unresolved confirmation turns of the current
// cycle, AmbiguousReplies counts them across every cycle of the current field
// and AskAttempts counts failed extraction turns for the current field.
type Session struct {
	ID                   string              `json:"session_id"`
	CallID               string              `json:"call_id"`
	State                State               `json:"state"`
	FieldIndex           int                 `json:"field_index"`
	Values               map[FieldKey]string `json:"values"`
	ConfirmationAttempts int                 `json:"confirmation_attempts"`
	AmbiguousReplies     int                 `json:"ambiguous_replies"`
	AskAttempts          int                 `json:"ask_attempts"`
	Outcome              Outcome             `json:"outcome,omitempty"`
	Transcript           []TranscriptEntry   `json:"transcript"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// NewSession returns a session in WaitingWake with every field unset.
func NewSession(id, callID string, now time.Time) *Session {
	return &Session{
		ID:         id,
		CallID:     callID,
		State:      StateWaitingWake,
		Values:     make(map[FieldKey]string),
		Transcript: []TranscriptEntry{},
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
}

// Value returns the collected value for key and whether it is set.
func (s *Session) Value(key FieldKey) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

func (s *Session) SetValue(key FieldKey, v string) {
	if s.Values == nil {
		s.Values = make(map[FieldKey]string)
	}
	s.Values[key] = v
}

func (s *Session) ClearValue(key FieldKey) {
	delete(s.Values, key)
}

// Append records a transcript entry tagged with the session's current state.
func (s *Session) Append(role Role, content string, field FieldKey, now time.Time) {
	s.Transcript = append(s.Transcript, TranscriptEntry{
		Timestamp: now.UTC(),
		Role:      role,
		Content:   content,
		State:     s.State.String(),
		Field:     field,
	})
	s.UpdatedAt = now.UTC()
}

// ResetFieldCounters clears every per-field counter; used whenever the cursor
// moves to a new field.
func (s *Session) ResetFieldCounters() {
	s.ConfirmationAttempts = 0
	s.AmbiguousReplies = 0
	s.AskAttempts = 0
}
