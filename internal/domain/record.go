package domain

import "time"

// Record is the durable representation of a finished (or abandoned) session.
// Unset fields are serialized as null within their group.
type Record struct {
	SessionID       string             `json:"session_id"`
	CallID          string             `json:"call_id"`
	Outcome         Outcome            `json:"outcome"`
	DriverDetails   map[string]*string `json:"driver_details"`
	TractorDetails  map[string]*string `json:"tractor_details"`
	TrailerDetails  map[string]*string `json:"trailer_details"`
	ETADetails      map[string]*string `json:"eta_details"`
	ConversationLog []TranscriptEntry  `json:"conversation_log"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         time.Time          `json:"ended_at"`
}

// NewRecord snapshots s into a Record covering the given fields.
func NewRecord(s *Session, fields []Field, endedAt time.Time) Record {
	r := Record{
		SessionID:      s.ID,
		CallID:         s.CallID,
		Outcome:        s.Outcome,
		DriverDetails:  map[string]*string{},
		TractorDetails: map[string]*string{},
		TrailerDetails: map[string]*string{},
		ETADetails:     map[string]*string{},
		StartedAt:      s.CreatedAt,
		EndedAt:        endedAt.UTC(),
	}
	for _, f := range fields {
		var val *string
		if v, ok := s.Value(f.Key); ok {
			val = &v
		}
		if group := r.Group(f.Key.Group()); group != nil {
			group[string(f.Key)] = val
		}
	}
	r.ConversationLog = make([]TranscriptEntry, len(s.Transcript))
	copy(r.ConversationLog, s.Transcript)
	return r
}

// Group returns the detail map for a group name, or nil when unknown.
func (r Record) Group(name string) map[string]*string {
	switch name {
	case GroupDriver:
		return r.DriverDetails
	case GroupTractor:
		return r.TractorDetails
	case GroupTrailer:
		return r.TrailerDetails
	case GroupETA:
		return r.ETADetails
	}
	return nil
}

// Value returns the persisted value of key, if set.
func (r Record) Value(key FieldKey) (string, bool) {
	group := r.Group(key.Group())
	if group == nil {
		return "", false
	}
	v, ok := group[string(key)]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}
