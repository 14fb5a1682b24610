package domain

// Intent is the caller's answer to the permission question.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentAccept
	IntentRefuse
)

func (i Intent) String() string {
	switch i {
	case IntentAccept:
		return "accept"
	case IntentRefuse:
		return "refuse"
	}
	return "unknown"
}
