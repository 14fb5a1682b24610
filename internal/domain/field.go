package domain

import "fmt"

// FieldKey identifies one slot collected during an intake call.
type FieldKey string

const (
	FieldOperatorName  FieldKey = "nombre_operador"
	FieldTractorNumber FieldKey = "numero_tractor"
	FieldTractorPlates FieldKey = "placas_tractor"
	FieldTrailerNumber FieldKey = "numero_trailer"
	FieldTrailerPlates FieldKey = "placas_trailer"
	FieldETA           FieldKey = "eta"
)

// FieldKeys lists every known field in canonical collection order.
var FieldKeys = []FieldKey{
	FieldOperatorName,
	FieldTractorNumber,
	FieldTractorPlates,
	FieldTrailerNumber,
	FieldTrailerPlates,
	FieldETA,
}

// FieldKind classifies how a field's utterances are normalized and validated.
type FieldKind int

const (
	KindName FieldKind = iota
	KindNumber
	KindPlate
	KindTime
)

func (k FieldKind) String() string {
	switch k {
	case KindName:
		return "name"
	case KindNumber:
		return "number"
	case KindPlate:
		return "plate"
	case KindTime:
		return "time"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kind reports the normalization class of the field.
func (f FieldKey) Kind() FieldKind {
	switch f {
	case FieldOperatorName:
		return KindName
	case FieldTractorNumber, FieldTrailerNumber:
		return KindNumber
	case FieldTractorPlates, FieldTrailerPlates:
		return KindPlate
	case FieldETA:
		return KindTime
	}
	return KindName
}

// Group is the record section the field is persisted under.
func (f FieldKey) Group() string {
	switch f {
	case FieldOperatorName:
		return GroupDriver
	case FieldTractorNumber, FieldTractorPlates:
		return GroupTractor
	case FieldTrailerNumber, FieldTrailerPlates:
		return GroupTrailer
	case FieldETA:
		return GroupETA
	}
	return ""
}

// Valid reports whether f is one of the known field keys.
func (f FieldKey) Valid() bool {
	for _, k := range FieldKeys {
		if k == f {
			return true
		}
	}
	return false
}

// ParseFieldKey converts a configuration string into a FieldKey.
func ParseFieldKey(s string) (FieldKey, error) {
	k := FieldKey(s)
	if !k.Valid() {
		return "", fmt.Errorf("domain: unknown field key %q", s)
	}
	return k, nil
}

const (
	GroupDriver  = "driver_details"
	GroupTractor = "tractor_details"
	GroupTrailer = "trailer_details"
	GroupETA     = "eta_details"
)

// Field is a named slot to collect. The ordered set of fields is fixed at
// startup and shared read-only by every session.
type Field struct {
	Key         FieldKey `json:"key" yaml:"key"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Order       int      `json:"order" yaml:"order"`
}
