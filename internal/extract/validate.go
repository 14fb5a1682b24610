package extract

import (
	"regexp"
	"strconv"
	"strings"

	"voice-intake/internal/domain"
)

var (
	platePattern = regexp.MustCompile(`^[A-Z]{2,3}-[0-9]{3,4}$`)
	etaPattern   = regexp.MustCompile(`^[0-2][0-9]:[0-5][0-9]$`)
	looseETA     = regexp.MustCompile(`^([0-9]{1,2}):([0-9]{2})$`)
)

// ValidPlate reports whether s is a plate in the strict LLL-DDDD form.
func ValidPlate(s string) bool {
	return platePattern.MatchString(s)
}

// ValidETA reports whether s is HH:MM with hour in [00,23].
func ValidETA(s string) bool {
	if !etaPattern.MatchString(s) {
		return false
	}
	h, err := strconv.Atoi(s[:2])
	return err == nil && h <= 23
}

// ValidateDirect is the lenient check for name and number fields: any
// non-empty normalized value is accepted.
func ValidateDirect(candidate string, field domain.FieldKey) bool {
	candidate = strings.TrimSpace(candidate)
	switch field.Kind() {
	case domain.KindName, domain.KindNumber:
		return candidate != ""
	case domain.KindPlate:
		return ValidPlate(candidate)
	case domain.KindTime:
		return ValidETA(candidate)
	}
	return false
}

// conform checks a raw inference answer against the field's strict pattern
// and returns the accepted value or "".
func conform(answer string, kind domain.FieldKind) string {
	answer = strings.Trim(strings.TrimSpace(answer), "\"'`.")
	switch kind {
	case domain.KindPlate:
		plate := strings.ToUpper(answer)
		if ValidPlate(plate) {
			return plate
		}
	case domain.KindTime:
		if m := looseETA.FindStringSubmatch(answer); m != nil && len(m[1]) == 1 {
			answer = "0" + m[1] + ":" + m[2]
		}
		if ValidETA(answer) {
			return answer
		}
	}
	return ""
}

// fastPath returns a value for plate/ETA candidates that already conform,
// so that the inference call can be skipped.
func fastPath(candidate string, kind domain.FieldKind) (string, bool) {
	switch kind {
	case domain.KindPlate:
		if ValidPlate(candidate) {
			return candidate, true
		}
	case domain.KindTime:
		if v := conform(candidate, kind); v != "" {
			return v, true
		}
	}
	return "", false
}
