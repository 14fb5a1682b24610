// Package normalize turns raw speech-to-text transcripts into canonical field
// values. Every function here is pure and total: unparseable input degrades
// to the cleaned text, and normalizing an already-normalized value returns it
// unchanged.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"voice-intake/internal/domain"
)

// Normalize reshapes raw into the canonical form for field.
func Normalize(raw string, field domain.FieldKey) string {
	switch field.Kind() {
	case domain.KindName:
		return Name(raw)
	case domain.KindNumber:
		return Number(raw)
	case domain.KindPlate:
		return Plate(raw)
	case domain.KindTime:
		return ETA(raw)
	}
	return strings.Join(scrub(splitTokens(Fold(raw), nil, nil)), " ")
}

// Fold lower-cases s and strips diacritics ("Sí" -> "si", "tráiler" -> "trailer").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Words folds s and splits it into lower-case, accent-free word tokens.
func Words(s string) []string {
	return splitTokens(Fold(s), nil, nil)
}

// StripFillers drops hesitation words and filler phrases from toks.
func StripFillers(toks []string) []string {
	return scrub(toks)
}

// Name strips fillers and lead-ins ("me llamo ...") and title-cases each
// token. Accents are preserved.
func Name(raw string) string {
	toks := splitTokens(raw, nil, isNameJoiner)
	for {
		before := len(toks)
		toks = afterLeadIn(scrub(toks))
		if len(toks) == before {
			break
		}
	}
	for i, t := range toks {
		toks[i] = titleCase(t)
	}
	return strings.Join(toks, " ")
}

// Number extracts a numeric identifier: literal digits first, then a spoken
// Spanish number, then digit words token by token, then the cleaned text.
func Number(raw string) string {
	toks := scrub(splitTokens(Fold(raw), nil, nil))

	var digits strings.Builder
	for _, t := range toks {
		for _, r := range t {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
	}
	if digits.Len() > 0 {
		return digits.String()
	}
	if n, ok := spokenNumber(toks); ok {
		return n
	}
	var mapped strings.Builder
	for _, t := range toks {
		if d, ok := digitWords[t]; ok {
			mapped.WriteString(d)
		}
	}
	if mapped.Len() > 0 {
		return mapped.String()
	}
	return strings.Join(toks, " ")
}

var plateCanonical = regexp.MustCompile(`^[A-Z0-9-]*$`)

// Plate decodes spelled letters, digit words and "guion" into an upper-case
// candidate such as "ABC-1234". Structural validation happens in extract.
func Plate(raw string) string {
	if plateCanonical.MatchString(raw) {
		return raw
	}
	toks := scrub(splitTokens(Fold(raw), isDash, nil), plateNoise...)

	var b strings.Builder
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if i+1 < len(toks) {
			if l, ok := letterPhrases[t+" "+toks[i+1]]; ok {
				b.WriteString(l)
				i++
				continue
			}
		}
		if t == "-" || plateDash[t] {
			b.WriteByte('-')
			continue
		}
		if d, ok := digitWords[t]; ok {
			b.WriteString(d)
			continue
		}
		if l, ok := letterNames[t]; ok {
			b.WriteString(l)
			continue
		}
		if l, ok := natoLetters[t]; ok {
			b.WriteString(l)
			continue
		}
		b.WriteString(strings.ToUpper(t))
	}
	return cleanPlate(b.String())
}

func cleanPlate(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r == '-':
			if !prevDash {
				b.WriteRune(r)
			}
			prevDash = true
			continue
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
		prevDash = false
	}
	return b.String()
}

var colonSpacing = regexp.MustCompile(`\s*:\s*`)

// ETA converts spoken numbers to digits and "y"/"con" to ":", so that
// "catorce y treinta" becomes "14:30". "y media", "y cuarto" and "en punto"
// are expanded to their minutes.
func ETA(raw string) string {
	toks := scrub(splitTokens(Fold(raw), isColon, nil), etaNoise...)

	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); {
		t := toks[i]
		next := ""
		if i+1 < len(toks) {
			next = toks[i+1]
		}
		switch {
		case (t == "y" || t == "con") && next == "media":
			out = append(out, ":", "30")
			i += 2
		case (t == "y" || t == "con") && next == "cuarto":
			out = append(out, ":", "15")
			i += 2
		case t == "y" || t == "con":
			out = append(out, ":")
			i++
		case t == "en" && next == "punto":
			out = append(out, ":", "00")
			i += 2
		default:
			if n, after, ok := parseBelowThousand(toks, i); ok {
				out = append(out, strconv.Itoa(n))
				i = after
				continue
			}
			out = append(out, t)
			i++
		}
	}
	return colonSpacing.ReplaceAllString(strings.Join(out, " "), ":")
}

// spokenNumber reads the whole token list as a sequence of Spanish number
// groups and concatenates them: "cuatro cinco seis" -> "456",
// "doce treinta y cuatro" -> "1234", "cuatrocientos cincuenta y seis" -> "456".
func spokenNumber(toks []string) (string, bool) {
	if len(toks) == 0 {
		return "", false
	}
	var b strings.Builder
	for i := 0; i < len(toks); {
		n, next, ok := parseGroup(toks, i)
		if !ok {
			return "", false
		}
		b.WriteString(strconv.Itoa(n))
		i = next
	}
	return b.String(), true
}

func parseGroup(toks []string, i int) (int, int, bool) {
	n, next, ok := parseBelowThousand(toks, i)
	if next < len(toks) && toks[next] == "mil" {
		if !ok {
			n = 1
		}
		n *= 1000
		next++
		if rest, after, ok := parseBelowThousand(toks, next); ok {
			n += rest
			next = after
		}
		return n, next, true
	}
	return n, next, ok
}

func parseBelowThousand(toks []string, i int) (int, int, bool) {
	start, n := i, 0
	if i < len(toks) {
		if h, ok := hundredsValues[toks[i]]; ok {
			n += h
			i++
		}
	}
	if i < len(toks) {
		if t, ok := tensValues[toks[i]]; ok {
			n += t
			i++
			if i+1 < len(toks) && toks[i] == "y" {
				if u, ok := unitValues[toks[i+1]]; ok && u > 0 && u < 10 {
					n += u
					i += 2
				}
			}
		} else if u, ok := unitValues[toks[i]]; ok && (i == start || u > 0) {
			n += u
			i++
		}
	}
	return n, i, i > start
}

// scrub removes filler interjections and the given framing phrases until no
// more can be removed.
func scrub(toks []string, phrases ...[]string) []string {
	for {
		before := len(toks)
		toks = dropFillers(toks)
		toks = dropPhrases(toks, phrases)
		if len(toks) == before {
			return toks
		}
	}
}

func dropFillers(toks []string) []string {
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		if fillerPattern.MatchString(Fold(toks[i])) {
			continue
		}
		if n := matchPhrase(toks, i, fillerPhrases); n > 0 {
			i += n - 1
			continue
		}
		out = append(out, toks[i])
	}
	return out
}

func dropPhrases(toks []string, phrases [][]string) []string {
	if len(phrases) == 0 {
		return toks
	}
	out := make([]string, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		if n := matchPhrase(toks, i, phrases); n > 0 {
			i += n - 1
			continue
		}
		out = append(out, toks[i])
	}
	return out
}

// matchPhrase returns the length of the first phrase found at toks[i:], or 0.
func matchPhrase(toks []string, i int, phrases [][]string) int {
	for _, p := range phrases {
		if i+len(p) > len(toks) {
			continue
		}
		ok := true
		for j, w := range p {
			if Fold(toks[i+j]) != w {
				ok = false
				break
			}
		}
		if ok {
			return len(p)
		}
	}
	return 0
}

// afterLeadIn returns the tokens following the earliest name lead-in, as long
// as something follows it.
func afterLeadIn(toks []string) []string {
	for i := range toks {
		if n := matchPhrase(toks, i, nameLeadIns); n > 0 && i+n < len(toks) {
			return toks[i+n:]
		}
	}
	return toks
}

// splitTokens lower-cases s and splits it into tokens of letters and digits.
// Runes accepted by standalone become single-rune tokens; runes accepted by
// joiner are kept inside a word. Everything else separates tokens.
func splitTokens(s string, standalone, joiner func(rune) bool) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if w := strings.Trim(cur.String(), "-'"); w != "" {
			toks = append(toks, w)
		}
		cur.Reset()
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			cur.WriteRune(r)
		case joiner != nil && joiner(r) && cur.Len() > 0:
			cur.WriteRune(r)
		case standalone != nil && standalone(r):
			flush()
			toks = append(toks, string(r))
		default:
			flush()
		}
	}
	flush()
	return toks
}

func isDash(r rune) bool       { return r == '-' }
func isColon(r rune) bool      { return r == ':' }
func isNameJoiner(r rune) bool { return r == '-' || r == '\'' }

// titleCase upper-cases the first letter of every hyphen or apostrophe
// separated segment and lower-cases the rest.
func titleCase(w string) string {
	var b strings.Builder
	upper := true
	for _, r := range w {
		if upper {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
		upper = r == '-' || r == '\''
	}
	return b.String()
}
