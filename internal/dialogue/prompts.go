package dialogue

import (
	"strconv"
	"strings"

	"voice-intake/internal/config"
	"voice-intake/internal/domain"
)

// PromptContext carries the values substituted into a template.
type PromptContext struct {
	Value     string
	Remaining int
	Question  string
}

// RenderPrompt fills the template of the given kind. Placeholders are
// {field}, {value}, {remaining} and {question}; plate values are spelled out
// so a speech synthesizer reads them character by character.
func RenderPrompt(lex *config.Lexicon, kind config.TemplateKind, field domain.Field, pc PromptContext) string {
	value := pc.Value
	if field.Key.Kind() == domain.KindPlate {
		value = SpellOut(value)
	}
	r := strings.NewReplacer(
		"{field}", field.DisplayName,
		"{value}", value,
		"{remaining}", strconv.Itoa(pc.Remaining),
		"{question}", pc.Question,
	)
	return strings.TrimSpace(r.Replace(lex.Template(kind)))
}

// SpellOut separates every character of v with a space: "ABC-1234" becomes
// "A B C - 1 2 3 4".
func SpellOut(v string) string {
	var b strings.Builder
	b.Grow(2 * len(v))
	for _, r := range v {
		if r == ' ' {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func joinMessages(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
