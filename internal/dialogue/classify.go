package dialogue

import (
	"context"

	"voice-intake/internal/config"
	"voice-intake/internal/domain"
	"voice-intake/internal/normalize"
)

// IntentClassifier decides whether a caller agreed to answer questions.
// *extract.PermissionClassifier satisfies this interface.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) domain.Intent
}

// phrases is a list of folded, tokenized phrases.
type phrases [][]string

func newPhrases(list []string) phrases {
	out := make(phrases, 0, len(list))
	for _, p := range list {
		if toks := normalize.Words(p); len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}

// exact reports whether words equals one of the phrases.
func (p phrases) exact(words []string) bool {
	for _, ph := range p {
		if equalTokens(words, ph) {
			return true
		}
	}
	return false
}

// longestPrefix returns the token length of the longest phrase words starts
// with, or 0.
func (p phrases) longestPrefix(words []string) int {
	best := 0
	for _, ph := range p {
		if len(ph) > best && len(ph) <= len(words) && equalTokens(words[:len(ph)], ph) {
			best = len(ph)
		}
	}
	return best
}

// contains reports whether any phrase occurs in words on token boundaries.
func (p phrases) contains(words []string) bool {
	for _, ph := range p {
		for i := 0; i+len(ph) <= len(words); i++ {
			if equalTokens(words[i:i+len(ph)], ph) {
				return true
			}
		}
	}
	return false
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type confirmation int

const (
	replyAmbiguous confirmation = iota
	replyYes
	replyNo
)

// lexiconClassifier matches utterances against the lexicon's phrase lists.
// Every check runs on the raw tokens first and then on the tokens with
// fillers stripped.
type lexiconClassifier struct {
	wake     phrases
	repeat   phrases
	offTopic phrases
	affirm   phrases
	negate   phrases
}

func newLexiconClassifier(lex *config.Lexicon) *lexiconClassifier {
	return &lexiconClassifier{
		wake:     newPhrases(lex.WakeWords),
		repeat:   newPhrases(lex.RepeatRequests),
		offTopic: newPhrases(lex.OffTopicTriggers),
		affirm:   newPhrases(lex.Affirmations),
		negate:   newPhrases(lex.Negations),
	}
}

func either(words []string, match func([]string) bool) bool {
	if match(words) {
		return true
	}
	stripped := normalize.StripFillers(words)
	return len(stripped) != len(words) && match(stripped)
}

func (c *lexiconClassifier) isWake(words []string) bool {
	return either(words, func(w []string) bool { return c.wake.longestPrefix(w) > 0 })
}

func (c *lexiconClassifier) isRepeat(words []string) bool {
	return either(words, c.repeat.contains)
}

func (c *lexiconClassifier) isOffTopic(words []string) bool {
	return either(words, c.offTopic.contains)
}

// isYesNo reports whether words is nothing but a confirmation token, which
// is never a valid field answer.
func (c *lexiconClassifier) isYesNo(words []string) bool {
	return either(words, func(w []string) bool { return c.affirm.exact(w) || c.negate.exact(w) })
}

// confirm reads a reply to a confirmation prompt. An exact phrase wins;
// otherwise the longer leading affirmation or negation decides, and a tie is
// ambiguous.
func (c *lexiconClassifier) confirm(words []string) confirmation {
	if r := c.confirmTokens(words); r != replyAmbiguous {
		return r
	}
	return c.confirmTokens(normalize.StripFillers(words))
}

func (c *lexiconClassifier) confirmTokens(words []string) confirmation {
	if len(words) == 0 {
		return replyAmbiguous
	}
	yes, no := c.affirm.exact(words), c.negate.exact(words)
	switch {
	case yes && !no:
		return replyYes
	case no && !yes:
		return replyNo
	}
	yp, np := c.affirm.longestPrefix(words), c.negate.longestPrefix(words)
	switch {
	case yp > np:
		return replyYes
	case np > yp:
		return replyNo
	}
	return replyAmbiguous
}

// KeywordClassifier refuses when the reply opens with a refusal phrase longer
// than any leading affirmation, or mentions a multi-word refusal anywhere.
// Everything else is accepted.
type KeywordClassifier struct {
	refusals phrases
	affirm   phrases
}

func NewKeywordClassifier(refusals, affirmations []string) *KeywordClassifier {
	return &KeywordClassifier{refusals: newPhrases(refusals), affirm: newPhrases(affirmations)}
}

func (k *KeywordClassifier) Classify(_ context.Context, text string) domain.Intent {
	if either(normalize.Words(text), k.refuses) {
		return domain.IntentRefuse
	}
	return domain.IntentAccept
}

func (k *KeywordClassifier) refuses(words []string) bool {
	if k.affirm.exact(words) {
		return false
	}
	if k.refusals.longestPrefix(words) > k.affirm.longestPrefix(words) {
		return true
	}
	for _, ph := range k.refusals {
		single := phrases{ph}
		if len(ph) > 1 && single.contains(words) {
			return true
		}
	}
	return false
}

// FallbackClassifier consults Primary and defers to Fallback when Primary
// cannot decide.
type FallbackClassifier struct {
	Primary  IntentClassifier
	Fallback IntentClassifier
}

func (f FallbackClassifier) Classify(ctx context.Context, text string) domain.Intent {
	if f.Primary != nil {
		if intent := f.Primary.Classify(ctx, text); intent != domain.IntentUnknown {
			return intent
		}
	}
	if f.Fallback == nil {
		return domain.IntentUnknown
	}
	return f.Fallback.Classify(ctx, text)
}
