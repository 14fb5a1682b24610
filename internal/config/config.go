// Package config loads the conversation lexicon: the ordered fields to
// collect, the phrase lists used to classify utterances, the prompt templates
// and the retry limits.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voice-intake/internal/domain"
)

//go:embed default.yaml
var defaultYAML []byte

// TemplateKind names a prompt template.
type TemplateKind string

const (
	TemplateGreeting   TemplateKind = "greeting"
	TemplateWakeHint   TemplateKind = "wake_hint"
	TemplatePermission TemplateKind = "permission"
	TemplateAsk        TemplateKind = "ask"
	TemplateConfirm    TemplateKind = "confirm"
	TemplateRepeat     TemplateKind = "repeat"
	TemplateRedirect   TemplateKind = "redirect"
	TemplateSkip       TemplateKind = "skip"
	TemplateClosing    TemplateKind = "closing"
	TemplateRefused    TemplateKind = "refused"
	TemplateFollowUp   TemplateKind = "follow_up"
	TemplateApology    TemplateKind = "apology"
)

// TemplateKinds lists every template a lexicon must define.
var TemplateKinds = []TemplateKind{
	TemplateGreeting, TemplateWakeHint, TemplatePermission, TemplateAsk,
	TemplateConfirm, TemplateRepeat, TemplateRedirect, TemplateSkip,
	TemplateClosing, TemplateRefused, TemplateFollowUp, TemplateApology,
}

type Limits struct {
	MaxConfirmAttempts  int           `yaml:"max_confirm_attempts"`
	MaxAmbiguousReplies int           `yaml:"max_ambiguous_replies"`
	MaxAskAttempts      int           `yaml:"max_ask_attempts"`
	InferenceTimeout    time.Duration `yaml:"inference_timeout"`
}

type Lexicon struct {
	Fields           []domain.Field          `yaml:"fields"`
	WakeWords        []string                `yaml:"wake_words"`
	RepeatRequests   []string                `yaml:"repeat_requests"`
	OffTopicTriggers []string                `yaml:"off_topic_triggers"`
	Affirmations     []string                `yaml:"affirmations"`
	Negations        []string                `yaml:"negations"`
	Refusals         []string                `yaml:"refusals"`
	Templates        map[TemplateKind]string `yaml:"templates"`
	Limits           Limits                  `yaml:"limits"`
}

// Default returns the embedded lexicon.
func Default() *Lexicon {
	lex, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("config: embedded lexicon is invalid: %v", err))
	}
	return lex
}

// Load reads the lexicon at path layered over the embedded default. An empty
// path returns the default.
func Load(path string) (*Lexicon, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Parse(defaultYAML)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(defaultYAML, raw)
}

// Parse decodes each document in turn onto the same Lexicon, so later
// documents override the keys they set, then validates the result.
func Parse(docs ...[]byte) (*Lexicon, error) {
	if len(docs) == 0 {
		return nil, errors.New("config: no lexicon documents")
	}
	lex := &Lexicon{}
	for i, doc := range docs {
		dec := yaml.NewDecoder(bytes.NewReader(doc))
		dec.KnownFields(true)
		if err := dec.Decode(lex); err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			return nil, fmt.Errorf("config: decode document %d: %w", i, err)
		}
	}
	if err := lex.Validate(); err != nil {
		return nil, err
	}
	return lex, nil
}

// Validate checks the lexicon and sorts its fields by order.
func (l *Lexicon) Validate() error {
	if len(l.Fields) == 0 {
		return errors.New("config: at least one field is required")
	}
	seenKey := make(map[domain.FieldKey]bool, len(l.Fields))
	seenOrder := make(map[int]bool, len(l.Fields))
	for _, f := range l.Fields {
		if !f.Key.Valid() {
			return fmt.Errorf("config: unknown field key %q", f.Key)
		}
		if seenKey[f.Key] {
			return fmt.Errorf("config: duplicate field key %q", f.Key)
		}
		if seenOrder[f.Order] {
			return fmt.Errorf("config: duplicate field order %d", f.Order)
		}
		if strings.TrimSpace(f.DisplayName) == "" {
			return fmt.Errorf("config: field %q has no display name", f.Key)
		}
		seenKey[f.Key] = true
		seenOrder[f.Order] = true
	}
	sort.SliceStable(l.Fields, func(i, j int) bool { return l.Fields[i].Order < l.Fields[j].Order })

	if len(l.WakeWords) == 0 {
		return errors.New("config: wake_words must not be empty")
	}
	if len(l.Affirmations) == 0 {
		return errors.New("config: affirmations must not be empty")
	}
	if len(l.Negations) == 0 {
		return errors.New("config: negations must not be empty")
	}
	for _, kind := range TemplateKinds {
		if strings.TrimSpace(l.Templates[kind]) == "" {
			return fmt.Errorf("config: template %q is missing", kind)
		}
	}

	if l.Limits.MaxConfirmAttempts <= 0 {
		l.Limits.MaxConfirmAttempts = 3
	}
	if l.Limits.MaxAmbiguousReplies <= 0 {
		l.Limits.MaxAmbiguousReplies = 5
	}
	if l.Limits.MaxAskAttempts <= 0 {
		l.Limits.MaxAskAttempts = 4
	}
	if l.Limits.InferenceTimeout <= 0 {
		l.Limits.InferenceTimeout = 5 * time.Second
	}
	return nil
}

// Template returns the template text for kind.
func (l *Lexicon) Template(kind TemplateKind) string {
	return l.Templates[kind]
}
