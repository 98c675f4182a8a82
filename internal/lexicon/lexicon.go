// Package lexicon holds the keyword and pattern lists used to read customer text.
package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Well-known reason classes the engine refers to by name.
const (
	ClassDamaged      = "damaged"
	ClassWrongItem    = "wrong_item"
	ClassNeverArrived = "never_arrived"
	ClassChangedMind  = "changed_mind"
	ClassNoReason     = "no_reason"

	// Synthetic classes that never appear in the file.
	ClassUnclassified  = "unclassified"
	ClassContradictory = "contradictory"
	ClassBlocked       = "blocked"
)

// Well-known modifier names.
const (
	ModifierLegalThreat   = "legal_threat"
	ModifierPublicShaming = "public_shaming"
	ModifierProfanity     = "profanity"
	ModifierContradiction = "contradiction"
	ModifierVagueness     = "vagueness"
)

// Well-known tone names.
const (
	TonePolite      = "polite"
	ToneFrustrated  = "frustrated"
	ToneAngry       = "angry"
	ToneThreatening = "threatening"
)

// Rule is one named keyword/pattern list with its point value.
type Rule struct {
	Name     string   `yaml:"name"`
	Points   int      `yaml:"points"`
	Flag     string   `yaml:"flag"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`

	keywords []string
	patterns []*regexp.Regexp
}

// ReasonClass is a refund reason category.
type ReasonClass struct {
	Rule `yaml:",inline"`

	// PointsWithoutImages replaces Points when no product images were supplied.
	PointsWithoutImages *int `yaml:"points_without_images"`

	// PointsUnconfirmed replaces Points unless tracking shows failed or pending delivery.
	PointsUnconfirmed *int `yaml:"points_unconfirmed"`

	Possession bool `yaml:"possession"`
	Quality    bool `yaml:"quality"`
	Defect     bool `yaml:"defect"`
	NonReceipt bool `yaml:"non_receipt"`
}

// ReasonBands holds points for synthetic reason classes.
type ReasonBands struct {
	Unclassified  int `yaml:"unclassified"`
	Contradictory int `yaml:"contradictory"`
	Blocked       int `yaml:"blocked"`
}

// Lexicon is a validated, compiled keyword configuration. It is read-only
// after construction and safe for concurrent use.
type Lexicon struct {
	Version     int           `yaml:"version"`
	Tones       []Rule        `yaml:"tones"`
	Modifiers   []Rule        `yaml:"modifiers"`
	GreenFlags  []Rule        `yaml:"green_flags"`
	Reasons     []ReasonClass `yaml:"reasons"`
	ReasonBands ReasonBands   `yaml:"reason_bands"`

	reasonIndex   map[string]int
	modifierIndex map[string]int
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
	defaultErr  error
)

// Default returns the embedded lexicon. The result is shared; do not modify it.
func Default() (*Lexicon, error) {
	defaultOnce.Do(func() {
		defaultLex, defaultErr = Parse(defaultYAML)
	})
	return defaultLex, defaultErr
}

// MustDefault returns the embedded lexicon and panics if it is invalid.
func MustDefault() *Lexicon {
	lex, err := Default()
	if err != nil {
		panic(err)
	}
	return lex
}

// Load reads and validates a lexicon file.
func Load(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load lexicon %q: %w", path, err)
	}
	lex, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("lexicon %q: %w", path, err)
	}
	return lex, nil
}

// Parse decodes, validates and compiles a lexicon document.
func Parse(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if err := lex.compile(); err != nil {
		return nil, err
	}
	return &lex, nil
}

func (l *Lexicon) compile() error {
	if len(l.Tones) == 0 {
		return fmt.Errorf("lexicon has no tones")
	}
	if len(l.Reasons) == 0 {
		return fmt.Errorf("lexicon has no reasons")
	}

	seen := make(map[string]bool)
	for i := range l.Tones {
		if err := l.Tones[i].compile("tone", 0, 15, seen); err != nil {
			return err
		}
		if i > 0 && l.Tones[i].Points > l.Tones[i-1].Points {
			return fmt.Errorf("tone %q must not score above %q", l.Tones[i].Name, l.Tones[i-1].Name)
		}
	}

	l.modifierIndex = make(map[string]int, len(l.Modifiers))
	seen = make(map[string]bool)
	for i := range l.Modifiers {
		if err := l.Modifiers[i].compile("modifier", 0, 15, seen); err != nil {
			return err
		}
		l.modifierIndex[l.Modifiers[i].Name] = i
	}

	seen = make(map[string]bool)
	for i := range l.GreenFlags {
		if err := l.GreenFlags[i].compile("green flag", -15, 0, seen); err != nil {
			return err
		}
	}

	l.reasonIndex = make(map[string]int, len(l.Reasons))
	seen = make(map[string]bool)
	for i := range l.Reasons {
		rc := &l.Reasons[i]
		if err := rc.compile("reason", 0, 20, seen); err != nil {
			return err
		}
		for _, alt := range []*int{rc.PointsWithoutImages, rc.PointsUnconfirmed} {
			if alt != nil && (*alt < 0 || *alt > 20) {
				return fmt.Errorf("reason %q: alternate points %d out of range [0,20]", rc.Name, *alt)
			}
		}
		l.reasonIndex[rc.Name] = i
	}

	for _, name := range []string{ClassDamaged, ClassWrongItem, ClassNeverArrived, ClassChangedMind, ClassNoReason} {
		if _, ok := l.reasonIndex[name]; !ok {
			return fmt.Errorf("lexicon is missing required reason class %q", name)
		}
	}
	if _, ok := l.modifierIndex[ModifierContradiction]; !ok {
		return fmt.Errorf("lexicon is missing required modifier %q", ModifierContradiction)
	}

	for name, v := range map[string]int{
		"unclassified":  l.ReasonBands.Unclassified,
		"contradictory": l.ReasonBands.Contradictory,
		"blocked":       l.ReasonBands.Blocked,
	} {
		if v < 0 || v > 20 {
			return fmt.Errorf("reason band %s: %d out of range [0,20]", name, v)
		}
	}
	return nil
}

func (r *Rule) compile(kind string, lo, hi int, seen map[string]bool) error {
	if r.Name == "" {
		return fmt.Errorf("%s with empty name", kind)
	}
	if seen[r.Name] {
		return fmt.Errorf("duplicate %s %q", kind, r.Name)
	}
	seen[r.Name] = true

	if r.Points < lo || r.Points > hi {
		return fmt.Errorf("%s %q: points %d out of range [%d,%d]", kind, r.Name, r.Points, lo, hi)
	}

	r.keywords = make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			return fmt.Errorf("%s %q: empty keyword", kind, r.Name)
		}
		r.keywords = append(r.keywords, kw)
	}

	r.patterns = make([]*regexp.Regexp, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("%s %q: invalid pattern %q: %w", kind, r.Name, p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return nil
}

// Match reports whether text hits any keyword or pattern of the rule.
func (r *Rule) Match(text string) bool {
	if len(r.keywords) > 0 {
		lower := strings.ToLower(text)
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of texts matches the rule.
func (r *Rule) MatchAny(texts []string) bool {
	for _, t := range texts {
		if r.Match(t) {
			return true
		}
	}
	return false
}

// Tone returns the highest tone band matched by any text.
// ok is false when the text is polite.
func (l *Lexicon) Tone(texts []string) (tone Rule, ok bool) {
	for _, t := range l.Tones {
		if t.MatchAny(texts) {
			return t, true
		}
	}
	return Rule{}, false
}

// MatchModifiers returns the modifiers hit by any text, in file order.
// Keywordless modifiers such as contradiction never match here.
func (l *Lexicon) MatchModifiers(texts []string) []Rule {
	return matchAll(l.Modifiers, texts)
}

// MatchGreenFlags returns the green flags hit by any text, in file order.
func (l *Lexicon) MatchGreenFlags(texts []string) []Rule {
	return matchAll(l.GreenFlags, texts)
}

func matchAll(rules []Rule, texts []string) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.MatchAny(texts) {
			out = append(out, r)
		}
	}
	return out
}

// Modifier returns a modifier by name.
func (l *Lexicon) Modifier(name string) (Rule, bool) {
	i, ok := l.modifierIndex[name]
	if !ok {
		return Rule{}, false
	}
	return l.Modifiers[i], true
}

// Class returns a reason class by name.
func (l *Lexicon) Class(name string) (ReasonClass, bool) {
	i, ok := l.reasonIndex[name]
	if !ok {
		return ReasonClass{}, false
	}
	return l.Reasons[i], true
}

// Classify returns the first reason class whose rule matches text.
func (l *Lexicon) Classify(text string) (ReasonClass, bool) {
	for _, rc := range l.Reasons {
		if rc.Match(text) {
			return rc, true
		}
	}
	return ReasonClass{}, false
}

// Claims returns every reason class matched by any text, in file order.
// Used to detect contradictory claims across reason, note and messages.
func (l *Lexicon) Claims(texts []string) []ReasonClass {
	var out []ReasonClass
	for _, rc := range l.Reasons {
		if rc.Name == ClassNoReason {
			continue
		}
		if rc.MatchAny(texts) {
			out = append(out, rc)
		}
	}
	return out
}
