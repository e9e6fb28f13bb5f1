package scoring

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Pair is a known mispronunciation of one word: a reader who says Heard
// when the passage reads Expected has made a substitution error.
type Pair struct {
	Heard    string `yaml:"heard"`
	Expected string `yaml:"expected"`
}

// Pattern is a systematic sound substitution, for example "f" spoken as "p".
// Any heard word obtained by applying one or more patterns to the expected
// word is a substitution error.
type Pattern struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Rule identifies the table entry that flagged a word.
type Rule struct {
	// Pair is set when a word-pair entry matched.
	Pair *Pair

	// Patterns lists the patterns applied, when a pattern matched.
	Patterns []Pattern
}

// String implements [fmt.Stringer].
func (r Rule) String() string {
	if r.Pair != nil {
		return fmt.Sprintf("pair %s→%s", r.Pair.Heard, r.Pair.Expected)
	}
	parts := make([]string, len(r.Patterns))
	for i, p := range r.Patterns {
		parts[i] = p.From + "→" + p.To
	}
	return "pattern " + strings.Join(parts, ",")
}

// DefaultPairs are the common substitutions of early readers whose first
// language lacks /f/, /v/ and /θ/.
var DefaultPairs = []Pair{
	{"pader", "father"}, {"pather", "father"}, {"fader", "father"}, {"pater", "father"},
	{"parm", "farm"}, {"pharm", "farm"},
	{"apter", "after"}, {"apther", "after"},
	{"hab", "have"}, {"habe", "have"},
	{"moob", "move"}, {"mob", "move"}, {"mobe", "move"},
	{"heaby", "heavy"}, {"heby", "heavy"}, {"hebby", "heavy"},
	{"de", "the"}, {"da", "the"},
	{"dey", "they"}, {"tey", "they"},
	{"wit", "with"}, {"wid", "with"},
	{"anoder", "another"}, {"anuder", "another"}, {"anoter", "another"},
	{"snel", "snail"}, {"snal", "snail"},
	{"wont", "want"},
	{"sayd", "said"}, {"sayed", "said"},
	{"tol", "told"}, {"wan", "want"}, {"lef", "left"},
	{"eat", "ate"}, {"eated", "eaten"}, {"tryed", "tried"},
	{"litle", "little"}, {"litol", "little"}, {"liddle", "little"},
	{"enormus", "enormous"}, {"enourmous", "enormous"},
	{"gras", "grass"}, {"gress", "grass"},
}

// DefaultPatterns are the systematic consonant substitutions.
var DefaultPatterns = []Pattern{
	{From: "f", To: "p"},
	{From: "v", To: "b"},
	{From: "th", To: "d"},
	{From: "th", To: "t"},
}

// File is the YAML layout of a substitution table file.
//
//	pairs:
//	  - {heard: pish, expected: fish}
//	patterns:
//	  - {from: z, to: s}
type File struct {
	Pairs    []Pair    `yaml:"pairs"`
	Patterns []Pattern `yaml:"patterns"`
}

// Table is a lookup of known substitution errors. It is safe for concurrent
// use; lookups never change it.
type Table struct {
	mu       sync.RWMutex
	pairs    map[string]map[string]struct{} // heard → expected set
	patterns []Pattern
}

// NewTable returns a table holding pairs and patterns. Words are normalized
// to lowercase letters.
func NewTable(pairs []Pair, patterns []Pattern) *Table {
	t := &Table{pairs: make(map[string]map[string]struct{})}
	for _, p := range pairs {
		t.Add(p.Heard, p.Expected)
	}
	for _, p := range patterns {
		t.AddPattern(p)
	}
	return t
}

// DefaultTable returns a table with DefaultPairs and DefaultPatterns.
func DefaultTable() *Table {
	return NewTable(DefaultPairs, DefaultPatterns)
}

// LoadTable reads a YAML table file from r and merges it into a copy of the
// default table.
func LoadTable(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("scoring: decode substitution table: %w", err)
	}
	for i, p := range f.Pairs {
		if letters(p.Heard) == "" || letters(p.Expected) == "" {
			return nil, fmt.Errorf("scoring: substitution table: pairs[%d]: heard and expected must contain letters", i)
		}
	}
	for i, p := range f.Patterns {
		if letters(p.From) == "" {
			return nil, fmt.Errorf("scoring: substitution table: patterns[%d]: from must contain letters", i)
		}
	}
	t := DefaultTable()
	for _, p := range f.Pairs {
		t.Add(p.Heard, p.Expected)
	}
	for _, p := range f.Patterns {
		t.AddPattern(p)
	}
	return t, nil
}

// LoadTableFile is [LoadTable] for a file path.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scoring: open substitution table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// Add registers heard as a known mispronunciation of expected, typically
// for passage-specific words.
func (t *Table) Add(heard, expected string) {
	h, e := letters(heard), letters(expected)
	if h == "" || e == "" || h == e {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.pairs[h]
	if !ok {
		set = make(map[string]struct{})
		t.pairs[h] = set
	}
	set[e] = struct{}{}
}

// AddPattern registers a systematic substitution.
func (t *Table) AddPattern(p Pattern) {
	p.From, p.To = letters(p.From), letters(p.To)
	if p.From == "" || p.From == p.To {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.Contains(t.patterns, p) {
		return
	}
	t.patterns = append(t.patterns, p)
}

// Len returns the number of word pairs and patterns in the table.
func (t *Table) Len() (pairs, patterns int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, set := range t.pairs {
		pairs += len(set)
	}
	return pairs, len(t.patterns)
}

// Lookup reports whether saying heard for expected is a known substitution
// error, and which rule matched. A word that was read as written never
// matches.
func (t *Table) Lookup(heard, expected string) (Rule, bool) {
	h, e := letters(heard), letters(expected)
	if h == "" || e == "" || h == e {
		return Rule{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.pairs[h][e]; ok {
		return Rule{Pair: &Pair{Heard: h, Expected: e}}, true
	}
	if applied, ok := t.matchPatterns(h, e); ok {
		return Rule{Patterns: applied}, true
	}
	return Rule{}, false
}

// matchPatterns tries every non-empty subset of the patterns that occur in
// expected, replacing all occurrences, and reports the first subset that
// turns expected into heard. Subsets are tried smallest first so the rule
// reported is minimal.
func (t *Table) matchPatterns(heard, expected string) ([]Pattern, bool) {
	var usable []Pattern
	for _, p := range t.patterns {
		if strings.Contains(expected, p.From) {
			usable = append(usable, p)
		}
	}
	n := len(usable)
	if n == 0 || n > 12 {
		return nil, false
	}
	for size := 1; size <= n; size++ {
		for mask := 1; mask < 1<<n; mask++ {
			if popcount(mask) != size {
				continue
			}
			w := expected
			var applied []Pattern
			for i, p := range usable {
				if mask&(1<<i) == 0 {
					continue
				}
				if !strings.Contains(w, p.From) {
					applied = nil
					break
				}
				w = strings.ReplaceAll(w, p.From, p.To)
				applied = append(applied, p)
			}
			if applied != nil && w == heard {
				return applied, true
			}
		}
	}
	return nil, false
}

func popcount(x int) int {
	n := 0
	for ; x != 0; x &= x - 1 {
		n++
	}
	return n
}

// letters lowercases w and drops everything but a-z.
func letters(w string) string {
	var b strings.Builder
	b.Grow(len(w))
	for _, r := range strings.ToLower(w) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
