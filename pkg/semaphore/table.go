package semaphore

import (
	"errors"
	"fmt"
	"sort"
)

// Language identifies a letter table.
type Language string

// Supported languages.
const (
	English   Language = "en"
	Ukrainian Language = "uk"
)

// Pair is a (right arm, left arm) direction pair.
type Pair struct {
	Right Direction
	Left  Direction
}

// Table is an immutable mapping from direction pairs to symbols.
type Table struct {
	lang    Language
	name    string
	entries map[Pair]Symbol
}

// ErrInvalidTable is returned when a letter table fails validation.
var ErrInvalidTable = errors.New("semaphore: invalid letter table")

// NewTable validates entries and builds a table. Every key must use
// canonical directions, every symbol must be distinct and the table must
// contain exactly one Space and one Stop.
func NewTable(lang Language, name string, entries map[Pair]Symbol) (*Table, error) {
	if lang == "" {
		return nil, fmt.Errorf("%w: empty language", ErrInvalidTable)
	}

	seen := make(map[Symbol]Pair, len(entries))
	var spaces, stops int
	copied := make(map[Pair]Symbol, len(entries))

	for p, s := range entries {
		if !p.Right.Canonical() || !p.Left.Canonical() {
			return nil, fmt.Errorf("%w: %s: non-canonical key (%v, %v)", ErrInvalidTable, lang, p.Right, p.Left)
		}
		if s.IsUnknown() || s.Text == "" {
			return nil, fmt.Errorf("%w: %s: empty symbol at (%v, %v)", ErrInvalidTable, lang, p.Right, p.Left)
		}
		if prev, dup := seen[s]; dup {
			return nil, fmt.Errorf("%w: %s: %q mapped by (%v, %v) and (%v, %v)",
				ErrInvalidTable, lang, s.Text, prev.Right, prev.Left, p.Right, p.Left)
		}
		seen[s] = p

		switch s.Kind {
		case KindSpace:
			spaces++
		case KindStop:
			stops++
		}
		copied[p] = s
	}

	if spaces != 1 || stops != 1 {
		return nil, fmt.Errorf("%w: %s: want one space and one stop, got %d and %d",
			ErrInvalidTable, lang, spaces, stops)
	}

	return &Table{lang: lang, name: name, entries: copied}, nil
}

// Language returns the table's language code.
func (t *Table) Language() Language {
	return t.lang
}

// Name returns the human-readable language name.
func (t *Table) Name() string {
	return t.name
}

// Len returns the number of mapped pairs.
func (t *Table) Len() int {
	return len(t.entries)
}

// Lookup returns the symbol for p, or UnknownSymbol if p is unmapped.
func (t *Table) Lookup(p Pair) Symbol {
	if s, ok := t.entries[p]; ok {
		return s
	}
	return UnknownSymbol
}

// PairOf returns the direction pair that produces s.
func (t *Table) PairOf(s Symbol) (Pair, bool) {
	for p, sym := range t.entries {
		if sym == s {
			return p, true
		}
	}
	return Pair{}, false
}

// Symbols returns the table's symbols sorted by kind then text.
func (t *Table) Symbols() []Symbol {
	out := make([]Symbol, 0, len(t.entries))
	for _, s := range t.entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Text < out[j].Text
	})
	return out
}

var tables = map[Language]*Table{}

func register(t *Table) {
	tables[t.lang] = t
}

func mustTable(lang Language, name string, entries map[Pair]Symbol) *Table {
	t, err := NewTable(lang, name, entries)
	if err != nil {
		panic(err)
	}
	return t
}

// TableFor returns the registered table for lang.
func TableFor(lang Language) (*Table, bool) {
	t, ok := tables[lang]
	return t, ok
}

// Languages returns the registered languages in sorted order.
func Languages() []Language {
	out := make([]Language, 0, len(tables))
	for l := range tables {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseLanguage validates a language code.
func ParseLanguage(s string) (Language, bool) {
	l := Language(s)
	_, ok := tables[l]
	return l, ok
}
