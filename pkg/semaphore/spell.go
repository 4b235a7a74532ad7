package semaphore

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnspellable is returned when text contains a character the table has
// no position for.
var ErrUnspellable = errors.New("semaphore: character has no position")

// Spell returns the positions that signal text in t's alphabet. Spaces map
// to the table's space position. Letters match case-insensitively, and a
// combined glyph such as "Г/Ґ" matches each of its variants. With stop set
// the sequence ends with the stop position.
func (t *Table) Spell(text string, stop bool) ([]Pair, error) {
	index := make(map[string]Pair, len(t.entries))
	var spacePair, stopPair Pair
	for p, s := range t.entries {
		switch s.Kind {
		case KindSpace:
			spacePair = p
		case KindStop:
			stopPair = p
		case KindLetter:
			for _, variant := range strings.Split(s.Text, "/") {
				index[strings.ToUpper(variant)] = p
			}
		}
	}

	out := make([]Pair, 0, len(text)+1)
	for _, r := range text {
		if unicode.IsSpace(r) {
			out = append(out, spacePair)
			continue
		}
		p, ok := index[strings.ToUpper(string(r))]
		if !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnspellable, r, t.lang)
		}
		out = append(out, p)
	}
	if stop {
		out = append(out, stopPair)
	}
	return out, nil
}

// Degrees returns the center angle of a canonical direction.
func (d Direction) Degrees() float64 {
	return float64(d)
}
