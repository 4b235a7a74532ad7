package semaphore

import (
	"errors"
	"testing"
)

func TestSpell_RoundTrip(t *testing.T) {
	tests := []struct {
		lang Language
		text string
		want string
	}{
		{English, "hello world", "HELLO WORLD"},
		{English, "SOS", "SOS"},
		{Ukrainian, "Н", "Н"},
	}

	for _, tc := range tests {
		t.Run(string(tc.lang)+"/"+tc.text, func(t *testing.T) {
			table, _ := TableFor(tc.lang)
			pairs, err := table.Spell(tc.text, true)
			if err != nil {
				t.Fatalf("Spell() error: %v", err)
			}

			var got string
			for i, p := range pairs {
				sym := Classify(Known(p.Right.Degrees()), Known(p.Left.Degrees()), tc.lang)
				if i == len(pairs)-1 {
					if sym.Kind != KindStop {
						t.Errorf("last symbol = %v, want stop", sym)
					}
					continue
				}
				got += sym.Output()
			}
			if got != tc.want {
				t.Errorf("decoded %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSpell_CombinedGlyph(t *testing.T) {
	table, _ := TableFor(Ukrainian)
	a, err := table.Spell("г", false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := table.Spell("Ґ", false)
	if err != nil {
		t.Fatal(err)
	}
	if a[0] != b[0] {
		t.Errorf("Г and Ґ should share a position: %v vs %v", a[0], b[0])
	}
}

func TestSpell_Unspellable(t *testing.T) {
	table, _ := TableFor(English)
	if _, err := table.Spell("A1", false); !errors.Is(err, ErrUnspellable) {
		t.Errorf("Spell() error = %v, want ErrUnspellable", err)
	}
}
