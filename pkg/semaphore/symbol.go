package semaphore

// Kind classifies a Symbol.
type Kind uint8

const (
	// KindUnknown means no symbol could be read.
	KindUnknown Kind = iota
	// KindLetter is a letter of the alphabet.
	KindLetter
	// KindSpace separates words.
	KindSpace
	// KindStop ends the message.
	KindStop
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindLetter:
		return "letter"
	case KindSpace:
		return "space"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Symbol is a decoded semaphore position. Symbols are comparable with ==.
type Symbol struct {
	Kind Kind
	// Text is the letter for KindLetter and the display label for
	// KindSpace and KindStop. Empty for KindUnknown.
	Text string
}

// UnknownSymbol is the result of an unreadable or unmapped position.
var UnknownSymbol = Symbol{}

// Letter returns a letter symbol.
func Letter(text string) Symbol {
	return Symbol{Kind: KindLetter, Text: text}
}

// Space returns a space symbol with the given display label.
func Space(label string) Symbol {
	return Symbol{Kind: KindSpace, Text: label}
}

// Stop returns a stop symbol with the given display label.
func Stop(label string) Symbol {
	return Symbol{Kind: KindStop, Text: label}
}

// IsUnknown reports whether s is the unknown symbol.
func (s Symbol) IsUnknown() bool {
	return s.Kind == KindUnknown
}

// Output returns the text appended to the session when s is committed.
// Stop and Unknown contribute nothing.
func (s Symbol) Output() string {
	switch s.Kind {
	case KindLetter:
		return s.Text
	case KindSpace:
		return " "
	default:
		return ""
	}
}

// Label returns the text shown to the user; blank for Unknown.
func (s Symbol) Label() string {
	return s.Text
}

// String implements fmt.Stringer.
func (s Symbol) String() string {
	if s.Kind == KindUnknown {
		return "<unknown>"
	}
	return s.Text
}
