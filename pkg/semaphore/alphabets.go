package semaphore

// Alphabet tables keyed by (right arm, left arm) directions measured in image
// coordinates (0 = pointing right in the frame, 90 = down, -90 = up).

var englishEntries = map[Pair]Symbol{
	{Deg135, Deg90}:       Letter("A"),
	{Deg180, Deg90}:       Letter("B"),
	{DegNeg135, Deg90}:    Letter("C"),
	{DegNeg90, Deg90}:     Letter("D"),
	{Deg90, DegNeg45}:     Letter("E"),
	{Deg90, Deg0}:         Letter("F"),
	{Deg90, Deg45}:        Letter("G"),
	{Deg180, Deg135}:      Letter("H"),
	{DegNeg135, Deg135}:   Letter("I"),
	{DegNeg90, Deg0}:      Letter("J"),
	{Deg135, DegNeg90}:    Letter("K"),
	{Deg135, DegNeg45}:    Letter("L"),
	{Deg135, Deg0}:        Letter("M"),
	{Deg135, Deg45}:       Letter("N"),
	{DegNeg135, Deg180}:   Letter("O"),
	{Deg180, DegNeg90}:    Letter("P"),
	{Deg180, DegNeg45}:    Letter("Q"),
	{Deg180, Deg0}:        Letter("R"),
	{Deg180, Deg45}:       Letter("S"),
	{DegNeg135, DegNeg90}: Letter("T"),
	{DegNeg135, DegNeg45}: Letter("U"),
	{DegNeg90, Deg45}:     Letter("V"),
	{Deg0, DegNeg45}:      Letter("W"),
	{Deg45, DegNeg45}:     Letter("X"),
	{DegNeg135, Deg0}:     Letter("Y"),
	{Deg45, Deg0}:         Letter("Z"),
	{Deg90, DegNeg90}:     Space("SPACE"),
	{DegNeg45, DegNeg135}: Stop("STOP"),
}

var ukrainianEntries = map[Pair]Symbol{
	{Deg135, Deg45}:       Letter("А"),
	{Deg180, Deg135}:      Letter("Б"),
	{Deg180, Deg90}:       Letter("В"),
	{Deg90, Deg0}:         Letter("Г/Ґ"),
	{Deg45, Deg0}:         Letter("Д"),
	{DegNeg135, Deg90}:    Letter("E/Є"),
	{DegNeg135, Deg0}:     Letter("Ж"),
	{Deg180, DegNeg45}:    Letter("З"),
	{Deg135, DegNeg90}:    Letter("И"),
	{DegNeg90, Deg90}:     Letter("І/Ї/Й"),
	{Deg45, DegNeg45}:     Letter("К"),
	{DegNeg135, Deg45}:    Letter("Л"),
	{Deg135, DegNeg45}:    Letter("М"),
	{Deg135, Deg90}:       Letter("Н"),
	{Deg90, Deg45}:        Letter("О"),
	{DegNeg90, Deg0}:      Letter("П"),
	{Deg180, DegNeg90}:    Letter("Р"),
	{Deg90, DegNeg45}:     Letter("С"),
	{Deg180, Deg0}:        Letter("Т"),
	{DegNeg135, DegNeg45}: Letter("У"),
	{DegNeg90, Deg45}:     Letter("Ф"),
	{DegNeg135, Deg135}:   Letter("Х"),
	{Deg180, Deg45}:       Letter("Ц"),
	{Deg135, Deg0}:        Letter("Ч"),
	{DegNeg90, DegNeg45}:  Letter("Ш"),
	{DegNeg135, DegNeg90}: Letter("Щ"),
	{DegNeg90, DegNeg90}:  Letter("Ь"),
	{DegNeg135, Deg180}:   Letter("Ю"),
	{Deg0, DegNeg45}:      Letter("Я"),
	{Deg90, DegNeg90}:     Space("ПРОБІЛ"),
	{DegNeg45, DegNeg135}: Stop("КІНЕЦЬ"),
}

func init() {
	register(mustTable(English, "English", englishEntries))
	register(mustTable(Ukrainian, "Ukrainian", ukrainianEntries))
}
