package semaphore

// Classify maps a pair of arm angles to a symbol in the given language.
// Both arms are required: if either angle is unknown, either direction is
// undefined, the language is not registered or the pair is unmapped, the
// result is UnknownSymbol.
func Classify(right, left Angle, lang Language) Symbol {
	if !right.Valid || !left.Valid {
		return UnknownSymbol
	}
	return ClassifyPair(Pair{Right: Quantize(right), Left: Quantize(left)}, lang)
}

// ClassifyPair looks up an already quantized pair.
func ClassifyPair(p Pair, lang Language) Symbol {
	if p.Right == Undefined || p.Left == Undefined {
		return UnknownSymbol
	}
	t, ok := tables[lang]
	if !ok {
		return UnknownSymbol
	}
	return t.Lookup(p)
}

// ClassifySample classifies s in the given language.
func ClassifySample(s Sample, lang Language) Symbol {
	return Classify(s.Right, s.Left, lang)
}
