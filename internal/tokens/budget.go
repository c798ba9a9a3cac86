package tokens

// Ratios divides a total token budget between the three stages of prompt
// assembly. History and Response each default to half the total, and
// MemoryContext to a quarter; the stages are applied independently, so the
// ratios intentionally do not sum to one.
type Ratios struct {
	History       float64
	Response      float64
	MemoryContext float64
}

func DefaultRatios() Ratios {
	return Ratios{History: 0.5, Response: 0.5, MemoryContext: 0.25}
}

// Budget is the per-stage token allotment for a single composed turn.
type Budget struct {
	History       int
	Response      int
	MemoryContext int
}

// Split applies the ratios to a total budget. Fractions truncate toward
// zero; a non-positive total yields a zero budget.
func (r Ratios) Split(total int) Budget {
	if total <= 0 {
		return Budget{}
	}
	return Budget{
		History:       int(float64(total) * r.History),
		Response:      int(float64(total) * r.Response),
		MemoryContext: int(float64(total) * r.MemoryContext),
	}
}
