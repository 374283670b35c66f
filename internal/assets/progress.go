package assets

// PhaseProgress maps the completion of consecutive phases onto one overall
// percentage. Each phase owns a share of the 0-100 range proportional to
// its weight.
type PhaseProgress struct {
	offsets []float64
	spans   []float64
}

// NewPhaseProgress creates an aggregator for phases with the given weights.
func NewPhaseProgress(weights ...float64) *PhaseProgress {
	var total float64
	for _, w := range weights {
		total += w
	}

	p := &PhaseProgress{
		offsets: make([]float64, len(weights)),
		spans:   make([]float64, len(weights)),
	}
	var offset float64
	for i, w := range weights {
		span := 0.0
		if total > 0 {
			span = w * 100 / total
		}
		p.offsets[i] = offset
		p.spans[i] = span
		offset += span
	}
	return p
}

// Overall converts a percentage within phase into the overall percentage.
func (p *PhaseProgress) Overall(phase int, percent float64) float64 {
	if phase < 0 || phase >= len(p.offsets) {
		return 100
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return p.offsets[phase] + percent*p.spans[phase]/100
}
