package assign

// coldStart scores candidates while no trained model is trusted. With zero
// workload everywhere it draws uniform random scores to spread the first
// assignments across the team; once any candidate holds open tasks it
// switches to the deterministic inverse-workload score 1/(1+open). It has
// no failure mode: this is the guaranteed-available fallback.
func (e *Engine) coldStart(open []int) []float64 {
	scores := make([]float64, len(open))
	for _, n := range open {
		if n > 0 {
			for i, m := range open {
				scores[i] = 1.0 / float64(1+m)
			}
			return scores
		}
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	for i := range scores {
		scores[i] = e.rng.Float64()
	}
	return scores
}
