package stats

import "sort"

// latencyEstimator tracks the 95th percentile of observed latencies
// with the P-square algorithm, so the stats row carries a live p95
// without retaining samples.
type latencyEstimator struct {
	count   int64
	heights [5]float64
	pos     [5]float64
	desired [5]float64
	incr    [5]float64
	initial []float64
}

func newLatencyEstimator() *latencyEstimator {
	e := &latencyEstimator{}
	p := 0.95
	e.incr = [5]float64{0, p / 2, p, (1 + p) / 2, 1}
	e.initial = make([]float64, 0, 5)
	return e
}

// newLatencyEstimatorAt seeds the estimator with a previously persisted
// p95 value so restarts do not start cold.
func newLatencyEstimatorAt(p95MS int) *latencyEstimator {
	e := newLatencyEstimator()
	if p95MS > 0 {
		e.Observe(float64(p95MS))
	}
	return e
}

// Observe folds one latency sample into the estimate.
func (e *latencyEstimator) Observe(x float64) {
	e.count++

	if len(e.initial) < 5 {
		e.initial = append(e.initial, x)
		if len(e.initial) == 5 {
			sort.Float64s(e.initial)
			for i := 0; i < 5; i++ {
				e.heights[i] = e.initial[i]
				e.pos[i] = float64(i + 1)
				e.desired[i] = 1 + 4*e.incr[i]
			}
		}
		return
	}

	var cell int
	switch {
	case x < e.heights[0]:
		e.heights[0] = x
		cell = 0
	case x >= e.heights[4]:
		e.heights[4] = x
		cell = 3
	default:
		for cell = 0; cell < 4; cell++ {
			if x < e.heights[cell+1] {
				break
			}
		}
	}

	for i := cell + 1; i < 5; i++ {
		e.pos[i]++
	}
	for i := 0; i < 5; i++ {
		e.desired[i] += e.incr[i]
	}

	for i := 1; i < 4; i++ {
		d := e.desired[i] - e.pos[i]
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			var sign float64 = 1
			if d < 0 {
				sign = -1
			}
			h := e.parabolic(i, sign)
			if e.heights[i-1] < h && h < e.heights[i+1] {
				e.heights[i] = h
			} else {
				e.heights[i] = e.linear(i, sign)
			}
			e.pos[i] += sign
		}
	}
}

func (e *latencyEstimator) parabolic(i int, d float64) float64 {
	return e.heights[i] + d/(e.pos[i+1]-e.pos[i-1])*
		((e.pos[i]-e.pos[i-1]+d)*(e.heights[i+1]-e.heights[i])/(e.pos[i+1]-e.pos[i])+
			(e.pos[i+1]-e.pos[i]-d)*(e.heights[i]-e.heights[i-1])/(e.pos[i]-e.pos[i-1]))
}

func (e *latencyEstimator) linear(i int, d float64) float64 {
	return e.heights[i] + d*(e.heights[i+int(d)]-e.heights[i])/(e.pos[i+int(d)]-e.pos[i])
}

// P95 returns the current estimate in the sample's unit. Under five
// samples it falls back to the max seen, which over-reports rather
// than hiding slow vendors.
func (e *latencyEstimator) P95() float64 {
	if e.count == 0 {
		return 0
	}
	if len(e.initial) < 5 {
		max := e.initial[0]
		for _, v := range e.initial[1:] {
			if v > max {
				max = v
			}
		}
		return max
	}
	return e.heights[2]
}

// Reset discards all state for a new billing month.
func (e *latencyEstimator) Reset() {
	*e = *newLatencyEstimator()
}
