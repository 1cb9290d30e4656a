package acqcore

// movingAverageWindow is the fixed history length used by the watchdog's
// sample-rate estimator (spec.md §4.7, §4.2).
const movingAverageWindow = 100000

// MovingAverage keeps the arithmetic mean of the last N added values in
// O(1) per add, using a circular buffer and a running sum. Once N values
// have been added, every further Add displaces the oldest sample.
type MovingAverage struct {
	window []float64
	next   int
	count  int
	sum    float64
}

// NewMovingAverage creates an estimator over the last movingAverageWindow
// samples.
func NewMovingAverage() *MovingAverage {
	return &MovingAverage{window: make([]float64, movingAverageWindow)}
}

// Add records one new observation.
func (m *MovingAverage) Add(x float64) {
	if m.count < len(m.window) {
		m.window[m.next] = x
		m.sum += x
		m.count++
	} else {
		m.sum += x - m.window[m.next]
		m.window[m.next] = x
	}
	m.next = (m.next + 1) % len(m.window)
}

// Avg returns the arithmetic mean of the last min(count, N) added values.
// Returns 0 if no values have been added.
func (m *MovingAverage) Avg() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Seed fills the entire window with x, used by Block.Arm to suppress
// watchdog false positives immediately after arming (spec.md §4.4).
func (m *MovingAverage) Seed(x float64) {
	for i := range m.window {
		m.window[i] = x
	}
	m.count = len(m.window)
	m.sum = x * float64(len(m.window))
	m.next = 0
}
