package acqcore

// TriggerDetector finds edges in an analog or digital sample stream with
// hysteresis to avoid chattering near the threshold (spec.md §4.3). It
// carries one bit of state, trigState, across calls, so it must be used
// for exactly one trigger source at a time; restart by constructing a new
// one (it is otherwise restartable mid-stream).
type TriggerDetector struct {
	trigState int // 0 or 1
}

// NewTriggerDetector creates a detector starting in the untriggered state.
func NewTriggerDetector() *TriggerDetector {
	return &TriggerDetector{}
}

// FindAnalog scans samples for edges around threshold, given the channel's
// actual_range (used to derive the hysteresis band, actualRange/100).
// Offsets are returned in strictly increasing order.
func (d *TriggerDetector) FindAnalog(samples []Sample, direction TriggerDirection, threshold, actualRange float64) []int {
	if len(samples) == 0 {
		return nil
	}
	var offsets []int
	band := actualRange / 100.0
	switch direction {
	case Rising, High:
		lo := Sample(threshold - band)
		thr := Sample(threshold)
		for i, s := range samples {
			if d.trigState == 0 && s >= thr {
				d.trigState = 1
				offsets = append(offsets, i)
			} else if d.trigState == 1 && s <= lo {
				d.trigState = 0
			}
		}
	case Falling, Low:
		hi := Sample(threshold + band)
		thr := Sample(threshold)
		for i, s := range samples {
			if d.trigState == 1 && s <= thr {
				d.trigState = 0
				offsets = append(offsets, i)
			} else if d.trigState == 0 && s >= hi {
				d.trigState = 1
			}
		}
	}
	return offsets
}

// FindDigital scans a byte stream for bit mask transitions on the selected
// pin. Offsets are returned in strictly increasing order.
func (d *TriggerDetector) FindDigital(samples []byte, direction TriggerDirection, mask byte) []int {
	if len(samples) == 0 {
		return nil
	}
	var offsets []int
	switch direction {
	case Rising, High:
		for i, s := range samples {
			set := s&mask != 0
			if d.trigState == 0 && set {
				d.trigState = 1
				offsets = append(offsets, i)
			} else if d.trigState == 1 && !set {
				d.trigState = 0
			}
		}
	case Falling, Low:
		for i, s := range samples {
			set := s&mask != 0
			if d.trigState == 1 && !set {
				d.trigState = 0
				offsets = append(offsets, i)
			} else if d.trigState == 0 && set {
				d.trigState = 1
			}
		}
	}
	return offsets
}
