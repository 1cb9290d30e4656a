package acqcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindAnalogRisingEdge(t *testing.T) {
	d := NewTriggerDetector()
	samples := []Sample{0, 0, 6, 6, 0, 0, 6, 6}
	offsets := d.FindAnalog(samples, Rising, 5, 100) // band = 1
	assert.Equal(t, []int{2, 6}, offsets)
}

func TestFindAnalogFallingEdge(t *testing.T) {
	d := NewTriggerDetector()
	samples := []Sample{6, 6, 0, 0, 6, 6, 0, 0}
	offsets := d.FindAnalog(samples, Falling, 5, 100)
	assert.Equal(t, []int{2, 6}, offsets)
}

func TestFindAnalogHysteresisSuppressesChatter(t *testing.T) {
	d := NewTriggerDetector()
	// Oscillates right around the threshold without crossing the
	// hysteresis band on the way back down; only the first crossing fires.
	samples := []Sample{0, 6, 4.6, 6, 4.6, 6}
	offsets := d.FindAnalog(samples, Rising, 5, 100)
	assert.Equal(t, []int{1}, offsets)
}

func TestFindAnalogStatePersistsAcrossCalls(t *testing.T) {
	d := NewTriggerDetector()
	offsets1 := d.FindAnalog([]Sample{0, 6}, Rising, 5, 100)
	assert.Equal(t, []int{1}, offsets1)
	// Still above the hysteresis band at the start of the next call: no
	// new edge until it drops below lo and rises again.
	offsets2 := d.FindAnalog([]Sample{6, 6}, Rising, 5, 100)
	assert.Empty(t, offsets2)
}

func TestFindDigitalRisingEdgeOnMaskedPin(t *testing.T) {
	d := NewTriggerDetector()
	samples := []byte{0x00, 0x00, 0x01, 0x01, 0x00, 0x01}
	offsets := d.FindDigital(samples, Rising, 0x01)
	assert.Equal(t, []int{2, 5}, offsets)
}

func TestFindDigitalIgnoresOtherPins(t *testing.T) {
	d := NewTriggerDetector()
	samples := []byte{0x00, 0x02, 0x02, 0x00}
	offsets := d.FindDigital(samples, Rising, 0x01)
	assert.Empty(t, offsets)
}
