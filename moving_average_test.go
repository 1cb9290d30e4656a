package acqcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMovingAverageBasic(t *testing.T) {
	m := NewMovingAverage()
	assert.Equal(t, 0.0, m.Avg())
	m.Add(10)
	m.Add(20)
	m.Add(30)
	assert.Equal(t, 20.0, m.Avg())
}

func TestMovingAverageWindowEviction(t *testing.T) {
	m := &MovingAverage{window: make([]float64, 3)}
	m.Add(1)
	m.Add(2)
	m.Add(3)
	assert.Equal(t, 2.0, m.Avg())
	m.Add(9) // evicts the 1
	assert.Equal(t, (2.0+3.0+9.0)/3.0, m.Avg())
}

func TestMovingAverageSeed(t *testing.T) {
	m := &MovingAverage{window: make([]float64, 4)}
	m.Seed(5.0)
	assert.Equal(t, 5.0, m.Avg())
	m.Add(1)
	assert.InDelta(t, (5.0*3+1)/4.0, m.Avg(), 1e-9)
}
