package acqcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToAIChanIdx(t *testing.T) {
	var tests = []struct {
		id      string
		want    int
		wantErr bool
	}{
		{"A", 0, false},
		{"a", 0, false},
		{"P", 15, false},
		{"Q", 0, true},
		{"AA", 0, true},
		{"", 0, true},
	}
	for _, test := range tests {
		got, err := ConvertToAIChanIdx(test.id)
		if test.wantErr {
			assert.Error(t, err, test.id)
			continue
		}
		require.NoError(t, err, test.id)
		assert.Equal(t, test.want, got, test.id)
	}
}

func TestConvertToPortIdx(t *testing.T) {
	var tests = []struct {
		id      string
		want    int
		wantErr bool
	}{
		{"port0", 0, false},
		{"port7", 7, false},
		{"port9", 9, false},
		{"port10", 0, true},
		{"port", 0, true},
		{"portA", 0, true},
	}
	for _, test := range tests {
		got, err := ConvertToPortIdx(test.id)
		if test.wantErr {
			assert.Error(t, err, test.id)
			continue
		}
		require.NoError(t, err, test.id)
		assert.Equal(t, test.want, got, test.id)
	}
}

func TestAcquisitionConfigBufferSize(t *testing.T) {
	c := AcquisitionConfig{PreTriggerSamples: 100, PostTriggerSamples: 900}
	assert.Equal(t, 1000, c.BufferSize())
}

func TestFsmStateString(t *testing.T) {
	assert.Equal(t, "Armed", Armed.String())
	assert.Equal(t, "Unknown", FsmState(99).String())
}
