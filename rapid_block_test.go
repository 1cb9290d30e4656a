package acqcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArmedRapidBlock(t *testing.T, pre, post, nrCaptures int) *Block {
	t.Helper()
	driver := NewSimulatedDriver()
	b := NewBlock(driver)
	require.NoError(t, b.Initialize())
	require.NoError(t, b.SetSampRate(1e6))
	require.NoError(t, b.SetAIChan("A", true, 5, 0, true))
	require.NoError(t, b.SetSamples(pre, post))
	require.NoError(t, b.SetRapidBlock(nrCaptures))
	require.NoError(t, b.SetAIChanTrigger("A", Rising, 0.5))
	require.NoError(t, b.Configure())
	b.SetTriggerOnce(true)
	require.NoError(t, b.Arm())
	return b
}

func TestRapidBlockThreeWaveformsTagOffsets(t *testing.T) {
	b := newArmedRapidBlock(t, 100, 900, 3)
	defer b.Stop()

	sink := newRecordingSink()
	var total int
	for i := 0; i < 3; i++ {
		// the first waveform takes 3 Work() calls: the Waiting->ReadingPart1
		// transition (0 samples), then two reads. Later waveforms go from
		// ReadingPart2 straight to ReadingPart1, so they take only the two
		// reads.
		if i == 0 {
			n, done := b.Work(sink)
			require.False(t, done)
			assert.Equal(t, 0, n)
		}
		n, done := b.Work(sink) // part1
		require.False(t, done)
		assert.Equal(t, 100, n)
		total += n
		n, done = b.Work(sink) // part2
		require.False(t, done)
		assert.Equal(t, 900, n)
		total += n
	}
	assert.Equal(t, 3000, total)

	var triggerOffsets []int
	for _, rt := range sink.tags {
		if rt.streamIdx != analogValueStream(0) {
			continue
		}
		if _, ok := rt.tag.(TriggerTag); ok {
			triggerOffsets = append(triggerOffsets, rt.offset)
		}
	}
	assert.Equal(t, []int{100, 1100, 2100}, triggerOffsets)
}

func TestRapidBlockTriggerOnceEndsAfterOneRun(t *testing.T) {
	b := newArmedRapidBlock(t, 10, 90, 1)
	defer b.Stop()

	sink := newRecordingSink()
	_, done := b.Work(sink) // Waiting -> ReadingPart1
	require.False(t, done)
	_, done = b.Work(sink) // part1
	require.False(t, done)
	_, done = b.Work(sink) // part2, waveformIdx reaches nrCaptures -> Waiting
	require.False(t, done)

	_, done = b.Work(sink) // Waiting again, trigger_once && wasTriggeredOnce -> end of stream
	assert.True(t, done)
}
