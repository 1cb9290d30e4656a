package acqcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink is an OutputSink that just records every call, for
// assertions in tests. It is not safe for concurrent use by more than one
// Work call at a time, same as Block.Work itself.
type recordingSink struct {
	analog map[int][]Sample
	ports  map[int][]byte
	tags   []recordedTag
}

type recordedTag struct {
	streamIdx int
	offset    int
	tag       Tag
}

func newRecordingSink() *recordingSink {
	return &recordingSink{analog: map[int][]Sample{}, ports: map[int][]byte{}}
}

func (s *recordingSink) WriteAnalog(streamIdx int, values, errs []Sample) {
	s.analog[streamIdx] = append(s.analog[streamIdx], values...)
	// the error-estimate stream follows the value stream (analogErrStream)
	s.analog[streamIdx+1] = append(s.analog[streamIdx+1], errs...)
}

func (s *recordingSink) WritePort(streamIdx int, bits []byte) {
	s.ports[streamIdx] = append(s.ports[streamIdx], bits...)
}

func (s *recordingSink) Tag(streamIdx int, offset int, tag Tag) {
	s.tags = append(s.tags, recordedTag{streamIdx, offset, tag})
}

func newArmedStreamingBlock(t *testing.T) (*Block, *SimulatedDriver) {
	t.Helper()
	driver := NewSimulatedDriver()
	b := NewBlock(driver)
	require.NoError(t, b.Initialize())
	require.NoError(t, b.SetSampRate(1e6))
	require.NoError(t, b.SetAIChan("A", true, 5, 0, true))
	require.NoError(t, b.SetSamples(0, 1024))
	require.NoError(t, b.SetStreaming(0.001))
	require.NoError(t, b.SetAIChanTrigger("A", Rising, 0.5))
	require.NoError(t, b.Configure())
	require.NoError(t, b.Arm())
	return b, driver
}

func TestWorkStreamProducesBufferSizeSamplesOnValueAndErrorStream(t *testing.T) {
	b, _ := newArmedStreamingBlock(t)
	defer b.Stop()

	sink := newRecordingSink()
	n, done := b.Work(sink)
	assert.False(t, done)
	assert.Equal(t, 1024, n)
	assert.Len(t, sink.analog[analogValueStream(0)], 1024)
	assert.Len(t, sink.analog[analogErrStream(0)], 1024)
}

func TestWorkStreamEmitsTimebaseInfoOnceThenAcqInfoEachCall(t *testing.T) {
	b, _ := newArmedStreamingBlock(t)
	defer b.Stop()

	sink := newRecordingSink()
	_, _ = b.Work(sink)
	_, _ = b.Work(sink)

	var timebaseCount, acqInfoCount int
	for _, rt := range sink.tags {
		switch rt.tag.(type) {
		case TimebaseInfoTag:
			timebaseCount++
		case AcqInfoTag:
			acqInfoCount++
		}
	}
	assert.Equal(t, 2, timebaseCount, "one timebase_info per enabled stream (value+err), first call only")
	assert.Equal(t, 4, acqInfoCount, "one acq_info per enabled stream, every call")
}

func TestWorkStreamTaggedOnBothValueAndErrorStream(t *testing.T) {
	b, _ := newArmedStreamingBlock(t)
	defer b.Stop()

	sink := newRecordingSink()
	_, _ = b.Work(sink)

	seenValue, seenErr := false, false
	for _, rt := range sink.tags {
		if _, ok := rt.tag.(TimebaseInfoTag); !ok {
			continue
		}
		if rt.streamIdx == analogValueStream(0) {
			seenValue = true
		}
		if rt.streamIdx == analogErrStream(0) {
			seenErr = true
		}
	}
	assert.True(t, seenValue)
	assert.True(t, seenErr)
}

func TestStopUnblocksWorkWithinBoundedTime(t *testing.T) {
	b, _ := newArmedStreamingBlock(t)

	done := make(chan bool, 1)
	go func() {
		sink := newRecordingSink()
		_, streamDone := b.Work(sink)
		done <- streamDone
	}()

	// give Work a chance to enter WaitDataReady via the first chunk, then
	// stop while a plausible next call would block.
	time.Sleep(5 * time.Millisecond)
	b.Stop()

	select {
	case streamDone := <-done:
		_ = streamDone
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Work did not return within 100ms of Stop")
	}
}

func TestWatchdogTripDisarmsAndRearms(t *testing.T) {
	driver := NewSimulatedDriver()
	driver.RateMultiplier = 0.1 // far below the 0.9 threshold
	b := NewBlock(driver)
	require.NoError(t, b.Initialize())
	require.NoError(t, b.SetSampRate(1e6))
	require.NoError(t, b.SetAIChan("A", true, 5, 0, true))
	require.NoError(t, b.SetSamples(0, 64))
	require.NoError(t, b.SetStreaming(0.001))
	require.NoError(t, b.Configure())
	require.NoError(t, b.Arm())
	defer b.Stop()

	// Seed starts the average at the nominal rate, so force an observation
	// through the ring's watchdog path directly rather than waiting out the
	// full moving-average window.
	b.ring.NotifyDataReady(newInternalError(KindWatchdog))

	sink := newRecordingSink()
	_, done := b.Work(sink)
	assert.False(t, done)

	errs := b.GetErrors()
	found := false
	for _, ec := range errs {
		if ec.Kind == KindWatchdog {
			found = true
		}
	}
	assert.True(t, found, "expected a Watchdog error to be logged")
}
