package acqcore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingDriver is a minimal Driver that just counts Poll calls, for
// exercising the poller's state machine in isolation from Block.
type countingDriver struct {
	polls int32
}

func (d *countingDriver) Bind(*BlockHandle)                                    {}
func (d *countingDriver) Initialize() ErrorCode                                { return ErrorCode{} }
func (d *countingDriver) Configure() ErrorCode                                  { return ErrorCode{} }
func (d *countingDriver) Arm() ErrorCode                                        { return ErrorCode{} }
func (d *countingDriver) Disarm() ErrorCode                                     { return ErrorCode{} }
func (d *countingDriver) Close() ErrorCode                                      { return ErrorCode{} }
func (d *countingDriver) PrefetchBlock(int, int) ErrorCode                      { return ErrorCode{} }
func (d *countingDriver) GetRapidBlockData(int, int, int, *ChunkRecord) ErrorCode {
	return ErrorCode{}
}
func (d *countingDriver) Poll() ErrorCode {
	atomic.AddInt32(&d.polls, 1)
	return ErrorCode{}
}

func TestPollerOnlyPollsWhileRunning(t *testing.T) {
	driver := &countingDriver{}
	ring := NewAppBuffer()
	ring.Initialize(0, 0, 1, 4)
	var watchdogMu sync.Mutex
	avg := NewMovingAverage()
	avg.Seed(1000)

	p := newPoller(driver, ring, &watchdogMu, avg, func() float64 { return 1000 })
	p.start(time.Millisecond)
	defer p.stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&driver.polls), "poller should be idle until transitToRunning")

	p.transitToRunning()
	time.Sleep(30 * time.Millisecond)
	assert.Greater(t, atomic.LoadInt32(&driver.polls), int32(0))

	p.transitToIdle()
	n := atomic.LoadInt32(&driver.polls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&driver.polls), "poller should stop polling once idle")
}

func TestPollerWatchdogFiresOnSlowRate(t *testing.T) {
	driver := &countingDriver{}
	ring := NewAppBuffer()
	ring.Initialize(0, 0, 1, 4)
	var watchdogMu sync.Mutex
	avg := NewMovingAverage()
	avg.Seed(10) // well below the 1000 Hz nominal rate checked below

	p := newPoller(driver, ring, &watchdogMu, avg, func() float64 { return 1000 })
	p.start(time.Millisecond)
	defer p.stop()
	p.transitToRunning()

	ec := ring.WaitDataReady()
	require.Equal(t, KindWatchdog, ec.Kind)
}

func TestPollerStopJoinsGoroutine(t *testing.T) {
	driver := &countingDriver{}
	ring := NewAppBuffer()
	ring.Initialize(0, 0, 1, 4)
	var watchdogMu sync.Mutex
	avg := NewMovingAverage()
	avg.Seed(1000)

	p := newPoller(driver, ring, &watchdogMu, avg, func() float64 { return 1000 })
	p.start(time.Millisecond)
	p.transitToRunning()
	time.Sleep(10 * time.Millisecond)
	p.stop()

	n := atomic.LoadInt32(&driver.polls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&driver.polls), "no more polls after stop returns")
}
