package acqcore

import (
	"sync"
	"time"
)

// watchdogSampleRateThreshold is the ratio of nominal sample rate below
// which the watchdog fires. spec.md §9 flags this ratio as an open
// question to document and fix; 0.9 is the value fixed here.
const watchdogSampleRateThreshold = 0.9

// poller is the single dedicated goroutine that periodically invokes
// driver.Poll() at approximately pollPeriod, and checks the watchdog after
// each poll. It obeys the PollerState handshake of spec.md §4.2, grounded
// on the teacher's poll_work_function / d_poller_state machine, reworked
// as a Go goroutine with a sync.Mutex + sync.Cond in place of
// boost::condition_variable.
type poller struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state PollerState

	pollPeriod time.Duration
	driver     Driver
	ring       *AppBuffer
	watchdogMu *sync.Mutex
	avg        *MovingAverage
	nominalRate func() float64

	onPollError func(ErrorCode)

	started bool
	done    chan struct{}
}

func newPoller(driver Driver, ring *AppBuffer, watchdogMu *sync.Mutex, avg *MovingAverage, nominalRate func() float64) *poller {
	p := &poller{
		driver:      driver,
		ring:        ring,
		watchdogMu:  watchdogMu,
		avg:         avg,
		nominalRate: nominalRate,
		state:       PollerIdle,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// start launches the poller goroutine, idle until transitioned to Running.
func (p *poller) start(pollPeriod time.Duration) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.state = PollerIdle
	p.pollPeriod = pollPeriod
	p.done = make(chan struct{})
	p.mu.Unlock()
	go p.run()
}

// run is the poller goroutine body, mirroring poll_work_function in
// digitizer_block_impl.cc: in Running state it polls the driver on a
// period, checking the watchdog each iteration; otherwise it sleeps in
// short ticks, checking state every few iterations to reduce lock
// pressure (spec.md §4.2).
func (p *poller) run() {
	const checkEveryN = 10
	counter := 0
	var state PollerState
	for {
		counter++
		if counter >= checkEveryN {
			p.mu.Lock()
			state = p.state
			p.mu.Unlock()
			counter = 0
		}

		switch state {
		case PollerRunning:
			t0 := time.Now()
			ec := p.driver.Poll()
			if !ec.IsZero() {
				if p.onPollError != nil {
					p.onPollError(ec)
				}
				p.ring.NotifyDataReady(ec)
			}

			p.watchdogMu.Lock()
			estimated := p.avg.Avg()
			p.watchdogMu.Unlock()

			if estimated < p.nominalRate()*watchdogSampleRateThreshold {
				p.ring.NotifyDataReady(newInternalError(KindWatchdog))
			}

			elapsed := time.Since(t0)
			if sleep := p.pollPeriod - elapsed; sleep > 0 {
				time.Sleep(sleep)
			}

		case PollerPendIdle:
			p.mu.Lock()
			p.state = PollerIdle
			state = PollerIdle
			p.mu.Unlock()
			p.cond.Broadcast()
			time.Sleep(time.Millisecond)

		case PollerPendExit:
			p.mu.Lock()
			p.state = PollerExit
			p.mu.Unlock()
			p.cond.Broadcast()
			close(p.done)
			return

		default: // PollerIdle
			time.Sleep(time.Millisecond)
		}
	}
}

// transitToRunning moves the poller into Running state (streaming arm).
func (p *poller) transitToRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = PollerRunning
}

// transitToIdle requests the Idle transition and blocks until observed.
func (p *poller) transitToIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PollerExit {
		return
	}
	p.state = PollerPendIdle
	for p.state != PollerIdle {
		p.cond.Wait()
	}
}

// stop requests the poller goroutine to exit and joins it, with a 5 second
// deadline as spec.md §5 requires: if Exit isn't observed in time, it still
// proceeds to join (the goroutine itself always reaches Exit eventually).
func (p *poller) stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	if p.state == PollerExit {
		p.mu.Unlock()
		<-p.done
		p.started = false
		return
	}
	p.state = PollerPendExit
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	<-done
	p.started = false
}
