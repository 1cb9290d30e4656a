package acqcore

import (
	"math"
	"sync"
	"time"
)

// SimulatedDriver is a software-only Driver: it synthesizes a sine wave
// on every enabled analog channel and a square wave on every enabled
// digital port, at the configured nominal sample rate. It backs the test
// suite's streaming and rapid-block scenarios and doubles as a runnable
// demo source for cmd/acqcored. Grounded on dastard's TriangleSource /
// SimPulseSource (simulated_data_sources.go): a fixed waveform replayed
// on a timer, reworked around the Driver capability interface instead of
// DataSource/AnySource.
type SimulatedDriver struct {
	handle *BlockHandle

	// SignalHz is the sine/square frequency. Defaults to 1000 Hz.
	SignalHz float64
	// Amplitude is the peak sine amplitude in volts. Defaults to 1.0.
	Amplitude float64
	// RateMultiplier scales the observed rate reported to the watchdog
	// estimator, letting tests simulate a driver that silently falls
	// behind (spec.md scenario S2) without needing real wall-clock delays.
	RateMultiplier float64

	mu        sync.Mutex
	armed     bool
	sampleIdx int64
	lastPush  time.Time
}

// NewSimulatedDriver creates a driver with sensible defaults.
func NewSimulatedDriver() *SimulatedDriver {
	return &SimulatedDriver{SignalHz: 1000, Amplitude: 1.0, RateMultiplier: 1.0}
}

// Bind implements Driver.
func (d *SimulatedDriver) Bind(handle *BlockHandle) { d.handle = handle }

// Initialize implements Driver.
func (d *SimulatedDriver) Initialize() ErrorCode { return ErrorCode{} }

// Configure implements Driver: it reports the requested range/rate back
// unchanged, as a real digitizer would after settling on the closest
// value it can actually produce.
func (d *SimulatedDriver) Configure() ErrorCode {
	acq := d.handle.Acquisition()
	acq.ActualSampleRate = acq.NominalSampleRate
	channels := d.handle.Channels()
	for i := range channels {
		channels[i].ActualRange = channels[i].Range
	}
	return ErrorCode{}
}

// Arm implements Driver. In rapid-block mode it immediately marks the
// ring ready for a first waveform, since this software driver has no real
// external trigger input to wait on; every rearm is "instantly triggered".
func (d *SimulatedDriver) Arm() ErrorCode {
	d.mu.Lock()
	d.armed = true
	d.sampleIdx = 0
	d.lastPush = time.Now()
	d.mu.Unlock()

	if d.handle.Mode() == ModeRapidBlock {
		d.handle.PushChunk(ChunkRecord{}, d.handle.Acquisition().NominalSampleRate)
	}
	return ErrorCode{}
}

// Disarm implements Driver.
func (d *SimulatedDriver) Disarm() ErrorCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	return ErrorCode{}
}

// Close implements Driver.
func (d *SimulatedDriver) Close() ErrorCode { return ErrorCode{} }

// Poll implements Driver: it synthesizes exactly one chunk of the
// currently effective buffer size and pushes it. With RateMultiplier 1 the
// reported rate is the chunk size over the wall-clock time since the last
// push; otherwise it is the sample rate scaled by RateMultiplier.
func (d *SimulatedDriver) Poll() ErrorCode {
	d.mu.Lock()
	armed := d.armed
	d.mu.Unlock()
	if !armed {
		return ErrorCode{}
	}

	enabledAI, enabledPorts, n := d.handle.Shape()
	if n == 0 {
		return ErrorCode{}
	}
	acq := d.handle.Acquisition()
	sampleRate := acq.ActualSampleRate
	if sampleRate <= 0 {
		sampleRate = acq.NominalSampleRate
	}

	chunk := ChunkRecord{
		AI:     make([][]Sample, len(enabledAI)),
		AIErr:  make([][]Sample, len(enabledAI)),
		Ports:  make([][]byte, len(enabledPorts)),
		Status: make([]uint32, len(enabledAI)),
	}

	d.mu.Lock()
	start := d.sampleIdx
	d.sampleIdx += int64(n)
	elapsed := time.Since(d.lastPush)
	d.lastPush = time.Now()
	d.mu.Unlock()

	for i := range enabledAI {
		values := make([]Sample, n)
		errs := make([]Sample, n)
		for s := 0; s < n; s++ {
			t := float64(start+int64(s)) / sampleRate
			values[s] = Sample(d.Amplitude * math.Sin(2*math.Pi*d.SignalHz*t))
		}
		chunk.AI[i] = values
		chunk.AIErr[i] = errs
	}
	for j := range enabledPorts {
		bits := make([]byte, n)
		period := sampleRate / d.SignalHz
		for s := 0; s < n; s++ {
			phase := math.Mod(float64(start+int64(s)), period)
			if phase < period/2 {
				bits[s] = 0x01
			}
		}
		chunk.Ports[j] = bits
	}
	chunk.LocalTimestamp = time.Now().UnixNano()

	observedRate := sampleRate * d.RateMultiplier
	if elapsed > 0 && d.RateMultiplier == 1.0 {
		observedRate = float64(n) / elapsed.Seconds()
	}
	d.handle.PushChunk(chunk, observedRate)
	return ErrorCode{}
}

// PrefetchBlock implements Driver; the simulated driver has no device
// buffer to prime, so this is a no-op.
func (d *SimulatedDriver) PrefetchBlock(nsamples, waveformIdx int) ErrorCode { return ErrorCode{} }

// GetRapidBlockData implements Driver, synthesizing n samples of the same
// sine/square pattern Poll uses, offset by waveformIdx so successive
// captures are distinguishable in tests.
func (d *SimulatedDriver) GetRapidBlockData(offset, n, waveformIdx int, out *ChunkRecord) ErrorCode {
	enabledAI, enabledPorts, _ := d.handle.Shape()
	acq := d.handle.Acquisition()
	sampleRate := acq.ActualSampleRate
	if sampleRate <= 0 {
		sampleRate = acq.NominalSampleRate
	}
	base := int64(waveformIdx*100000 + offset)

	for i := range enabledAI {
		for s := 0; s < n && s < len(out.AI[i]); s++ {
			t := float64(base+int64(s)) / sampleRate
			out.AI[i][s] = Sample(d.Amplitude * math.Sin(2*math.Pi*d.SignalHz*t))
			out.AIErr[i][s] = 0
		}
		if i < len(out.Status) {
			out.Status[i] = 0
		}
	}
	period := sampleRate / d.SignalHz
	for j := range enabledPorts {
		for s := 0; s < n && s < len(out.Ports[j]); s++ {
			out.Ports[j][s] = 0
			if math.Mod(float64(base+int64(s)), period) < period/2 {
				out.Ports[j][s] = 0x01
			}
		}
	}
	return ErrorCode{}
}
