package acqcore

import "sync"

// Driver is the capability set a concrete device (or a simulator) must
// implement to back a Block. This replaces the original's base-class
// inheritance with a plain interface injected at construction, per
// SPEC_FULL.md's "Driver polymorphism" resolution.
type Driver interface {
	// Bind hands the driver its BlockHandle, once, before Initialize is
	// ever called. Concrete drivers hold onto handle to push chunks and
	// to read/report configuration; see SPEC_FULL.md's "Cyclic reference"
	// resolution.
	Bind(handle *BlockHandle)
	// Initialize opens the device and allocates driver buffers.
	Initialize() ErrorCode
	// Configure applies channels, ports, trigger, sample rate, pre/post
	// samples and downsampling mode. It may update ChannelConfig's
	// ActualRange and AcquisitionConfig's ActualSampleRate via the
	// BlockHandle it was given at construction.
	Configure() ErrorCode
	// Arm starts sampling and, in streaming mode, enables the callback.
	Arm() ErrorCode
	// Disarm stops sampling; no further callbacks after it returns.
	Disarm() ErrorCode
	// Close releases the device.
	Close() ErrorCode
	// Poll advances streaming acquisition; it may invoke the callback on
	// the BlockHandle zero or more times before returning.
	Poll() ErrorCode
	// PrefetchBlock optionally primes the driver for a rapid-block read;
	// drivers may treat this as a no-op.
	PrefetchBlock(nsamples, waveformIdx int) ErrorCode
	// GetRapidBlockData copies n samples starting at offset within
	// waveform waveformIdx into out, and reports per-channel status.
	GetRapidBlockData(offset, n, waveformIdx int, out *ChunkRecord) ErrorCode
}

// BlockHandle is the narrow surface a Driver is given at construction time
// so it can push data and report its actual configuration, without holding
// a full reference to the owning Block. This breaks the cyclic reference
// the original had (block owns driver, driver calls back into block); see
// SPEC_FULL.md's "Cyclic reference" resolution.
type BlockHandle struct {
	push func(chunk ChunkRecord)
	avg  *MovingAverage
	// watchdogMu guards avg the same way d_watchdog_mutex guards
	// d_estimated_sample_rate in the original: concrete drivers that call
	// back on a single thread don't strictly need it, but we take it
	// uniformly so the base contract holds for any driver (spec.md §5).
	watchdogMu *sync.Mutex

	channels *[MaxAI]ChannelConfig
	ports    *[MaxPorts]PortConfig
	trigger  *TriggerConfig
	acq      *AcquisitionConfig

	// shape reports the current enabled-channel/port indices and the
	// effective buffer size, so a driver can shape the ChunkRecords it
	// pushes or fills without duplicating Block's enable-index logic.
	shape func() (enabledAI, enabledPorts []int, bufferSize int)

	// mode reports the current AcquisitionMode, so a driver's Arm/Poll can
	// tell a streaming callback from a rapid-block trigger-ready signal.
	mode func() AcquisitionMode
}

// Mode reports whether the block is configured for streaming or
// rapid-block acquisition.
func (h *BlockHandle) Mode() AcquisitionMode { return h.mode() }

// Shape reports the enabled analog channel indices, enabled port
// indices, and the effective buffer size currently in force.
func (h *BlockHandle) Shape() (enabledAI, enabledPorts []int, bufferSize int) {
	return h.shape()
}

// Channels gives the driver read/write access to channel configuration, so
// Configure() can report back driver-determined ActualRange values.
func (h *BlockHandle) Channels() *[MaxAI]ChannelConfig { return h.channels }

// Ports gives the driver read/write access to port configuration.
func (h *BlockHandle) Ports() *[MaxPorts]PortConfig { return h.ports }

// TriggerConfig gives the driver read access to the active trigger.
func (h *BlockHandle) TriggerConfig() *TriggerConfig { return h.trigger }

// Acquisition gives the driver read/write access to acquisition
// parameters, so Configure() can report back the driver-determined
// ActualSampleRate.
func (h *BlockHandle) Acquisition() *AcquisitionConfig { return h.acq }

// PushChunk is called by the driver callback (see spec.md §6) to enqueue
// one chunk and record an inter-arrival-rate observation for the watchdog
// estimator. It never blocks.
func (h *BlockHandle) PushChunk(chunk ChunkRecord, observedRate float64) {
	h.watchdogMu.Lock()
	h.avg.Add(observedRate)
	h.watchdogMu.Unlock()
	h.push(chunk)
}
