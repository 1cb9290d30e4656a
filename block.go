package acqcore

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/mat"
)

// AcquisitionMode selects which of the two work loops Block.Work dispatches
// to. SPEC_FULL.md's "Dual-mode work loop" resolution: a sum-typed
// dispatch on this field, rather than one record carrying fields for both
// modes.
type AcquisitionMode int

// Values for AcquisitionMode.
const (
	ModeStreaming AcquisitionMode = iota
	ModeRapidBlock
)

// Block is the acquisition core: it owns configuration, the FSM, the
// ring buffer, the poller and the trigger detector, and exposes the
// control surface of spec.md §6. It is grounded on AnySource in
// data_source.go (Start/Stop lifecycle, a lock guarding configuration
// mutated from outside the hot path) and on digitizer_block_impl.cc for
// the FSM method bodies themselves.
type Block struct {
	// mu guards every field below except the ring buffer, poller and
	// error log, which have their own internal synchronization. The
	// original assumed a single framework worker calling both control
	// methods and work(); here control methods may additionally be
	// invoked from the RPC server goroutine (rpc_server.go), so an
	// explicit lock replaces that single-thread assumption.
	mu sync.Mutex

	driver Driver
	handle *BlockHandle
	ring   *AppBuffer
	errLog *ErrorLog
	avg    *MovingAverage

	watchdogMu sync.Mutex
	poller     *poller
	det        *TriggerDetector
	rb         *rapidBlockReader

	channels [MaxAI]ChannelConfig
	ports    [MaxPorts]PortConfig
	trigger  TriggerConfig
	acq      AcquisitionConfig
	mode     AcquisitionMode

	state                     FsmState
	armed                     bool
	wasTriggeredOnce          bool
	timebasePublished         bool
	configureExceptionMessage string

	// armID uniquely identifies one arm-to-disarm run, for correlating
	// log lines and published status across that run.
	armID string

	// enabledAI/enabledPorts hold 0-based channel/port indices in
	// ascending order, derived once per Arm and reused by both the value
	// binding step and the trigger-offset lookup step of the work loop,
	// per SPEC_FULL.md's resolution of the enable-index open question.
	enabledAI    []int
	enabledPorts []int

	// triggerChanSlot/triggerPortSlot locate the trigger's source within
	// enabledAI/enabledPorts (-1 if the trigger doesn't watch that
	// domain), resolved once alongside the enable-index table.
	triggerChanSlot int
	triggerPortSlot int
	triggerMask     byte

	scratchAI     [][]Sample
	scratchAIErr  [][]Sample
	scratchPorts  [][]byte
	scratchStatus []uint32
	rbChunk       ChunkRecord

	// streamItems tracks nitems_written per fixed output stream slot
	// (2*MaxAI value/error streams, then MaxPorts port streams), so tags
	// can be placed at the correct offset without OutputSink needing to
	// report it back.
	streamItems [2*MaxAI + MaxPorts]int64
}

func analogValueStream(ch int) int { return 2 * ch }
func analogErrStream(ch int) int   { return 2*ch + 1 }
func portStream(p int) int         { return 2*MaxAI + p }

// activeStreams returns every output stream index that is currently
// enabled: value and error-estimate streams for each enabled analog
// channel, then one stream per enabled port. Tags are only ever emitted
// on these slots (spec.md §6: disabled outputs receive no tags).
func (b *Block) activeStreams() []int {
	streams := make([]int, 0, 2*len(b.enabledAI)+len(b.enabledPorts))
	for _, ch := range b.enabledAI {
		streams = append(streams, analogValueStream(ch), analogErrStream(ch))
	}
	for _, p := range b.enabledPorts {
		streams = append(streams, portStream(p))
	}
	return streams
}

// NewBlock constructs a Block around driver, which must not yet be used
// (Initialize is the first call driver will receive).
func NewBlock(driver Driver) *Block {
	b := &Block{
		driver: driver,
		ring:   NewAppBuffer(),
		errLog: NewErrorLog(),
		avg:    NewMovingAverage(),
		state:  Uninitialized,
		acq: AcquisitionConfig{
			PostTriggerSamples: 1,
			NrBuffers:          1,
			DriverBufferSize:   1,
			NrCaptures:         1,
			DownsamplingFactor: 1,
		},
		triggerChanSlot: -1,
		triggerPortSlot: -1,
	}
	b.handle = &BlockHandle{
		push:       b.ring.Push,
		avg:        b.avg,
		watchdogMu: &b.watchdogMu,
		channels:   &b.channels,
		ports:      &b.ports,
		trigger:    &b.trigger,
		acq:        &b.acq,
	}
	b.handle.shape = func() ([]int, []int, int) {
		b.mu.Lock()
		defer b.mu.Unlock()
		ai := append([]int(nil), b.enabledAI...)
		ports := append([]int(nil), b.enabledPorts...)
		return ai, ports, b.blockSizeEffective()
	}
	// mode is read without b.mu: it is called from Driver.Arm(), which
	// Block.Arm() invokes while already holding b.mu, so a second lock
	// attempt here would deadlock. Mode only changes via SetStreaming /
	// SetRapidBlock, both called before Configure/Arm in the normal
	// control sequence.
	b.handle.mode = func() AcquisitionMode { return b.mode }
	driver.Bind(b.handle)
	b.poller = newPoller(driver, b.ring, &b.watchdogMu, b.avg, func() float64 { return b.acq.NominalSampleRate })
	return b
}

// ApplyCalibrationMatrix applies a per-channel (scale, offset) correction
// read from an MaxAI x 2 matrix: column 0 multiplies ChannelConfig.Range,
// column 1 is added to ChannelConfig.Offset. Row i applies to channel i
// whether or not that channel is enabled; m may have fewer than MaxAI
// rows, and a matrix with more than MaxAI rows is rejected.
func (b *Block) ApplyCalibrationMatrix(m *mat.Dense) error {
	rows, cols := m.Dims()
	if cols != 2 {
		return invalidArg("%w: calibration matrix must have 2 columns, got %d", ErrInvalidArgument, cols)
	}
	if rows > MaxAI {
		return invalidArg("%w: calibration matrix must have at most %d rows, got %d", ErrInvalidArgument, MaxAI, rows)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < rows; i++ {
		b.channels[i].Range *= m.At(i, 0)
		b.channels[i].Offset += m.At(i, 1)
	}
	return nil
}

// --- Control surface: validation-only setters (spec.md §4.4, §6) -------

func invalidArg(format string, args ...interface{}) error {
	return &AcqError{Code: ErrorCode{Kind: KindInvalidArgument, Category: CategoryInternal, Cause: fmt.Errorf(format, args...)}}
}

// SetSamples sets pre/post trigger sample counts.
func (b *Block) SetSamples(preSamples, postSamples int) error {
	if postSamples < 1 {
		return invalidArg("%w: post_samples must be >= 1, got %d", ErrInvalidArgument, postSamples)
	}
	if preSamples < 0 {
		return invalidArg("%w: pre_samples must be >= 0, got %d", ErrInvalidArgument, preSamples)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acq.PreTriggerSamples = preSamples
	b.acq.PostTriggerSamples = postSamples
	return nil
}

// SetSampRate sets the nominal sample rate.
func (b *Block) SetSampRate(sampleRate float64) error {
	if sampleRate <= 0 {
		return invalidArg("%w: sample_rate must be > 0, got %v", ErrInvalidArgument, sampleRate)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acq.NominalSampleRate = sampleRate
	return nil
}

// SetBufferSize validates a requested buffer size. buffer_size is derived
// from pre+post (spec.md §3's invariant), so this does not change
// anything; it is kept for control-surface parity with the original.
func (b *Block) SetBufferSize(bufferSize int) error {
	if bufferSize < 0 {
		return invalidArg("%w: buffer_size must be >= 0, got %d", ErrInvalidArgument, bufferSize)
	}
	return nil
}

// SetNrBuffers sets the application ring buffer's capacity.
func (b *Block) SetNrBuffers(n int) error {
	if n < 1 {
		return invalidArg("%w: nr_buffers must be >= 1, got %d", ErrInvalidArgument, n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acq.NrBuffers = n
	return nil
}

// SetDriverBufferSize sets the driver's own internal buffer size.
func (b *Block) SetDriverBufferSize(n int) error {
	if n < 1 {
		return invalidArg("%w: driver_buffer_size must be >= 1, got %d", ErrInvalidArgument, n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acq.DriverBufferSize = n
	return nil
}

// SetAutoArm toggles whether start() re-arms automatically.
func (b *Block) SetAutoArm(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acq.AutoArm = v
}

// SetTriggerOnce toggles rapid-block single-shot behavior.
func (b *Block) SetTriggerOnce(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acq.TriggerOnce = v
}

// SetStreaming selects streaming mode with the given poll period, seconds.
func (b *Block) SetStreaming(pollPeriod float64) error {
	if pollPeriod < 0 {
		return invalidArg("%w: poll_period must be >= 0, got %v", ErrInvalidArgument, pollPeriod)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = ModeStreaming
	b.acq.PollPeriod = pollPeriod
	return nil
}

// SetRapidBlock selects rapid-block mode with the given waveform count.
func (b *Block) SetRapidBlock(nrCaptures int) error {
	if nrCaptures < 1 {
		return invalidArg("%w: nr_captures must be >= 1, got %d", ErrInvalidArgument, nrCaptures)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = ModeRapidBlock
	b.acq.NrCaptures = nrCaptures
	return nil
}

// SetDownsampling sets the downsampling mode and factor. factor must be 1
// iff mode is DownsamplingNone, else >= 2 (spec.md §3's invariant).
func (b *Block) SetDownsampling(mode DownsamplingMode, factor int) error {
	if mode == DownsamplingNone {
		if factor != 1 {
			return invalidArg("%w: downsampling_factor must be 1 when mode is NONE, got %d", ErrInvalidArgument, factor)
		}
	} else if factor < 2 {
		return invalidArg("%w: downsampling_factor must be >= 2 when mode != NONE, got %d", ErrInvalidArgument, factor)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acq.DownsamplingMode = mode
	b.acq.DownsamplingFactor = factor
	return nil
}

// SetAIChan configures one analog input channel by id ("A".."P").
func (b *Block) SetAIChan(id string, enabled bool, rng, offset float64, dcCoupled bool) error {
	idx, err := ConvertToAIChanIdx(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[idx].Enabled = enabled
	b.channels[idx].Range = rng
	b.channels[idx].Offset = offset
	b.channels[idx].DCCoupled = dcCoupled
	return nil
}

// SetAIChanRange updates the range/offset of an already-configured channel.
func (b *Block) SetAIChanRange(id string, rng, offset float64) error {
	idx, err := ConvertToAIChanIdx(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[idx].Range = rng
	b.channels[idx].Offset = offset
	return nil
}

// SetAIChanAlgorithm tags channel id with the post-processing filter a
// downstream sink should select; the core carries the value but never
// applies it.
func (b *Block) SetAIChanAlgorithm(id string, algo AlgorithmID) error {
	idx, err := ConvertToAIChanIdx(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[idx].AlgorithmID = algo
	return nil
}

// SetAIChanTrigger makes channel id the (sole) analog trigger source.
func (b *Block) SetAIChanTrigger(id string, direction TriggerDirection, threshold float64) error {
	if _, err := ConvertToAIChanIdx(id); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trigger = TriggerConfig{
		source:    TriggerSourceAnalog,
		channelID: id,
		Direction: direction,
		Threshold: threshold,
	}
	return nil
}

// SetDIPort configures one digital input port by id ("port0".."port9").
func (b *Block) SetDIPort(id string, enabled bool, logicLevel float64) error {
	idx, err := ConvertToPortIdx(id)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[idx].Enabled = enabled
	b.ports[idx].LogicLevel = logicLevel
	return nil
}

// SetDITrigger makes pin (0..7) of port0 the (sole) digital trigger
// source. The trigger is only evaluated while port0 is enabled.
func (b *Block) SetDITrigger(pin uint32, direction TriggerDirection) error {
	if pin > 7 {
		return invalidArg("%w: pin_number must be 0..7, got %d", ErrInvalidArgument, pin)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trigger = TriggerConfig{
		source:    TriggerSourceDigital,
		Direction: direction,
		PinNumber: pin,
	}
	return nil
}

// DisableTriggers turns off triggering entirely.
func (b *Block) DisableTriggers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trigger = TriggerConfig{source: TriggerSourceNone}
}

// --- Derived values (spec.md §4.4) -------------------------------------

func (b *Block) preEffective() int {
	return b.acq.PreTriggerSamples / b.acq.DownsamplingFactor
}

func (b *Block) postEffective() int {
	return b.acq.PostTriggerSamples / b.acq.DownsamplingFactor
}

func (b *Block) blockSizeEffective() int {
	return b.preEffective() + b.postEffective()
}

func (b *Block) timebase() float64 {
	if b.acq.DownsamplingMode == DownsamplingNone {
		return 1.0 / b.acq.ActualSampleRate
	}
	return float64(b.acq.DownsamplingFactor) / b.acq.ActualSampleRate
}

// --- Acquisition FSM (spec.md §4.4) ------------------------------------

// Initialize opens the device. A no-op if already initialized.
func (b *Block) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Uninitialized {
		return nil
	}
	if ec := b.driver.Initialize(); !ec.IsZero() {
		wrapped := newDriverError(KindInitializeFailed, ec.Cause)
		b.errLog.Push(wrapped)
		return &AcqError{Code: wrapped}
	}
	b.state = Initialized
	return nil
}

// Configure applies channels/ports/trigger/rate/pre/post/mode to the
// driver, then (re)initializes the application ring buffer.
func (b *Block) Configure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Uninitialized || b.armed {
		return &AcqError{Code: ErrorCode{Kind: KindInvalidState, Category: CategoryInternal, Cause: ErrInvalidState}}
	}
	if ec := b.driver.Configure(); !ec.IsZero() {
		wrapped := newDriverError(KindConfigureFailed, ec.Cause)
		b.errLog.Push(wrapped)
		return &AcqError{Code: wrapped}
	}

	nai, ndi := b.countEnabled()
	b.ring.Initialize(nai, ndi, b.blockSizeEffective(), b.acq.NrBuffers)
	return nil
}

func (b *Block) countEnabled() (nai, ndi int) {
	for i := 0; i < MaxAI; i++ {
		if b.channels[i].Enabled {
			nai++
		}
	}
	for j := 0; j < MaxPorts; j++ {
		if b.ports[j].Enabled {
			ndi++
		}
	}
	return
}

// Arm seeds the watchdog estimator, arms the driver, builds the
// enable-index table and (streaming only) starts the poller. Idempotent
// if already armed.
func (b *Block) Arm() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.armed {
		return nil
	}
	if b.state == Uninitialized {
		return &AcqError{Code: ErrorCode{Kind: KindInvalidState, Category: CategoryInternal, Cause: ErrInvalidState}}
	}

	b.watchdogMu.Lock()
	b.avg.Seed(b.acq.NominalSampleRate)
	b.watchdogMu.Unlock()

	if ec := b.driver.Arm(); !ec.IsZero() {
		wrapped := newDriverError(KindArmFailed, ec.Cause)
		b.errLog.Push(wrapped)
		return &AcqError{Code: wrapped}
	}

	b.armed = true
	b.state = Armed
	b.timebasePublished = false
	b.wasTriggeredOnce = false
	b.armID = ulid.Make().String()
	b.ring.NotifyDataReady(ErrorCode{})
	b.buildEnableIndexTable()
	b.det = NewTriggerDetector()
	b.rb = newRapidBlockReader()

	if b.mode == ModeStreaming {
		b.poller.start(time.Duration(b.acq.PollPeriod * float64(time.Second)))
		b.poller.transitToRunning()
		b.state = Running
	}
	return nil
}

// buildEnableIndexTable derives enabledAI/enabledPorts and resolves the
// trigger's slot within them, once per Arm, per SPEC_FULL.md's resolution
// of spec.md §9's enable-index open question: the same table drives both
// output-vector binding and trigger-offset lookup.
func (b *Block) buildEnableIndexTable() {
	b.enabledAI = b.enabledAI[:0]
	b.enabledPorts = b.enabledPorts[:0]
	b.triggerChanSlot = -1
	b.triggerPortSlot = -1

	for i := 0; i < MaxAI; i++ {
		if b.channels[i].Enabled {
			b.enabledAI = append(b.enabledAI, i)
		}
	}
	for j := 0; j < MaxPorts; j++ {
		if b.ports[j].Enabled {
			b.enabledPorts = append(b.enabledPorts, j)
		}
	}

	if b.trigger.IsAnalog() {
		if idx, err := ConvertToAIChanIdx(b.trigger.channelID); err == nil {
			for slot, ch := range b.enabledAI {
				if ch == idx {
					b.triggerChanSlot = slot
					break
				}
			}
		}
	} else if b.trigger.IsDigital() {
		portForPin := int(b.trigger.PinNumber) / 8
		for slot, p := range b.enabledPorts {
			if p == portForPin {
				b.triggerPortSlot = slot
				break
			}
		}
		b.triggerMask = 1 << (b.trigger.PinNumber % 8)
	}

	n := b.blockSizeEffective()
	b.scratchAI = make([][]Sample, len(b.enabledAI))
	b.scratchAIErr = make([][]Sample, len(b.enabledAI))
	for i := range b.scratchAI {
		b.scratchAI[i] = make([]Sample, n)
		b.scratchAIErr[i] = make([]Sample, n)
	}
	b.scratchPorts = make([][]byte, len(b.enabledPorts))
	for i := range b.scratchPorts {
		b.scratchPorts[i] = make([]byte, n)
	}
	b.scratchStatus = make([]uint32, len(b.enabledAI))

	b.rbChunk = ChunkRecord{
		AI:    make([][]Sample, len(b.enabledAI)),
		AIErr: make([][]Sample, len(b.enabledAI)),
		Ports: make([][]byte, len(b.enabledPorts)),
		Status: make([]uint32, len(b.enabledAI)),
	}
	for i := range b.rbChunk.AI {
		b.rbChunk.AI[i] = make([]Sample, n)
		b.rbChunk.AIErr[i] = make([]Sample, n)
	}
	for i := range b.rbChunk.Ports {
		b.rbChunk.Ports[i] = make([]byte, n)
	}

	for i := range b.streamItems {
		b.streamItems[i] = 0
	}
}

// ArmID returns the ulid identifying the current (or most recent) arm,
// for log and status correlation.
func (b *Block) ArmID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armID
}

// IsArmed reports whether the block is currently armed.
func (b *Block) IsArmed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armed
}

// State reports the block's current FSM state.
func (b *Block) State() FsmState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Disarm stops sampling. Errors are logged, never returned.
func (b *Block) Disarm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disarmLocked()
}

func (b *Block) disarmLocked() {
	if !b.armed {
		return
	}
	if b.mode == ModeStreaming {
		// The poller's driver.Poll reaches b.mu through BlockHandle.Shape,
		// so b.mu is released while waiting for the poller to go idle.
		b.mu.Unlock()
		b.poller.transitToIdle()
		b.mu.Lock()
	}
	if ec := b.driver.Disarm(); !ec.IsZero() {
		b.errLog.Push(newDriverError(KindDisarmFailed, ec.Cause))
	}
	b.armed = false
	if b.state != Closed {
		b.state = Initialized
	}
}

// Close releases the device. Errors are logged, never returned.
func (b *Block) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ec := b.driver.Close(); !ec.IsZero() {
		b.errLog.Push(newDriverError(KindCloseFailed, ec.Cause))
	}
	b.state = Uninitialized
}

// GetErrors returns a snapshot of the error log without clearing it.
func (b *Block) GetErrors() []ErrorCode {
	return b.errLog.Drain()
}

// Start performs initialize -> configure, resets trigger-once bookkeeping,
// starts the poller (streaming) and auto-arms if enabled. Any failure is
// captured in configureExceptionMessage and false is returned; it never
// propagates an error to the caller, mirroring the original's
// exception-swallowing contract for the framework entry point.
func (b *Block) Start() bool {
	if err := b.Initialize(); err != nil {
		b.setConfigureExceptionMessage(err.Error())
		return false
	}
	if err := b.Configure(); err != nil {
		b.setConfigureExceptionMessage(err.Error())
		return false
	}

	b.mu.Lock()
	b.wasTriggeredOnce = false
	autoArm := b.acq.AutoArm
	streaming := b.mode == ModeStreaming
	pollPeriod := b.acq.PollPeriod
	b.mu.Unlock()

	if streaming {
		b.poller.start(time.Duration(pollPeriod * float64(time.Second)))
	}
	if autoArm {
		if err := b.Arm(); err != nil {
			b.setConfigureExceptionMessage(err.Error())
			return false
		}
	}
	b.setConfigureExceptionMessage("")
	return true
}

func (b *Block) setConfigureExceptionMessage(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configureExceptionMessage = msg
}

// ConfigureExceptionMessage returns the message captured by the last
// failing Start, or "" if the last Start succeeded.
func (b *Block) ConfigureExceptionMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configureExceptionMessage
}

// Stop posts Stopped (if armed) and disarms, stops the poller, and clears
// any saved configure-exception message. Always succeeds.
func (b *Block) Stop() bool {
	b.mu.Lock()
	if b.armed {
		b.ring.NotifyDataReady(newInternalError(KindStopped))
	}
	b.disarmLocked()
	b.configureExceptionMessage = ""
	b.mu.Unlock()

	b.poller.stop()
	return true
}
