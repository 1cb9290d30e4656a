package acqcore

import (
	"fmt"
	"strconv"
)

// MaxAI is the largest number of analog input channels a Block supports.
const MaxAI = 16

// MaxPorts is the largest number of digital input ports a Block supports.
// Port ids are a single decimal digit ("port0".."port9"), so this must
// stay at 10.
const MaxPorts = 10

// Sample holds one raw analog reading, already scaled to volts by the driver.
type Sample = float32

// TriggerDirection names the edge or level a trigger looks for.
type TriggerDirection int

// Values for TriggerDirection.
const (
	Rising TriggerDirection = iota
	Falling
	High
	Low
)

func (d TriggerDirection) String() string {
	switch d {
	case Rising:
		return "RISING"
	case Falling:
		return "FALLING"
	case High:
		return "HIGH"
	case Low:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// DownsamplingMode names how a block reduces the raw sample rate.
type DownsamplingMode int

// Values for DownsamplingMode.
const (
	DownsamplingNone DownsamplingMode = iota
	DownsamplingMinMaxAgg
	DownsamplingDecimate
	DownsamplingAverage
)

// AlgorithmID names a post-processing filter a downstream sink may select
// for a channel. Ported from include/digitizers/status.h's algorithm_id_t;
// the core only threads the value through, it does not apply the filter.
type AlgorithmID int

// Values for AlgorithmID.
const (
	FIRLowPass AlgorithmID = iota
	FIRBandPass
	FIRCustom
	FIRCustomFFT
	IIRLowPass
	IIRHighPass
	IIRCustom
	Average
)

// Channel status bitmask flags, one bitmask per channel per chunk.
const (
	StatusOverflow                      uint32 = 0x01
	StatusRealignmentError              uint32 = 0x02
	StatusNotAllDataExtracted           uint32 = 0x04
	StatusTimeoutWaitingWROrRealignment uint32 = 0x08
)

// ChannelConfig describes one analog input channel. Mutated only between
// Configure and Arm.
type ChannelConfig struct {
	Enabled     bool
	Range       float64 // volts full-scale
	Offset      float64
	DCCoupled   bool
	ActualRange float64 // driver-reported, set during Configure
	AlgorithmID AlgorithmID
}

// PortConfig describes one digital input port.
type PortConfig struct {
	Enabled    bool
	LogicLevel float64 // threshold voltage
}

// TriggerSource names what a TriggerConfig watches.
type TriggerSource int

// Values for TriggerSource.
const (
	TriggerSourceNone TriggerSource = iota
	TriggerSourceAnalog
	TriggerSourceDigital
)

// TriggerConfig describes the single active trigger. Exactly one of
// analog / digital / none is active at a time (IsAnalog/IsDigital/IsNone).
type TriggerConfig struct {
	source    TriggerSource
	channelID string // analog channel id, e.g. "A"; unused for digital/none
	Direction TriggerDirection
	Threshold float64 // volts, analog only
	PinNumber uint32  // 0..7 within a port, digital only
}

// IsAnalog reports whether the trigger watches an analog channel.
func (t TriggerConfig) IsAnalog() bool { return t.source == TriggerSourceAnalog }

// IsDigital reports whether the trigger watches a digital pin.
func (t TriggerConfig) IsDigital() bool { return t.source == TriggerSourceDigital }

// IsNone reports whether triggering is disabled.
func (t TriggerConfig) IsNone() bool { return t.source == TriggerSourceNone }

// AcquisitionConfig holds the tunables that drive timing, buffering and
// downsampling for a Block.
type AcquisitionConfig struct {
	NominalSampleRate  float64
	ActualSampleRate   float64 // driver-reported
	PostTriggerSamples int
	PreTriggerSamples  int
	NrBuffers          int
	DriverBufferSize   int
	PollPeriod         float64 // seconds
	DownsamplingMode   DownsamplingMode
	DownsamplingFactor int
	NrCaptures         int // rapid-block only
	AutoArm            bool
	TriggerOnce        bool
}

// BufferSize is pre + post trigger samples, the length of one ChunkRecord.
func (c AcquisitionConfig) BufferSize() int {
	return c.PreTriggerSamples + c.PostTriggerSamples
}

// ChunkRecord is one fixed-size slice of samples for all enabled channels
// and ports, produced atomically by the driver callback.
type ChunkRecord struct {
	AI            [][]Sample // one slice per enabled analog channel, len == BufferSize
	AIErr         [][]Sample // per-channel error estimate, same shape as AI
	Ports         [][]byte   // one slice per enabled digital port
	Status        []uint32   // per enabled analog channel
	LocalTimestamp int64     // ns since epoch, taken at driver callback
}

// FsmState names the lifecycle stage of the acquisition state machine.
type FsmState int

// Values for FsmState.
const (
	Uninitialized FsmState = iota
	Initialized
	Armed
	Running
	Stopping
	Closed
)

func (s FsmState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Armed:
		return "Armed"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// PollerState is the handshake variable that drives the poller goroutine.
type PollerState int

// Values for PollerState.
const (
	PollerIdle PollerState = iota
	PollerRunning
	PollerPendIdle
	PollerPendExit
	PollerExit
)

// RapidBlockPhase names the phase of the two-phase rapid-block reader.
type RapidBlockPhase int

// Values for RapidBlockPhase.
const (
	RBWaiting RapidBlockPhase = iota
	RBReadingPart1
	RBReadingPart2
)

// ConvertToAIChanIdx parses an analog channel id ("A".."P") into a 0-based
// index. Ids are a single uppercase or lowercase letter.
func ConvertToAIChanIdx(id string) (int, error) {
	if len(id) != 1 {
		return 0, fmt.Errorf("%w: aichan id should be a single character, got %q", ErrInvalidArgument, id)
	}
	c := id[0]
	if c >= 'a' && c <= 'z' {
		c = c - 'a' + 'A'
	}
	idx := int(c - 'A')
	if idx < 0 || idx >= MaxAI {
		return 0, fmt.Errorf("%w: invalid aichan id %q", ErrInvalidArgument, id)
	}
	return idx, nil
}

// ConvertToPortIdx parses a digital port id ("port<N>", N a single decimal
// digit) into a 0-based index.
func ConvertToPortIdx(id string) (int, error) {
	if len(id) != 5 || id[:4] != "port" {
		return 0, fmt.Errorf("%w: invalid port id %q, want format 'port<d>'", ErrInvalidArgument, id)
	}
	idx, err := strconv.Atoi(id[4:5])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid port id %q: %s", ErrInvalidArgument, id, err)
	}
	if idx < 0 || idx >= MaxPorts {
		return 0, fmt.Errorf("%w: invalid port number %q", ErrInvalidArgument, id)
	}
	return idx, nil
}
