package acqcore

import (
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"
)

// AcqControl is the RPC-reachable control surface over one Block,
// mirroring dastard's SourceControl (rpc_server.go): a thin net/rpc
// object whose methods forward to the underlying core and fan status out
// to any connected clients.
type AcqControl struct {
	block *Block
	pub   *TagPublisher
}

// NewAcqControl wraps block for RPC exposure. pub may be nil, in which
// case status broadcasts are skipped.
func NewAcqControl(block *Block, pub *TagPublisher) *AcqControl {
	return &AcqControl{block: block, pub: pub}
}

func (c *AcqControl) broadcastStatus() {
	if c.pub == nil {
		return
	}
	errs := c.block.GetErrors()
	_ = c.pub.PublishStatus(StatusUpdate{
		ArmID:      c.block.ArmID(),
		State:      c.block.State().String(),
		Armed:      c.block.IsArmed(),
		LostChunks: len(errs),
	})
}

// SamplesArgs holds set_samples's arguments.
type SamplesArgs struct{ Pre, Post int }

// SetSamples is the RPC form of Block.SetSamples.
func (c *AcqControl) SetSamples(args *SamplesArgs, reply *bool) error {
	err := c.block.SetSamples(args.Pre, args.Post)
	*reply = err == nil
	return err
}

// SetSampRate is the RPC form of Block.SetSampRate.
func (c *AcqControl) SetSampRate(rate *float64, reply *bool) error {
	err := c.block.SetSampRate(*rate)
	*reply = err == nil
	return err
}

// SetBufferSize is the RPC form of Block.SetBufferSize.
func (c *AcqControl) SetBufferSize(size *int, reply *bool) error {
	err := c.block.SetBufferSize(*size)
	*reply = err == nil
	return err
}

// SetNrBuffers is the RPC form of Block.SetNrBuffers.
func (c *AcqControl) SetNrBuffers(n *int, reply *bool) error {
	err := c.block.SetNrBuffers(*n)
	*reply = err == nil
	return err
}

// SetDriverBufferSize is the RPC form of Block.SetDriverBufferSize.
func (c *AcqControl) SetDriverBufferSize(n *int, reply *bool) error {
	err := c.block.SetDriverBufferSize(*n)
	*reply = err == nil
	return err
}

// SetAutoArm is the RPC form of Block.SetAutoArm.
func (c *AcqControl) SetAutoArm(v *bool, reply *bool) error {
	c.block.SetAutoArm(*v)
	*reply = true
	return nil
}

// SetTriggerOnce is the RPC form of Block.SetTriggerOnce.
func (c *AcqControl) SetTriggerOnce(v *bool, reply *bool) error {
	c.block.SetTriggerOnce(*v)
	*reply = true
	return nil
}

// SetStreaming is the RPC form of Block.SetStreaming.
func (c *AcqControl) SetStreaming(pollPeriod *float64, reply *bool) error {
	err := c.block.SetStreaming(*pollPeriod)
	*reply = err == nil
	return err
}

// SetRapidBlock is the RPC form of Block.SetRapidBlock.
func (c *AcqControl) SetRapidBlock(nrCaptures *int, reply *bool) error {
	err := c.block.SetRapidBlock(*nrCaptures)
	*reply = err == nil
	return err
}

// DownsamplingArgs holds set_downsampling's arguments.
type DownsamplingArgs struct {
	Mode   DownsamplingMode
	Factor int
}

// SetDownsampling is the RPC form of Block.SetDownsampling.
func (c *AcqControl) SetDownsampling(args *DownsamplingArgs, reply *bool) error {
	err := c.block.SetDownsampling(args.Mode, args.Factor)
	*reply = err == nil
	return err
}

// AIChanArgs holds set_aichan's arguments.
type AIChanArgs struct {
	ID        string
	Enabled   bool
	Range     float64
	Offset    float64
	DCCoupled bool
}

// SetAIChan is the RPC form of Block.SetAIChan.
func (c *AcqControl) SetAIChan(args *AIChanArgs, reply *bool) error {
	err := c.block.SetAIChan(args.ID, args.Enabled, args.Range, args.Offset, args.DCCoupled)
	*reply = err == nil
	return err
}

// AIChanRangeArgs holds set_aichan_range's arguments.
type AIChanRangeArgs struct {
	ID     string
	Range  float64
	Offset float64
}

// SetAIChanRange is the RPC form of Block.SetAIChanRange.
func (c *AcqControl) SetAIChanRange(args *AIChanRangeArgs, reply *bool) error {
	err := c.block.SetAIChanRange(args.ID, args.Range, args.Offset)
	*reply = err == nil
	return err
}

// AIChanTriggerArgs holds set_aichan_trigger's arguments.
type AIChanTriggerArgs struct {
	ID        string
	Direction TriggerDirection
	Threshold float64
}

// SetAIChanTrigger is the RPC form of Block.SetAIChanTrigger.
func (c *AcqControl) SetAIChanTrigger(args *AIChanTriggerArgs, reply *bool) error {
	err := c.block.SetAIChanTrigger(args.ID, args.Direction, args.Threshold)
	*reply = err == nil
	return err
}

// AIChanAlgorithmArgs holds set_aichan_algorithm's arguments.
type AIChanAlgorithmArgs struct {
	ID        string
	Algorithm AlgorithmID
}

// SetAIChanAlgorithm is the RPC form of Block.SetAIChanAlgorithm.
func (c *AcqControl) SetAIChanAlgorithm(args *AIChanAlgorithmArgs, reply *bool) error {
	err := c.block.SetAIChanAlgorithm(args.ID, args.Algorithm)
	*reply = err == nil
	return err
}

// DIPortArgs holds set_diport's arguments.
type DIPortArgs struct {
	ID         string
	Enabled    bool
	LogicLevel float64
}

// SetDIPort is the RPC form of Block.SetDIPort.
func (c *AcqControl) SetDIPort(args *DIPortArgs, reply *bool) error {
	err := c.block.SetDIPort(args.ID, args.Enabled, args.LogicLevel)
	*reply = err == nil
	return err
}

// DITriggerArgs holds set_di_trigger's arguments.
type DITriggerArgs struct {
	Pin       uint32
	Direction TriggerDirection
}

// SetDITrigger is the RPC form of Block.SetDITrigger.
func (c *AcqControl) SetDITrigger(args *DITriggerArgs, reply *bool) error {
	err := c.block.SetDITrigger(args.Pin, args.Direction)
	*reply = err == nil
	return err
}

// DisableTriggers is the RPC form of Block.DisableTriggers.
func (c *AcqControl) DisableTriggers(_ *struct{}, reply *bool) error {
	c.block.DisableTriggers()
	*reply = true
	return nil
}

// Initialize is the RPC form of Block.Initialize.
func (c *AcqControl) Initialize(_ *struct{}, reply *bool) error {
	err := c.block.Initialize()
	*reply = err == nil
	return err
}

// Configure is the RPC form of Block.Configure.
func (c *AcqControl) Configure(_ *struct{}, reply *bool) error {
	err := c.block.Configure()
	*reply = err == nil
	return err
}

// Arm is the RPC form of Block.Arm.
func (c *AcqControl) Arm(_ *struct{}, reply *bool) error {
	err := c.block.Arm()
	*reply = err == nil
	c.broadcastStatus()
	return err
}

// IsArmed is the RPC form of Block.IsArmed.
func (c *AcqControl) IsArmed(_ *struct{}, reply *bool) error {
	*reply = c.block.IsArmed()
	return nil
}

// Disarm is the RPC form of Block.Disarm.
func (c *AcqControl) Disarm(_ *struct{}, reply *bool) error {
	c.block.Disarm()
	*reply = true
	c.broadcastStatus()
	return nil
}

// Close is the RPC form of Block.Close.
func (c *AcqControl) Close(_ *struct{}, reply *bool) error {
	c.block.Close()
	*reply = true
	return nil
}

// GetErrors is the RPC form of Block.GetErrors.
func (c *AcqControl) GetErrors(_ *struct{}, reply *[]ErrorCode) error {
	*reply = c.block.GetErrors()
	return nil
}

// CalibrationArgs holds ConfigureCalibration's arguments: MatrixBase64 is
// a base64-encoded mat.Dense.MarshalBinary blob, MaxAI x 2, columns
// (scale, offset), as decoded by Block.ApplyCalibrationMatrix.
type CalibrationArgs struct {
	MatrixBase64 string
}

// ConfigureCalibration is the RPC form of Block.ApplyCalibrationMatrix,
// mirroring dastard's ConfigureProjectorsBasis (rpc_server.go): a
// base64-encoded mat.Dense blob decoded with UnmarshalBinary.
func (c *AcqControl) ConfigureCalibration(args *CalibrationArgs, reply *bool) error {
	raw, err := base64.StdEncoding.DecodeString(args.MatrixBase64)
	if err != nil {
		return err
	}
	var m mat.Dense
	if err := m.UnmarshalBinary(raw); err != nil {
		return err
	}
	if err := c.block.ApplyCalibrationMatrix(&m); err != nil {
		return err
	}
	*reply = true
	return nil
}

// RunRPCServer sets up and runs a permanent JSON-RPC server exposing
// control over block, optionally loading persisted channel/trigger
// configuration from viper and broadcasting periodic status over pub.
// Grounded on dastard's RunRPCServer (rpc_server.go): net/rpc +
// net/rpc/jsonrpc over a raw TCP listener, one goroutine per connection.
func RunRPCServer(block *Block, pub *TagPublisher, portrpc int) error {
	control := NewAcqControl(block, pub)

	if viper.ConfigFileUsed() != "" {
		var args AIChanArgs
		if err := viper.UnmarshalKey("channel", &args); err == nil && args.ID != "" {
			var okay bool
			if err := control.SetAIChan(&args, &okay); err != nil {
				log.Printf("acqcore: failed to apply persisted channel config: %s", err)
			}
		}
		var trig AIChanTriggerArgs
		if err := viper.UnmarshalKey("trigger", &trig); err == nil && trig.ID != "" {
			var okay bool
			if err := control.SetAIChanTrigger(&trig, &okay); err != nil {
				log.Printf("acqcore: failed to apply persisted trigger config: %s", err)
			}
		}
	}

	if pub != nil {
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				control.broadcastStatus()
			}
		}()
	}

	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return err
	}
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		return err
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
