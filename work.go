package acqcore

import (
	"time"
)

func nowUTCNanos() int64 { return time.Now().UnixNano() }

// Work advances the block by one chunk (streaming) or one rapid-block FSM
// step, dispatching on AcquisitionMode per SPEC_FULL.md's resolution of
// spec.md §9's "dual-mode work loop" design note. samples is the number
// of samples written to each enabled stream this call; done reports
// end-of-stream.
func (b *Block) Work(sink OutputSink) (samples int, done bool) {
	b.mu.Lock()
	mode := b.mode
	b.mu.Unlock()

	if mode == ModeRapidBlock {
		return b.workRapidBlock(sink)
	}
	return b.workStream(sink)
}

// workStream implements spec.md §4.6's seven numbered steps.
func (b *Block) workStream(sink OutputSink) (int, bool) {
	n := b.blockSizeEffective()

	ec := b.ring.WaitDataReady()
	switch ec.Kind {
	case KindStopped:
		return 0, true
	case KindWatchdog:
		b.errLog.Push(ec)
		b.Disarm()
		if err := b.Arm(); err != nil {
			return 0, true
		}
		return 0, false
	case KindNone:
		// proceed
	default:
		b.errLog.Push(ec)
		return 0, true
	}

	_, lost := b.ring.Pop(b.scratchAI, b.scratchAIErr, b.scratchPorts, b.scratchStatus)
	if lost > 0 {
		logWarnf("acqcore: dropped %d chunk(s) before pop, application ring buffer was full", lost)
	}

	streams := b.activeStreams()
	prevCounts := make([]int64, len(streams))
	for i, s := range streams {
		prevCounts[i] = b.streamItems[s]
	}

	now := nowUTCNanos()
	timebase := b.timebase()

	for slot, ch := range b.enabledAI {
		streamIdx := analogValueStream(ch)
		sink.WriteAnalog(streamIdx, b.scratchAI[slot], b.scratchAIErr[slot])
	}
	for slot, p := range b.enabledPorts {
		streamIdx := portStream(p)
		sink.WritePort(streamIdx, b.scratchPorts[slot])
	}

	// Step 5: one acq_info tag per enabled channel/port, on every stream
	// that channel/port owns (value + error-estimate, or the single port
	// stream).
	for slot, ch := range b.enabledAI {
		status := b.scratchStatus[slot]
		algo := b.channels[ch].AlgorithmID
		for _, streamIdx := range [2]int{analogValueStream(ch), analogErrStream(ch)} {
			sink.Tag(streamIdx, int(b.streamItems[streamIdx]), AcqInfoTag{
				Timestamp:        now,
				Timebase:         timebase,
				Samples:          n,
				Offset:           int(b.streamItems[streamIdx]),
				Triggered:        false,
				TriggerTimestamp: -1,
				Status:           status,
				AlgorithmID:      algo,
			})
		}
	}
	for _, p := range b.enabledPorts {
		streamIdx := portStream(p)
		sink.Tag(streamIdx, int(b.streamItems[streamIdx]), AcqInfoTag{
			Timestamp:        now,
			Timebase:         timebase,
			Samples:          n,
			Offset:           int(b.streamItems[streamIdx]),
			Triggered:        false,
			TriggerTimestamp: -1,
			Status:           0,
		})
	}

	// Step 6: run the trigger detector on the designated channel/port and
	// emit a bare trigger tag on every enabled stream at each offset.
	var offsets []int
	b.mu.Lock()
	trig := b.trigger
	b.mu.Unlock()
	if trig.IsAnalog() && b.triggerChanSlot >= 0 {
		ch := b.enabledAI[b.triggerChanSlot]
		offsets = b.det.FindAnalog(b.scratchAI[b.triggerChanSlot], trig.Direction, trig.Threshold, b.channels[ch].ActualRange)
	} else if trig.IsDigital() && b.triggerPortSlot >= 0 {
		offsets = b.det.FindDigital(b.scratchPorts[b.triggerPortSlot], trig.Direction, b.triggerMask)
	}
	for _, off := range offsets {
		for i, streamIdx := range streams {
			sink.Tag(streamIdx, int(prevCounts[i])+off, TriggerTag{})
		}
	}

	// Step 7: on the first successful call since arm, emit timebase_info.
	b.mu.Lock()
	firstCall := !b.timebasePublished
	if firstCall {
		b.timebasePublished = true
	}
	b.mu.Unlock()
	if firstCall {
		for i, streamIdx := range streams {
			sink.Tag(streamIdx, int(prevCounts[i]), TimebaseInfoTag{Timebase: timebase})
		}
	}

	for _, streamIdx := range streams {
		b.streamItems[streamIdx] += int64(n)
	}

	return n, false
}
