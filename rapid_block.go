package acqcore

// rapidBlockReader is the two-phase per-waveform fetch state machine of
// spec.md §4.5, grounded on digitizer_block_impl.cc's rapid-block read
// loop (itself mirroring a PicoScope-style GetValues call split across
// the pre-trigger and post-trigger halves of one captured waveform).
type rapidBlockReader struct {
	phase       RapidBlockPhase
	waveformIdx int
	offset      int
	samplesLeft int
}

func newRapidBlockReader() *rapidBlockReader {
	return &rapidBlockReader{phase: RBWaiting}
}

// workRapidBlock advances the rapid-block FSM by one call, writing
// whatever samples that step produces (zero for a Waiting transition) to
// sink. done reports end-of-stream.
func (b *Block) workRapidBlock(sink OutputSink) (samples int, done bool) {
	rb := b.rb
	switch rb.phase {
	case RBWaiting:
		return b.rapidBlockWaiting(sink)
	case RBReadingPart1:
		return b.rapidBlockReadPart(sink, true)
	case RBReadingPart2:
		return b.rapidBlockReadPart(sink, false)
	default:
		return 0, true
	}
}

func (b *Block) rapidBlockWaiting(sink OutputSink) (int, bool) {
	b.mu.Lock()
	triggerOnce := b.acq.TriggerOnce
	wasTriggered := b.wasTriggeredOnce
	autoArm := b.acq.AutoArm
	b.mu.Unlock()

	if triggerOnce && wasTriggered {
		return 0, true
	}

	if autoArm {
		b.Disarm()
		for {
			if err := b.Arm(); err == nil {
				break
			}
			b.mu.Lock()
			state := b.state
			b.mu.Unlock()
			if state == Uninitialized {
				return 0, true
			}
		}
	}

	ec := b.ring.WaitDataReady()
	if ec.Kind == KindStopped {
		return 0, true
	}
	if !ec.IsZero() {
		b.errLog.Push(ec)
		return 0, true
	}

	rb := b.rb
	rb.waveformIdx = 0
	rb.offset = 0
	rb.samplesLeft = b.preEffective()
	rb.phase = RBReadingPart1
	return 0, false
}

// rapidBlockReadPart services one half (pre-trigger if part1, post-trigger
// otherwise) of the current waveform. part1 additionally carries the
// trigger_info and bare trigger tags, emitted exactly once at the start of
// the waveform (spec.md §4.5's invariant).
func (b *Block) rapidBlockReadPart(sink OutputSink, part1 bool) (int, bool) {
	rb := b.rb
	n := rb.samplesLeft

	if ec := b.driver.PrefetchBlock(n, rb.waveformIdx); !ec.IsZero() {
		b.errLog.Push(newDriverError(KindReadFailed, ec.Cause))
		return 0, true
	}

	if ec := b.driver.GetRapidBlockData(rb.offset, n, rb.waveformIdx, &b.rbChunk); !ec.IsZero() {
		b.errLog.Push(newDriverError(KindReadFailed, ec.Cause))
		return 0, true
	}

	for slot, ch := range b.enabledAI {
		sink.WriteAnalog(analogValueStream(ch), b.rbChunk.AI[slot][:n], b.rbChunk.AIErr[slot][:n])
	}
	for slot, p := range b.enabledPorts {
		sink.WritePort(portStream(p), b.rbChunk.Ports[slot][:n])
	}

	if part1 {
		timebase := b.timebase()
		utcNow := nowUTCNanos()
		for slot, ch := range b.enabledAI {
			status := b.rbChunk.Status[slot]
			algo := b.channels[ch].AlgorithmID
			for _, streamIdx := range [2]int{analogValueStream(ch), analogErrStream(ch)} {
				prev := int(b.streamItems[streamIdx])
				sink.Tag(streamIdx, prev, TriggerInfoTag{
					Pre:         b.preEffective(),
					Post:        b.postEffective(),
					Status:      status,
					Timebase:    timebase,
					UTCNanos:    utcNow,
					AlgorithmID: algo,
				})
				sink.Tag(streamIdx, prev+b.preEffective(), TriggerTag{})
			}
		}
		for _, p := range b.enabledPorts {
			streamIdx := portStream(p)
			prev := int(b.streamItems[streamIdx])
			sink.Tag(streamIdx, prev, TriggerInfoTag{
				Pre:      b.preEffective(),
				Post:     b.postEffective(),
				Status:   0,
				Timebase: timebase,
				UTCNanos: utcNow,
			})
			sink.Tag(streamIdx, prev+b.preEffective(), TriggerTag{})
		}
	}

	for _, streamIdx := range b.activeStreams() {
		b.streamItems[streamIdx] += int64(n)
	}

	b.mu.Lock()
	b.wasTriggeredOnce = true
	b.mu.Unlock()

	if part1 {
		rb.offset += n
		rb.samplesLeft = b.postEffective()
		rb.phase = RBReadingPart2
		return n, false
	}

	rb.waveformIdx++
	b.mu.Lock()
	nrCaptures := b.acq.NrCaptures
	b.mu.Unlock()
	if rb.waveformIdx >= nrCaptures {
		rb.phase = RBWaiting
	} else {
		rb.offset = 0
		rb.samplesLeft = b.preEffective()
		rb.phase = RBReadingPart1
	}
	return n, false
}
