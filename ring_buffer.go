package acqcore

import "sync"

// AppBuffer is a bounded multi-producer/single-consumer queue of
// ChunkRecords. The driver callback pushes (never blocking); the worker
// pops (blocking until data or an error is posted). It never reorders: the
// consumer observes chunks in the same order they were pushed, and the
// "lost" counter reports only drops since the previous successful Pop.
//
// Grounded on AnySource's sourceStateLock + condition-free channel handoff
// in data_source.go, adapted here to a mutex+cond pair because Pop must
// distinguish "woken by data" from "woken by error" (AnySource's nextBlock
// channel doesn't need to, since it always carries data-or-error together).
type AppBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	chunks   []ChunkRecord
	head     int // index of oldest chunk
	count    int // number of chunks currently queued
	capacity int
	lost     int // dropped since the last successful Pop

	errPending bool
	err        ErrorCode
}

// NewAppBuffer allocates an AppBuffer with zero capacity; call Initialize
// before use.
func NewAppBuffer() *AppBuffer {
	b := &AppBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Initialize (re)allocates the ring for nrBuffers chunks, each shaped for
// nai analog channels and ndi digital ports of bufferSize samples. It is
// idempotent across Configure calls; any in-flight data is discarded, as
// documented in spec.md §4.1.
func (b *AppBuffer) Initialize(nai, ndi, bufferSize, nrBuffers int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.capacity = nrBuffers
	b.chunks = make([]ChunkRecord, nrBuffers)
	for i := range b.chunks {
		b.chunks[i] = ChunkRecord{
			AI:    make([][]Sample, nai),
			AIErr: make([][]Sample, nai),
			Ports: make([][]byte, ndi),
			Status: make([]uint32, nai),
		}
		for c := 0; c < nai; c++ {
			b.chunks[i].AI[c] = make([]Sample, bufferSize)
			b.chunks[i].AIErr[c] = make([]Sample, bufferSize)
		}
		for p := 0; p < ndi; p++ {
			b.chunks[i].Ports[p] = make([]byte, bufferSize)
		}
	}
	b.head = 0
	b.count = 0
	b.lost = 0
}

// Push enqueues one chunk from the driver callback. It never blocks: if
// the queue is full, the oldest chunk is dropped and the lost counter
// increments.
func (b *AppBuffer) Push(chunk ChunkRecord) {
	b.mu.Lock()
	if b.capacity == 0 {
		b.mu.Unlock()
		return
	}
	tail := (b.head + b.count) % b.capacity
	if b.count == b.capacity {
		// Drop the oldest chunk to make room: the tail slot is the old
		// head slot, and it now holds the newest chunk.
		b.head = (b.head + 1) % b.capacity
		b.lost++
	} else {
		b.count++
	}
	b.chunks[tail] = chunk
	b.mu.Unlock()
	b.cond.Signal()
}

// Pop blocks until a chunk is queued (a posted error does not end the
// wait), then copies out the oldest chunk's fields and returns the number
// lost since the previous Pop.
func (b *AppBuffer) Pop(outAI, outAIErr [][]Sample, outPorts [][]byte, outStatus []uint32) (localTS int64, lost int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.count == 0 {
		b.cond.Wait()
	}
	chunk := b.chunks[b.head]
	b.head = (b.head + 1) % b.capacity
	b.count--

	for i := range outAI {
		copy(outAI[i], chunk.AI[i])
	}
	for i := range outAIErr {
		copy(outAIErr[i], chunk.AIErr[i])
	}
	for i := range outPorts {
		copy(outPorts[i], chunk.Ports[i])
	}
	copy(outStatus, chunk.Status)

	lost = b.lost
	b.lost = 0
	localTS = chunk.LocalTimestamp
	return
}

// WaitDataReady blocks until either a chunk is queued or an error has been
// posted via NotifyDataReady, then returns that error (zero value means
// normal readiness: a chunk is ready for Pop). A pending error always takes
// priority over queued data, so Stop/Watchdog reliably interrupt a waiter
// even if chunks are sitting in the queue.
func (b *AppBuffer) WaitDataReady() ErrorCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.count == 0 && !b.errPending {
		b.cond.Wait()
	}
	if b.errPending {
		ec := b.err
		b.errPending = false
		b.err = ErrorCode{}
		return ec
	}
	return ErrorCode{}
}

// NotifyDataReady posts ec and wakes every waiter in WaitDataReady. The zero
// ErrorCode clears any previously posted error without signalling a fresh
// one (used by Arm to clear a stale condition from before the arm).
func (b *AppBuffer) NotifyDataReady(ec ErrorCode) {
	b.mu.Lock()
	if ec.IsZero() {
		b.errPending = false
		b.err = ErrorCode{}
	} else {
		b.errPending = true
		b.err = ec
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Len reports the number of chunks currently queued (for tests/metrics).
func (b *AppBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
