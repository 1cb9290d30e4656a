package acqcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunk(nai, ndi, n int, fill Sample) ChunkRecord {
	c := ChunkRecord{
		AI:     make([][]Sample, nai),
		AIErr:  make([][]Sample, nai),
		Ports:  make([][]byte, ndi),
		Status: make([]uint32, nai),
	}
	for i := range c.AI {
		c.AI[i] = make([]Sample, n)
		c.AIErr[i] = make([]Sample, n)
		for s := range c.AI[i] {
			c.AI[i][s] = fill
		}
	}
	for i := range c.Ports {
		c.Ports[i] = make([]byte, n)
	}
	return c
}

func TestAppBufferPushPop(t *testing.T) {
	b := NewAppBuffer()
	b.Initialize(1, 0, 4, 2)

	b.Push(newTestChunk(1, 0, 4, 1))
	b.Push(newTestChunk(1, 0, 4, 2))

	outAI := [][]Sample{make([]Sample, 4)}
	outErr := [][]Sample{make([]Sample, 4)}
	_, lost := b.Pop(outAI, outErr, nil, make([]uint32, 1))
	require.Equal(t, 0, lost)
	assert.Equal(t, Sample(1), outAI[0][0])

	_, lost = b.Pop(outAI, outErr, nil, make([]uint32, 1))
	require.Equal(t, 0, lost)
	assert.Equal(t, Sample(2), outAI[0][0])
}

func TestAppBufferDropsOldestWhenFull(t *testing.T) {
	b := NewAppBuffer()
	b.Initialize(1, 0, 1, 2)

	b.Push(newTestChunk(1, 0, 1, 1))
	b.Push(newTestChunk(1, 0, 1, 2))
	b.Push(newTestChunk(1, 0, 1, 3)) // drops the chunk filled with 1

	outAI := [][]Sample{make([]Sample, 1)}
	outErr := [][]Sample{make([]Sample, 1)}
	_, lost := b.Pop(outAI, outErr, nil, make([]uint32, 1))
	assert.Equal(t, 1, lost)
	assert.Equal(t, Sample(2), outAI[0][0])
}

func TestAppBufferWaitDataReadyErrorTakesPriority(t *testing.T) {
	b := NewAppBuffer()
	b.Initialize(1, 0, 1, 2)
	b.Push(newTestChunk(1, 0, 1, 1))
	b.NotifyDataReady(newInternalError(KindStopped))

	ec := b.WaitDataReady()
	assert.Equal(t, KindStopped, ec.Kind)
	// a second wait, with the error consumed, should see data readiness
	// (count > 0) and return immediately with no error.
	ec2 := b.WaitDataReady()
	assert.True(t, ec2.IsZero())
}

func TestAppBufferWaitDataReadyBlocksUntilPush(t *testing.T) {
	b := NewAppBuffer()
	b.Initialize(1, 0, 1, 2)

	done := make(chan ErrorCode, 1)
	go func() { done <- b.WaitDataReady() }()

	select {
	case <-done:
		t.Fatal("WaitDataReady returned before any data was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	b.Push(newTestChunk(1, 0, 1, 1))
	select {
	case ec := <-done:
		assert.True(t, ec.IsZero())
	case <-time.After(time.Second):
		t.Fatal("WaitDataReady did not wake up after Push")
	}
}
