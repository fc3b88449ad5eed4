package audio

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Format describes the PCM layout held by a FrameBuffer.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is mono 16-bit PCM at 24kHz, the realtime upstream's pcm16 format.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// FrameBuffer accumulates raw PCM chunks for one user utterance.
//
// Append never fails and performs no validation. A flush takes the pending
// chunks atomically; a chunk appended while a flush is assembling its result
// is dropped and counted rather than leaking into the next utterance.
type FrameBuffer struct {
	format Format

	mu       sync.Mutex
	chunks   [][]byte
	size     int
	flushing bool

	dropped atomic.Int64

	// afterTake runs between taking the chunks and joining them. Tests only.
	afterTake func()
}

// NewFrameBuffer creates an empty buffer for the given format.
func NewFrameBuffer(format Format) *FrameBuffer {
	if format.SampleRate <= 0 {
		format.SampleRate = DefaultFormat.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = DefaultFormat.Channels
	}
	if format.BitsPerSample <= 0 {
		format.BitsPerSample = DefaultFormat.BitsPerSample
	}
	return &FrameBuffer{format: format}
}

// Format returns the buffer's PCM format.
func (b *FrameBuffer) Format() Format {
	return b.format
}

// Append adds a copy of chunk to the buffer.
func (b *FrameBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushing {
		b.dropped.Add(1)
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	b.chunks = append(b.chunks, cp)
	b.size += len(cp)
}

// FlushRaw returns the buffered bytes in arrival order and clears the buffer.
// It returns nil when nothing was buffered.
func (b *FrameBuffer) FlushRaw() []byte {
	b.mu.Lock()
	chunks := b.chunks
	size := b.size
	b.chunks = nil
	b.size = 0
	b.flushing = true
	hook := b.afterTake
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.flushing = false
		b.mu.Unlock()
	}()

	if hook != nil {
		hook()
	}
	if size == 0 {
		return nil
	}
	out := bytes.NewBuffer(make([]byte, 0, size))
	for _, c := range chunks {
		out.Write(c)
	}
	return out.Bytes()
}

// FlushWAV is FlushRaw wrapped in a RIFF/WAVE header, for one-shot
// transcription targets. It returns nil when nothing was buffered.
func (b *FrameBuffer) FlushWAV() []byte {
	pcm := b.FlushRaw()
	if len(pcm) == 0 {
		return nil
	}
	return PCMToWAV(pcm, b.format)
}

// IsEmpty reports whether no bytes are buffered.
func (b *FrameBuffer) IsEmpty() bool {
	return b.Len() == 0
}

// Len returns the number of buffered bytes.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Reset discards all buffered bytes.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.size = 0
	b.mu.Unlock()
}

// Dropped returns how many chunks were discarded because they raced a flush.
func (b *FrameBuffer) Dropped() int64 {
	return b.dropped.Load()
}
