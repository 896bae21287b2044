package kfmt

import "io"

// ringBufferSize is the capacity of earlyPrintBuffer, the scratch space
// Printf output accumulates in before SetOutputSink installs a real
// destination. It must stay a power of two so index wraparound can use a
// mask instead of a modulo. The kernel never attaches a real console, so
// in practice most Printf output during a test run either lands here or in
// whatever io.Writer a test passed to SetOutputSink directly.
const ringBufferSize = 2048

// ringBuffer is a fixed-size circular byte buffer. Once full, the oldest
// unread bytes are silently overwritten by new writes; Printf output is
// diagnostic, not a log a caller can rely on never losing entries.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write appends p to the buffer, advancing rIndex past whatever it
// overwrites once the buffer wraps.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.rIndex == rb.wIndex {
			// wIndex caught up to rIndex: the byte just overwritten was
			// still unread, so the oldest unread byte is now one ahead.
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read drains up to len(p) unread bytes into p.
func (rb *ringBuffer) Read(p []byte) (n int, err error) {
	switch {
	case rb.rIndex < rb.wIndex:
		n = rb.wIndex - rb.rIndex
		if len(p) < n {
			n = len(p)
		}
		copy(p, rb.buffer[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n
		return n, nil

	case rb.rIndex > rb.wIndex:
		// The unread region wraps past the end of buffer; only hand back
		// the contiguous tail this call, the next Read picks up the rest
		// after rIndex wraps to 0.
		n = len(rb.buffer) - rb.rIndex
		if len(p) < n {
			n = len(p)
		}
		copy(p, rb.buffer[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n
		if rb.rIndex == len(rb.buffer) {
			rb.rIndex = 0
		}
		return n, nil

	default: // rIndex == wIndex: nothing unread
		return 0, io.EOF
	}
}
