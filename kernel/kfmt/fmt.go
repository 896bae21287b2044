// Package kfmt provides a minimal, allocation-free Printf usable before the
// kernel's own allocator (kernel/mem/pmm) is up. It must not import "fmt"
// or "reflect", since both would pull in code paths that allocate.
package kfmt

import (
	"io"
	"unsafe"
)

// maxNumWidth bounds how many digits/padding characters fmtInt will ever
// produce; it sizes the shared scratch buffer numScratch.
const maxNumWidth = 32

var (
	missingArgMsg = []byte("(MISSING)")
	wrongTypeMsg  = []byte("%!(WRONGTYPE)")
	noVerbMsg     = []byte("%!(NOVERB)")
	extraArgMsg   = []byte("%!(EXTRA)")
	trueMsg       = []byte("true")
	falseMsg      = []byte("false")

	numScratch = []byte("012345678901234567890123456789012")

	// oneByte is reused as a one-byte buffer by every call site that needs
	// to emit a single character; allocating a fresh []byte per character
	// would defeat the point of an allocation-free Printf.
	oneByte = []byte(" ")

	// earlyPrintBuffer holds whatever gets printed before a real output
	// sink has been installed via SetOutputSink. The kernel never
	// attaches a real console, so everything printed before a caller
	// installs a sink accumulates here until something reads it out (or
	// it wraps).
	earlyPrintBuffer ringBuffer

	// outputSink is where Printf sends formatted output once set; nil
	// means "not set yet", and output goes to earlyPrintBuffer instead.
	outputSink io.Writer
)

// SetOutputSink installs w as the target for subsequent Printf calls and
// drains anything accumulated in earlyPrintBuffer into it first, so no
// output buffered before boot finished wiring a real sink is lost.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// sinkWriter is an io.Writer that always forwards to whatever the current
// output sink is (the installed SetOutputSink target, or earlyPrintBuffer
// before one has been set), mirroring the fallback Printf itself applies.
// NewModuleLog hands one of these to a PrefixWriter so a per-subsystem
// logger keeps working across that early/late transition without the
// caller having to re-wire it once SetOutputSink is finally called.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	if outputSink != nil {
		return outputSink.Write(p)
	}
	return earlyPrintBuffer.Write(p)
}

// NewModuleLog returns a *PrefixWriter that tags every line written to it
// with "[name] ", the same per-subsystem tag the kernel's fault and
// allocator diagnostics print, without each call site hand-formatting the
// literal into its Printf format string.
func NewModuleLog(name string) *PrefixWriter {
	return &PrefixWriter{Sink: sinkWriter{}, Prefix: []byte("[" + name + "] ")}
}

// Printf formats according to a subset of the verbs fmt.Printf supports and
// writes the result to the current output sink (see SetOutputSink); before
// one is installed, output accumulates in an internal ring buffer instead
// of being dropped.
//
// Supported verbs:
//
//	%s  the uninterpreted bytes of a string or []byte
//	%o  integer, base 8
//	%d  integer, base 10
//	%x  integer, base 16, lower-case a-f
//	%t  "true" or "false"
//
// An optional decimal width may precede any verb; strings and base-10
// integers are left-padded with spaces to that width, base-8/16 integers
// with zeroes.
//
// Printf assumes the Go itables backing interface type switches are ready
// but deliberately does not support %p: printing a pointer would need the
// reflect package, whose use here would make the compiler emit
// runtime.convT2E/runtime.newobject calls when building the args slice,
// an allocation this function exists specifically to avoid.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf is Printf with an explicit destination writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		fmtLen                       = len(format)
	)

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		if blockStart < blockEnd {
			// Slicing format[blockStart:blockEnd] and writing it in one
			// shot would allocate; emit it one byte at a time instead.
			for i := blockStart; i < blockEnd; i++ {
				oneByte[0] = format[i]
				emit(w, oneByte)
			}
		}

		padLen = 0
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				oneByte[0] = '%'
				emit(w, oneByte)
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'd' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't':
				if nextArgIndex >= len(args) {
					emit(w, missingArgMsg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					fmtInt(w, args[nextArgIndex], 8, padLen)
				case 'd':
					fmtInt(w, args[nextArgIndex], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArgIndex], 16, padLen)
				case 's':
					fmtString(w, args[nextArgIndex], padLen)
				case 't':
					fmtBool(w, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			}

			// Not a verb, a digit or '%': report it and keep scanning.
			emit(w, noVerbMsg)
		}
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	if blockStart != blockEnd {
		for i := blockStart; i < blockEnd; i++ {
			oneByte[0] = format[i]
			emit(w, oneByte)
		}
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		emit(w, extraArgMsg)
	}
}

// fmtBool writes "true"/"false" for a bool v, or wrongTypeMsg otherwise.
func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	if !ok {
		emit(w, wrongTypeMsg)
		return
	}
	if b {
		emit(w, trueMsg)
	} else {
		emit(w, falseMsg)
	}
}

// fmtString writes a string or []byte value v, left-padded with spaces to
// padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch val := v.(type) {
	case string:
		padWith(w, ' ', padLen-len(val))
		// Converting val to []byte here would allocate; copy one byte
		// at a time instead.
		for i := 0; i < len(val); i++ {
			oneByte[0] = val[i]
			emit(w, oneByte)
		}
	case []byte:
		padWith(w, ' ', padLen-len(val))
		emit(w, val)
	default:
		emit(w, wrongTypeMsg)
	}
}

// padWith writes count copies of ch; it is a no-op for count <= 0.
func padWith(w io.Writer, ch byte, count int) {
	oneByte[0] = ch
	for i := 0; i < count; i++ {
		emit(w, oneByte)
	}
}

// fmtInt writes v (any built-in signed/unsigned integer type) in the given
// base (8, 10 or 16), left-padded to padLen.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval             int64
		uval             uint64
		divider          uint64
		remainder        uint64
		padCh            byte
		left, right, end int
	)

	if padLen >= maxNumWidth {
		padLen = maxNumWidth - 1
	}

	switch base {
	case 8:
		divider, padCh = 8, '0'
	case 10:
		divider, padCh = 10, ' '
	case 16:
		divider, padCh = 16, '0'
	}

	switch tv := v.(type) {
	case uint8:
		uval = uint64(tv)
	case uint16:
		uval = uint64(tv)
	case uint32:
		uval = uint64(tv)
	case uint64:
		uval = tv
	case uintptr:
		uval = uint64(tv)
	case int8:
		sval = int64(tv)
	case int16:
		sval = int64(tv)
	case int32:
		sval = int64(tv)
	case int64:
		sval = tv
	case int:
		sval = int64(tv)
	default:
		emit(w, wrongTypeMsg)
		return
	}

	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for right < maxNumWidth {
		remainder = uval % divider
		if remainder < 10 {
			numScratch[right] = byte(remainder) + '0'
		} else {
			numScratch[right] = byte(remainder-10) + 'a'
		}

		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	for ; right-left < padLen; right++ {
		numScratch[right] = padCh
	}

	// The sign goes on the rightmost blank pad character if there's room,
	// otherwise it grows the buffer by one.
	if sval < 0 {
		for end = right - 1; numScratch[end] == ' '; end-- {
		}
		if end == right-1 {
			right++
		}
		numScratch[end+1] = '-'
	}

	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		numScratch[left], numScratch[right] = numScratch[right], numScratch[left]
	}

	emit(w, numScratch[0:end])
}

// emit hides p from escape analysis before handing it to the real write
// (see noEscape) and resolves w's fallback to earlyPrintBuffer.
func emit(w io.Writer, p []byte) {
	emitReal(w, noEscape(unsafe.Pointer(&p)))
}

func emitReal(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis, copied from the runtime's
// own internal helper of the same name (runtime/stubs.go): without it the
// compiler can't prove p doesn't escape through the not-yet-known io.Writer
// and conservatively heap-allocates it, which would make every Printf call
// trigger runtime.convT2E before the allocator is ready to serve it.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
