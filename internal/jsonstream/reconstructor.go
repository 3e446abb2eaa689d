// Package jsonstream reassembles JSON values that arrive split across
// arbitrary network reads. Transports like Ollama's chat endpoint emit
// newline-delimited JSON, but nothing guarantees that a single read aligns
// with a value boundary; a logical unit can arrive in any number of pieces.
package jsonstream

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Reconstructor buffers raw text fragments and emits each fully decoded JSON
// value exactly once. It is not safe for concurrent use; feed it from a
// single goroutine.
type Reconstructor struct {
	buf bytes.Buffer
}

// EmitFunc receives one complete JSON value. The slice is only valid for the
// duration of the call.
type EmitFunc func(unit []byte)

// ProcessPart consumes one fragment. If the internal buffer is empty the
// fragment is first tried on its own; fragments that do not decode are
// accumulated until the buffer as a whole decodes. Decode failures here are
// the routine state of a partially received value, not malformed input, so
// they are logged at debug level and never surfaced.
func (r *Reconstructor) ProcessPart(part []byte, emit EmitFunc) {
	if r.buf.Len() == 0 {
		if json.Valid(part) {
			emit(part)
			return
		}
		log.Debug().Str("fragment", string(part)).Msg("fragment did not decode, buffering")
		r.buf.Write(part)
		return
	}

	r.buf.Write(part)
	if json.Valid(r.buf.Bytes()) {
		unit := append([]byte(nil), r.buf.Bytes()...)
		r.buf.Reset()
		emit(unit)
		return
	}
	log.Debug().Int("buffered", r.buf.Len()).Msg("buffer did not decode, waiting for more fragments")
}

// Finalize flushes any value left in the buffer at end of stream. A leftover
// that still does not decode is irrecoverable at this point; it is logged and
// dropped rather than reported as an error.
func (r *Reconstructor) Finalize(emit EmitFunc) {
	defer r.buf.Reset()
	if r.buf.Len() == 0 {
		return
	}
	if json.Valid(r.buf.Bytes()) {
		emit(r.buf.Bytes())
		return
	}
	log.Warn().Str("buffer", r.buf.String()).Msg("discarding undecodable leftover stream data")
}

// Buffered returns the current accumulation, mainly for diagnostics.
func (r *Reconstructor) Buffered() string {
	return r.buf.String()
}
