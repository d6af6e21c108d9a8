// Package sse reassembles upstream server-sent event streams into complete
// data payloads and writes the gateway's own event stream to clients.
package sse

import (
	"bytes"
)

// DoneToken is the raw payload that terminates an event stream.
const DoneToken = "[DONE]"

// Reassembler turns arbitrarily split byte chunks into complete lines.
// A trailing partial line is carried over to the next chunk. It knows nothing
// about any provider's JSON shape.
type Reassembler struct {
	carry []byte
}

// Lines appends chunk to the carry-over and returns every complete line
// without its trailing newline.
func (r *Reassembler) Lines(chunk []byte) [][]byte {
	r.carry = append(r.carry, chunk...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(r.carry, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, r.carry[:i])
		lines = append(lines, line)
		r.carry = r.carry[i+1:]
	}
	if len(r.carry) == 0 {
		r.carry = nil
	}
	return lines
}

// Feed returns the data payloads completed by chunk. The terminal token and
// non-data lines are dropped.
func (r *Reassembler) Feed(chunk []byte) []string {
	return payloads(r.Lines(chunk))
}

// Flush treats any carry-over as a final line. Call it once at end of stream.
func (r *Reassembler) Flush() []string {
	if len(r.carry) == 0 {
		return nil
	}
	last := r.carry
	r.carry = nil
	return payloads([][]byte{last})
}

// Pending reports the bytes held back waiting for a newline.
func (r *Reassembler) Pending() []byte {
	return r.carry
}

func payloads(lines [][]byte) []string {
	var out []string
	for _, line := range lines {
		if p, ok := DataPayload(line); ok {
			out = append(out, p)
		}
	}
	return out
}

// DataPayload extracts the value of a "data:" line. It accepts the prefix with
// or without the following space and ignores a trailing carriage return.
func DataPayload(line []byte) (string, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte("data:")) {
		return "", false
	}
	payload := line[len("data:"):]
	payload = bytes.TrimPrefix(payload, []byte(" "))
	if string(payload) == DoneToken {
		return "", false
	}
	return string(payload), true
}
