package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// doneSentinel ends a streaming response.
const doneSentinel = "[DONE]"

// streamDecoder reassembles content fragments from an SSE byte stream. Chunks
// may split anywhere, including mid-line; partial data stays buffered until
// the terminating newline arrives. After the done sentinel every further feed
// returns nothing.
type streamDecoder struct {
	buf  []byte
	done bool
}

// feed appends chunk to the buffer and returns the fragments decoded from
// every complete line now available, in order.
func (d *streamDecoder) feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var frags []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return frags
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]

		frag, done := decodeLine(line)
		if done {
			d.done = true
			return frags
		}
		if frag != "" {
			frags = append(frags, frag)
		}
	}
}

// decodeLine classifies one line. Blank lines and lines without the data:
// marker carry nothing. A malformed payload is skipped, never an error; one
// bad event must not abort the stream.
func decodeLine(line string) (frag string, done bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return "", false
	}
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	payload = strings.TrimSpace(payload)
	if payload == doneSentinel {
		return "", true
	}
	var ev streamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return "", false
	}
	if len(ev.Choices) == 0 {
		return "", false
	}
	return ev.Choices[0].Delta.Content, false
}

// decodeStream drains r through a streamDecoder, calling emit for each
// fragment, and returns the concatenation. Decoding stops at the done
// sentinel or at end of stream, whichever comes first.
func decodeStream(r io.Reader, emit func(string)) (string, error) {
	var full strings.Builder
	d := &streamDecoder{}
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, frag := range d.feed(buf[:n]) {
				full.WriteString(frag)
				if emit != nil {
					emit(frag)
				}
			}
		}
		if d.done || err == io.EOF {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), fmt.Errorf("read stream: %w", err)
		}
	}
}
