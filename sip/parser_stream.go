package sip

import (
	"bytes"
	"strconv"
	"strings"
)

// StreamFramer accumulates bytes from a TCP/TLS connection and slices out
// whole SIP messages by Content-Length, per spec.md §4.5: "accumulate bytes;
// on each pass locate \r\n\r\n; if found, read Content-Length from the
// header region (default 0); total message = header_end + 4 + content_length;
// if the buffer holds that many bytes, slice and deliver, then repeat;
// otherwise wait."
//
// Not safe for concurrent use; one instance per connection, fed from the
// connection's single reader goroutine (grounded on the teacher's
// transport_tcp.go connection-owns-its-parser pattern).
type StreamFramer struct {
	buf []byte
}

// Feed appends newly-read bytes and returns every complete message framed
// so far, in arrival order. Bytes of a not-yet-complete message stay
// buffered for the next call.
func (f *StreamFramer) Feed(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var out [][]byte
	for {
		sep := []byte("\r\n\r\n")
		idx := bytes.Index(f.buf, sep)
		if idx < 0 {
			break
		}
		headerBlock := string(f.buf[:idx])
		contentLength := headerLengthOf(headerBlock)

		total := idx + len(sep) + contentLength
		if len(f.buf) < total {
			break
		}

		msg := make([]byte, total)
		copy(msg, f.buf[:total])
		out = append(out, msg)
		f.buf = f.buf[total:]
	}
	return out, nil
}

// Pending returns the bytes buffered but not yet part of a complete message.
func (f *StreamFramer) Pending() int { return len(f.buf) }

func headerLengthOf(headerBlock string) int {
	lines := strings.Split(headerBlock, "\r\n")
	for _, line := range lines {
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:colon]))
		if name != "content-length" && name != "l" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[colon+1:]))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
