// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxEventSize bounds a single event-stream event (64KB).
const MaxEventSize = 64 * 1024

// maxLineSize bounds one line: a full event plus its field name.
const maxLineSize = MaxEventSize + 64

// ErrLineTooLong is returned when a line exceeds the event size bound
// before its newline arrives.
var ErrLineTooLong = errors.New("event-stream line too long")

// DoneSentinel is the data value some backends send as end-of-stream.
const DoneSentinel = "[DONE]"

// SSEEvent is one parsed event-stream event.
type SSEEvent struct {
	ID   string
	Type string
	Data string
}

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next event that carries data. Multiple data lines are
// joined with "\n". Comments and retry fields are ignored. Returns io.EOF
// when the stream ends with no pending data.
func (s *SSEReader) ReadEvent() (SSEEvent, error) {
	var ev SSEEvent
	var data [][]byte
	size := 0

	for {
		line, err := s.readLine()
		if errors.Is(err, ErrLineTooLong) {
			return SSEEvent{}, err
		}
		if err != nil && !(err == io.EOF && len(line) > 0) {
			if err == io.EOF && len(data) > 0 {
				ev.Data = string(bytes.Join(data, []byte("\n")))
				return ev, nil
			}
			return SSEEvent{}, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line dispatches the event.
		if len(line) == 0 {
			if len(data) > 0 {
				ev.Data = string(bytes.Join(data, []byte("\n")))
				return ev, nil
			}
			ev = SSEEvent{}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			// A single leading space is part of the syntax, not the value.
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}

		switch string(field) {
		case "data":
			size += len(value)
			if size > MaxEventSize {
				return SSEEvent{}, fmt.Errorf("event too large: %d bytes", size)
			}
			data = append(data, append([]byte(nil), value...))
		case "event":
			ev.Type = string(value)
		case "id":
			ev.ID = string(value)
		}
	}
}

// readLine reads up to and including the next '\n', holding at most
// maxLineSize bytes.
func (s *SSEReader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(line)+len(chunk) > maxLineSize {
			return nil, ErrLineTooLong
		}
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, err
	}
}
