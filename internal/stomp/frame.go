// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stomp

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Frame commands.
const (
	CmdConnect     = "CONNECT"
	CmdStomp       = "STOMP"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// Well-known headers.
const (
	HdrAcceptVersion = "accept-version"
	HdrHeartBeat     = "heart-beat"
	HdrHost          = "host"
	HdrVersion       = "version"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrContentLength = "content-length"
	HdrContentType   = "content-type"
	HdrMessage       = "message"
	HdrReceipt       = "receipt"
)

// Frame is one STOMP frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame creates a frame with the given headers as key/value pairs.
func NewFrame(command string, kv ...string) Frame {
	f := Frame{Command: command, Headers: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers[kv[i]] = kv[i+1]
	}
	return f
}

// Header returns the value of header key, or "".
func (f Frame) Header(key string) string {
	return f.Headers[key]
}

// FrameError reports a malformed inbound frame.
type FrameError struct {
	Offset int
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("stomp: malformed frame at byte %d: %s", e.Offset, e.Reason)
}

// Is reports whether target is a FrameError, so callers can match with
// errors.Is(err, &FrameError{}).
func (e *FrameError) Is(target error) bool {
	_, ok := target.(*FrameError)
	return ok
}

// escapes applies to every frame except CONNECT and CONNECTED.
func escapes(command string) bool {
	return command != CmdConnect && command != CmdConnected
}

// =============================================================================
// ENCODE
// =============================================================================

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

// Encode serializes a frame. Headers are written in sorted order. A
// content-length header is added when the body is non-empty and none is set.
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	headers := f.Headers
	if _, ok := headers[HdrContentLength]; !ok && len(f.Body) > 0 {
		headers = make(map[string]string, len(f.Headers)+1)
		for k, v := range f.Headers {
			headers[k] = v
		}
		headers[HdrContentLength] = strconv.Itoa(len(f.Body))
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	esc := escapes(f.Command)
	write := func(k, v string) {
		if esc {
			k, v = headerEscaper.Replace(k), headerEscaper.Replace(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}

	for _, k := range keys {
		write(k, headers[k])
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// =============================================================================
// DECODE
// =============================================================================

// Decode parses every frame in data. Bare EOLs before, between and after
// frames are heart-beats and yield no frame. A repeated header keeps its
// first value.
func Decode(data []byte) ([]Frame, error) {
	var frames []Frame
	pos := 0

	for {
		pos = skipEOLs(data, pos)
		if pos >= len(data) {
			return frames, nil
		}
		f, next, err := decodeOne(data, pos)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		pos = next
	}
}

func skipEOLs(data []byte, pos int) int {
	for pos < len(data) {
		switch {
		case data[pos] == '\n':
			pos++
		case data[pos] == '\r' && pos+1 < len(data) && data[pos+1] == '\n':
			pos += 2
		default:
			return pos
		}
	}
	return pos
}

// readLine returns the line at pos without its EOL and the offset after it.
func readLine(data []byte, pos int) (string, int, bool) {
	i := bytes.IndexByte(data[pos:], '\n')
	if i < 0 {
		return "", pos, false
	}
	line := data[pos : pos+i]
	line = bytes.TrimSuffix(line, []byte("\r"))
	return string(line), pos + i + 1, true
}

func decodeOne(data []byte, start int) (Frame, int, error) {
	command, pos, ok := readLine(data, start)
	if !ok {
		return Frame{}, 0, &FrameError{Offset: start, Reason: "unterminated command line"}
	}
	if command == "" {
		return Frame{}, 0, &FrameError{Offset: start, Reason: "empty command"}
	}

	f := Frame{Command: command, Headers: make(map[string]string)}
	esc := escapes(command)

	for {
		lineStart := pos
		line, next, ok := readLine(data, pos)
		if !ok {
			return Frame{}, 0, &FrameError{Offset: lineStart, Reason: "unterminated header block"}
		}
		pos = next
		if line == "" {
			break
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return Frame{}, 0, &FrameError{Offset: lineStart, Reason: fmt.Sprintf("bad header line %q", line)}
		}
		key, value := line[:colon], line[colon+1:]
		if esc {
			var err error
			if key, err = unescape(key); err != nil {
				return Frame{}, 0, &FrameError{Offset: lineStart, Reason: err.Error()}
			}
			if value, err = unescape(value); err != nil {
				return Frame{}, 0, &FrameError{Offset: lineStart, Reason: err.Error()}
			}
		}
		if _, dup := f.Headers[key]; !dup {
			f.Headers[key] = value
		}
	}

	if cl, ok := f.Headers[HdrContentLength]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return Frame{}, 0, &FrameError{Offset: pos, Reason: fmt.Sprintf("bad content-length %q", cl)}
		}
		if pos+n >= len(data) || data[pos+n] != 0 {
			return Frame{}, 0, &FrameError{Offset: pos, Reason: "body shorter than content-length or missing NUL"}
		}
		f.Body = append([]byte(nil), data[pos:pos+n]...)
		return f, pos + n + 1, nil
	}

	end := bytes.IndexByte(data[pos:], 0)
	if end < 0 {
		return Frame{}, 0, &FrameError{Offset: pos, Reason: "missing NUL terminator"}
	}
	if end > 0 {
		f.Body = append([]byte(nil), data[pos:pos+end]...)
	}
	return f, pos + end + 1, nil
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("dangling escape in %q", s)
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("undefined escape \\%c in %q", s[i], s)
		}
	}
	return b.String(), nil
}
