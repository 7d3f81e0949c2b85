/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"bufio"
	"bytes"
	"io"
)

// splitFrame is a bufio.SplitFunc implementing the wire framing rules:
// a frame is terminated by an optional '\r' then a mandatory '\n';
// empty frames are skipped; a retained buffer that grows past
// MaxFrameSize with no terminator in sight is resynchronized by
// discarding everything up to and including the next terminator,
// however much more of it arrives before one shows up.
//
// Grounded on original_source/src/IRC/Handler.py's SocketBuffer
// __getMsg/getMsg, whose ditch-regex ("^[^\r\n]*?\r?\n(.*)$") consumes
// an oversized buffer through its next terminator rather than stopping
// partway; splitFrame carries that same resyncing state as a Decoder
// field since a bufio.SplitFunc otherwise has no memory across calls.
// Reimplemented as a bufio.Scanner split func in the idiom of the
// teacher's bufio.Scanner-based conn.incoming (connection.go's
// readLoop).
func (d *Decoder) splitFrame(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if d.resyncing {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			// Still no terminator: none of this buffer can ever become
			// part of a valid frame, so discard all of it and keep
			// waiting rather than letting it accumulate toward
			// scannerMaxToken.
			if atEOF {
				d.resyncing = false
			}
			return len(data), nil, nil
		}

		d.resyncing = false
		advance = idx + 1
		data = data[advance:]
	}

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}

		end := idx
		if end > 0 && data[end-1] == '\r' {
			end--
		}

		frame := data[:end]
		consumed := idx + 1

		if len(frame) == 0 {
			// Empty frame (consecutive terminators): skip it silently
			// and keep scanning the remainder of the buffer.
			data = data[consumed:]
			advance += consumed
			continue
		}

		advance += consumed
		token = frame
		return advance, token, nil
	}

	if len(data) > MaxFrameSize {
		// No terminator anywhere in an oversized buffer: none of it can
		// be a valid frame. Discard it all and start chasing the next
		// terminator, however many more reads that takes.
		d.resyncing = true
		return advance + len(data), nil, nil
	}

	if atEOF {
		if len(data) == 0 {
			return advance, nil, nil
		}
		// Trailing bytes with no terminator at EOF: a clean disconnect
		// mid-frame, nothing more to extract.
		return advance + len(data), nil, nil
	}

	return advance, nil, nil
}

// Decoder reads length-bounded, CRLF/LF-terminated JSON frames off an
// underlying byte stream.
type Decoder struct {
	scanner   *bufio.Scanner
	resyncing bool
}

// scannerMaxToken bounds how large bufio.Scanner will let its internal
// buffer grow before giving up with ErrTooLong. It must be strictly
// larger than MaxFrameSize: splitFrame's own resync branch only runs
// once it sees a buffer bigger than MaxFrameSize, so a ceiling equal to
// MaxFrameSize would let the scanner's hard limit fire first and the
// resync logic would never run.
const scannerMaxToken = MaxFrameSize * 4

// NewDecoder wraps r with the frame-bounded scanner.
func NewDecoder(r io.Reader) *Decoder {
	d := &Decoder{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, MaxFrameSize), scannerMaxToken)
	scanner.Split(d.splitFrame)
	d.scanner = scanner
	return d
}

// Next blocks for the next frame. It returns ok=false either on a
// clean disconnect (zero bytes read, io.EOF) or a scanner error
// (oversized token, read failure); callers distinguish the two via Err.
func (d *Decoder) Next() (frame []byte, ok bool) {
	if !d.scanner.Scan() {
		return nil, false
	}
	return d.scanner.Bytes(), true
}

// Err reports the terminal error, if any, that ended the last Next
// call returning false. A nil Err after ok=false means a clean EOF
// disconnect.
func (d *Decoder) Err() error {
	return d.scanner.Err()
}

// Encode serializes msg and appends the frame terminator.
func Encode(msg *Message) ([]byte, error) {
	return msg.Encode()
}
