/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderNext(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		frames []string
	}{
		{
			name:   "single CRLF frame",
			input:  `{"cmd":"ping"}` + "\r\n",
			frames: []string{`{"cmd":"ping"}`},
		},
		{
			name:   "single LF frame",
			input:  `{"cmd":"ping"}` + "\n",
			frames: []string{`{"cmd":"ping"}`},
		},
		{
			name:   "two frames back to back",
			input:  `{"a":1}` + "\r\n" + `{"b":2}` + "\r\n",
			frames: []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name:   "empty frames between real ones are skipped",
			input:  "\r\n\r\n" + `{"a":1}` + "\r\n\n\n" + `{"b":2}` + "\r\n",
			frames: []string{`{"a":1}`, `{"b":2}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input))
			var got []string
			for {
				frame, ok := dec.Next()
				if !ok {
					break
				}
				got = append(got, string(frame))
			}
			require.NoError(t, dec.Err())
			assert.Equal(t, tt.frames, got)
		})
	}
}

func TestDecoderOversizedResync(t *testing.T) {
	// A frame far larger than MaxFrameSize with no terminator anywhere
	// near the start must not wedge the decoder: once a terminator
	// finally shows up, scanning resumes from there rather than
	// returning a bogus giant token or a permanent error.
	junk := strings.Repeat("x", MaxFrameSize*3)
	input := junk + "\r\n" + `{"cmd":"ping"}` + "\r\n"

	dec := NewDecoder(strings.NewReader(input))
	var frames []string
	for {
		frame, ok := dec.Next()
		if !ok {
			break
		}
		frames = append(frames, string(frame))
	}
	require.NoError(t, dec.Err())
	assert.Equal(t, []string{`{"cmd":"ping"}`}, frames)
}

func TestDecoderCleanDisconnectMidFrame(t *testing.T) {
	// Trailing bytes with no terminator at EOF: treated as a clean
	// disconnect, not a scanner error.
	dec := NewDecoder(strings.NewReader(`{"cmd":"pin`))
	_, ok := dec.Next()
	assert.False(t, ok)
	assert.NoError(t, dec.Err())
}

func TestDecoderEmptyStream(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil))
	_, ok := dec.Next()
	assert.False(t, ok)
	assert.NoError(t, dec.Err())
}

func TestEncodeAppendsCRLF(t *testing.T) {
	msg := NewPing("abc123")
	frame, err := Encode(msg)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(frame, []byte("\r\n")))
	assert.True(t, bytes.HasPrefix(frame, []byte("{")))
}
