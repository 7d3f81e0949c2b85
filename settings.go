/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"regexp"
	"time"
)

// ServerSource is the reserved nickname. No client may adopt it;
// server-originated messages use it as their src.
const ServerSource = "SERVER"

// MaxFrameSize is the maximum framed message size in bytes, including
// the CRLF/LF terminator.
const MaxFrameSize = 1024

// MaxJSONSize is the maximum serialized JSON length in bytes, excluding
// the terminator.
const MaxJSONSize = MaxFrameSize - 2

// RWChunkSize is a chunk size for outbound writes, standing in for the
// platform pipe buffer size referenced in the spec. The write path does
// not use it: each queued frame goes out in a single Write call.
const RWChunkSize = 4096

// KeepAliveIdle is how long a connection may go without sending
// anything before the server pings it (T_idle).
const KeepAliveIdle = 30 * time.Second

// KeepAliveDead is how long a connection may go without answering a
// ping before it is reaped (T_dead).
const KeepAliveDead = 90 * time.Second

// WriteQueueLength bounds the number of outbound buffers queued per
// connection; a send that finds the queue full disconnects the slow
// reader instead of blocking.
const WriteQueueLength = 32

// MessagePoolMax is a size limit for the shared *Message object pool.
// msgPool is a plain sync.Pool and is not capped by it.
const MessagePoolMax = 1000

// BufferPoolMax is a size limit for a *bytes.Buffer pool. The package
// has no such pool and does not reference this constant.
const BufferPoolMax = 1000

var nickPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)
var channelPattern = regexp.MustCompile(`^#[A-Za-z0-9]{1,10}$`)

// ValidNick reports whether s matches the nickname grammar and isn't
// the reserved server identifier.
func ValidNick(s string) bool {
	return s != ServerSource && nickPattern.MatchString(s)
}

// ValidChannel reports whether s matches the channel name grammar.
func ValidChannel(s string) bool {
	return channelPattern.MatchString(s)
}
