/*
   Copyright (c) 2020, btnmasher
   All rights reserved.

   Redistribution and use in source and binary forms, with or without modification, are permitted provided that
   the following conditions are met:

   1. Redistributions of source code must retain the above copyright notice, this list of conditions and the
      following disclaimer.

   2. Redistributions in binary form must reproduce the above copyright notice, this list of conditions and
      the following disclaimer in the documentation and/or other materials provided with the distribution.

   3. Neither the name of the copyright holder nor the names of its contributors may be used to endorse or
      promote products derived from this software without specific prior written permission.

   THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED
   WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A
   PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR
   ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED
   TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
   HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
   NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
   POSSIBILITY OF SUCH DAMAGE.
*/

package jsonircd

// Error is a workaround to allow for immutable error strings which
// satisfy the error interface. Used for transport/codec-level failures
// that precede a wire-level ErrorKind reply (the connection is usually
// already gone by the time these are observed).
type Error string

func (err Error) Error() string {
	return string(err)
}

func (err Error) String() string {
	return string(err)
}

// Immutable internal error strings. These never reach the wire; they
// describe local/transport failures, not protocol-level ones.
const (
	ErrMessageTooLong  Error = "framed message exceeds the maximum JSON size"
	ErrDisconnected    Error = "connection closed by peer"
	ErrSentInvalid     Error = "server attempted to send a message that failed schema validation"
	ErrServerClosed    Error = "jsonircd: Server closed"
	ErrAlreadyServing  Error = "jsonircd: Serve called more than once"
	ErrListenerMissing Error = "jsonircd: no listener configured"
)

// ErrorKind enumerates the closed set of wire-level error replies the
// server can send back to a client.
type ErrorKind string

// The closed set of error kinds, per the wire schema.
const (
	ErrKindBadNick    ErrorKind = "badnick"
	ErrKindNickInUse  ErrorKind = "nickinuse"
	ErrKindSchema     ErrorKind = "schema"
	ErrKindNoChannel  ErrorKind = "nochannel"
	ErrKindBadChannel ErrorKind = "badchannel"
	ErrKindNonMember  ErrorKind = "nonmember"
	ErrKindMember     ErrorKind = "member"
	ErrKindNonExist   ErrorKind = "nonexist"
)

// directoryError is returned by Directory operations. It carries the
// ErrorKind that should be reported to the originating connection,
// keeping Directory free of any knowledge of wire framing.
type directoryError struct {
	kind ErrorKind
	msg  string
}

func (e *directoryError) Error() string {
	return e.msg
}

func newDirErr(kind ErrorKind, msg string) *directoryError {
	return &directoryError{kind: kind, msg: msg}
}

// kindOf extracts the ErrorKind from err if it is a *directoryError,
// otherwise falls back to schema (the catch-all for anything the
// Directory itself didn't originate).
func kindOf(err error) ErrorKind {
	var de *directoryError
	if as, ok := err.(*directoryError); ok {
		de = as
		return de.kind
	}
	return ErrKindSchema
}
