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

import (
	"encoding/json"

	"github.com/btnmasher/jsonircd/shared/pool"
)

// Message is the single Go representation of the wire protocol's closed
// union of Command, Reply and Error shapes. Which shape a given value
// holds is determined by whichever of Cmd, Reply or Error is non-empty;
// DecodeMessage rejects a payload that does not carry exactly one.
//
// Field-for-field this mirrors the catalogue in
// original_source/src/IRC/Schema.py and the builder methods on
// original_source/src/IRC.py's IRCMessage class.
type Message struct {
	// Command fields.
	Cmd    string `json:"cmd,omitempty"`
	Src    string `json:"src,omitempty"`
	Update string `json:"update,omitempty"`

	// Shared by several commands/replies/errors.
	Msg string `json:"msg,omitempty"`

	// join/leave/users commands and the "channels" reply share this key.
	Channels []string `json:"channels,omitempty"`

	// msg command.
	Targets []string `json:"targets,omitempty"`

	// users command.
	Client bool `json:"client,omitempty"`

	// Reply fields.
	Reply   string   `json:"reply,omitempty"`
	Channel string   `json:"channel,omitempty"`
	Names   []string `json:"names,omitempty"`

	// Error fields.
	Error string `json:"error,omitempty"`
}

// Reset clears msg back to its zero value so it can be returned to
// msgPool. Satisfies shared/pool.Resettable.
func (msg *Message) Reset() {
	*msg = Message{}
}

var msgPool = pool.New(func() *Message { return &Message{} })

// Kind describes which of the three closed-union shapes a Message is.
type Kind int

const (
	// KindInvalid marks a Message with none of cmd/reply/error set.
	KindInvalid Kind = iota
	KindCommand
	KindReply
	KindError
)

// Kind reports which shape msg currently holds, based on which
// discriminator field is set. It does not imply the message is valid;
// DecodeMessage and Encode perform validation.
func (msg *Message) Kind() Kind {
	switch {
	case msg.Cmd != "":
		return KindCommand
	case msg.Reply != "":
		return KindReply
	case msg.Error != "":
		return KindError
	default:
		return KindInvalid
	}
}

// Encode serializes msg compactly and appends the CRLF frame
// terminator. It validates msg first; a message that fails validation
// never reaches the wire - the caller should treat that as the
// "server attempted to send invalid data" failure.
func (msg *Message) Encode() ([]byte, error) {
	if err := msg.validateOutbound(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	// omitempty drops an empty array, but the channels and names replies
	// require their array key even when it is empty.
	if msg.Reply == "channels" && len(msg.Channels) == 0 {
		body = append(body[:len(body)-1], `,"channels":[]}`...)
	}
	if msg.Reply == "names" && len(msg.Names) == 0 {
		body = append(body[:len(body)-1], `,"names":[]}`...)
	}

	if len(body) > MaxJSONSize {
		return nil, ErrMessageTooLong
	}

	framed := make([]byte, 0, len(body)+2)
	framed = append(framed, body...)
	framed = append(framed, '\r', '\n')
	return framed, nil
}

// DecodeMessage parses one already-framed JSON payload (terminator
// already stripped) into a validated Message pulled from msgPool. Any
// failure - malformed JSON, an unknown or missing key, a bad regex
// match, a non-unique or empty array where one is disallowed - is
// reported as a single schema error. Callers that discard the result
// without handing it off should return it via msgPool.Recycle.
func DecodeMessage(payload []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, schemaErrorf("malformed JSON: %w", err)
	}

	msg := msgPool.New()
	if err := json.Unmarshal(payload, msg); err != nil {
		msgPool.Recycle(msg)
		return nil, schemaErrorf("type mismatch decoding message: %w", err)
	}

	if err := validateShape(raw, msg); err != nil {
		msgPool.Recycle(msg)
		return nil, err
	}

	return msg, nil
}

// validateShape enforces the closed-key-set and required-field rules
// for whichever of cmd/reply/error discriminates raw, then the
// field-level rules shared with validateOutbound.
func validateShape(raw map[string]json.RawMessage, msg *Message) error {
	_, hasCmd := raw["cmd"]
	_, hasReply := raw["reply"]
	_, hasError := raw["error"]

	discriminators := 0
	for _, b := range []bool{hasCmd, hasReply, hasError} {
		if b {
			discriminators++
		}
	}
	if discriminators != 1 {
		return schemaErrorf("message must have exactly one of cmd, reply, error")
	}

	var spec fieldSpec
	switch {
	case hasCmd:
		s, ok := cmdSchemas[msg.Cmd]
		if !ok {
			return schemaErrorf("unknown cmd %q", msg.Cmd)
		}
		spec = s
	case hasReply:
		s, ok := replySchemas[msg.Reply]
		if !ok {
			return schemaErrorf("unknown reply %q", msg.Reply)
		}
		spec = s
	case hasError:
		spec = errorSchema
	}

	for key := range raw {
		if !spec.allowed(key) {
			return schemaErrorf("unexpected key %q for this message shape", key)
		}
	}
	for _, key := range spec.required {
		if _, ok := raw[key]; !ok {
			return schemaErrorf("missing required key %q", key)
		}
	}

	return validateFields(msg)
}

// validateOutbound re-runs the field-level rules against a
// programmatically constructed Message. There's no raw JSON key set to
// check unknown keys against here - the Go type system already rules
// out unknown fields and wrong types for anything built through the
// constructors in builders.go - so this only needs the enum/regex/array
// rules.
func (msg *Message) validateOutbound() error {
	switch msg.Kind() {
	case KindCommand:
		if _, ok := cmdSchemas[msg.Cmd]; !ok {
			return schemaErrorf("unknown cmd %q", msg.Cmd)
		}
	case KindReply:
		if _, ok := replySchemas[msg.Reply]; !ok {
			return schemaErrorf("unknown reply %q", msg.Reply)
		}
	case KindError:
		// fields checked in validateFields below
	default:
		return schemaErrorf("message has no cmd, reply, or error set")
	}
	return validateFields(msg)
}

// validateFields applies the regex/array rules common to both the
// inbound (raw-key-checked) and outbound (type-checked) paths.
func validateFields(msg *Message) error {
	if msg.Kind() == KindError {
		if !errorKinds[ErrorKind(msg.Error)] {
			return schemaErrorf("unknown error kind %q", msg.Error)
		}
		return nil
	}

	if msg.Kind() == KindReply {
		switch msg.Reply {
		case "channels":
			for _, c := range msg.Channels {
				if !ValidChannel(c) {
					return schemaErrorf("invalid channel name %q", c)
				}
			}
		case "names":
			if !ValidChannel(msg.Channel) {
				return schemaErrorf("invalid channel name %q", msg.Channel)
			}
			if !uniqueStrings(msg.Names) {
				return schemaErrorf("names array must not contain duplicates")
			}
			for _, n := range msg.Names {
				if !ValidNick(n) {
					return schemaErrorf("invalid nick %q in names array", n)
				}
			}
		}
		return nil
	}

	// KindCommand: src is a target (nick or channel) per
	// original_source/src/IRC/Schema.py's `#/targets` union, applied to
	// every command's src, or the reserved ServerSource that
	// server-originated commands carry.
	if msg.Src != "" && msg.Src != ServerSource && !isTarget(msg.Src) {
		return schemaErrorf("invalid src %q", msg.Src)
	}

	switch msg.Cmd {
	case "nick":
		if !ValidNick(msg.Update) {
			return schemaErrorf("invalid nick %q", msg.Update)
		}
	case "join", "leave", "users":
		if err := validateChannelSet(msg.Channels); err != nil {
			return err
		}
	case "msg":
		if len(msg.Targets) == 0 {
			return schemaErrorf("targets must be non-empty")
		}
		if !uniqueStrings(msg.Targets) {
			return schemaErrorf("targets must not contain duplicates")
		}
		for _, t := range msg.Targets {
			if !isTarget(t) {
				return schemaErrorf("invalid target %q", t)
			}
		}
	}

	return nil
}

func validateChannelSet(channels []string) error {
	if len(channels) == 0 {
		return schemaErrorf("channels must be non-empty")
	}
	if !uniqueStrings(channels) {
		return schemaErrorf("channels must not contain duplicates")
	}
	for _, c := range channels {
		if !ValidChannel(c) {
			return schemaErrorf("invalid channel name %q", c)
		}
	}
	return nil
}
