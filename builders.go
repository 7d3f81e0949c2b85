/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

// Builder functions for every outbound Message shape, grounded on the
// IRCMessage constructor methods (cmdNick, cmdJoin, errorMsg, replyOk,
// replyNames, ...) in original_source/src/IRC.py. The server-originated
// builders (NewSquitNotification, NewPing) stamp src as ServerSource
// themselves; the relayed-notification builders take src from the
// caller, which passes the sender's registered nick.

// NewNickNotification announces that src has changed its nickname to update.
func NewNickNotification(src, update string) *Message {
	return &Message{Cmd: "nick", Src: src, Update: update}
}

// NewQuitNotification announces that src has disconnected, with msg as
// the parting message.
func NewQuitNotification(src, msg string) *Message {
	return &Message{Cmd: "quit", Src: src, Msg: msg}
}

// NewSquitNotification announces a server-initiated shutdown message.
func NewSquitNotification(msg string) *Message {
	return &Message{Cmd: "squit", Src: ServerSource, Msg: msg}
}

// NewJoinNotification announces that src has joined channels.
func NewJoinNotification(src string, channels []string) *Message {
	return &Message{Cmd: "join", Src: src, Channels: channels}
}

// NewLeaveNotification announces that src has left channels, with msg
// as the parting message.
func NewLeaveNotification(src string, channels []string, msg string) *Message {
	return &Message{Cmd: "leave", Src: src, Channels: channels, Msg: msg}
}

// NewChatMessage relays msg from src to the given targets (nicks or channels).
func NewChatMessage(src string, targets []string, msg string) *Message {
	return &Message{Cmd: "msg", Src: src, Targets: targets, Msg: msg}
}

// NewPing builds a server-originated keep-alive probe.
func NewPing(nonce string) *Message {
	return &Message{Cmd: "ping", Src: ServerSource, Msg: nonce}
}

// NewPong answers a ping with the nonce it carried.
func NewPong(src, nonce string) *Message {
	return &Message{Cmd: "pong", Src: src, Msg: nonce}
}

// NewChannelsReply lists every channel currently open on the server.
func NewChannelsReply(channels []string) *Message {
	return &Message{Reply: "channels", Channels: channels}
}

// NewNamesReply lists the members of a single channel. An empty names
// slice is the end-of-stream sentinel for a paginated names listing
// (spec.md §9's resolved Open Question).
func NewNamesReply(channel string, names []string) *Message {
	return &Message{Reply: "names", Channel: channel, Names: names}
}

// NewErrorReply builds a wire-level error of the given kind.
func NewErrorReply(kind ErrorKind, msg string) *Message {
	return &Message{Error: string(kind), Msg: msg}
}
