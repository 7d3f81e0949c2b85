/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"github.com/btnmasher/jsonircd/shared/stringutils"
)

// namesChunkBudget bounds the payload length handed to
// stringutils.ChunkByLength when paginating a names reply, leaving
// headroom under MaxJSONSize for the surrounding
// {"reply":"names","channel":"...","names":[...]}  envelope.
const namesChunkBudget = MaxJSONSize - 64

// namesChunkOverhead approximates the per-item JSON encoding cost (a
// pair of quotes plus a separating comma) that ChunkByLength accounts
// for when grouping nicks.
const namesChunkOverhead = 3

// dispatchTable maps each inbound command name to its handler. Grounded
// on the teacher's router.go/handlers.go dispatch-table idiom,
// collapsed to a flat map since nothing here needs router.go's
// middleware-chain machinery (spec.md §9's redesign note).
var dispatchTable = map[string]func(*Directory, *Connection, *Message){
	"nick":     handleNick,
	"quit":     handleQuit,
	"squit":    handleSquit,
	"join":     handleJoin,
	"leave":    handleLeave,
	"channels": handleChannels,
	"users":    handleUsers,
	"msg":      handleMsg,
	"ping":     handlePing,
	"pong":     handlePong,
}

// Dispatch routes one validated inbound Message to its handler. src is
// always overridden with the connection's trusted registered nick
// before any Directory operation runs, preventing a client from
// impersonating another sender (spec.md §9).
func Dispatch(dir *Directory, conn *Connection, msg *Message) {
	if msg.Kind() != KindCommand {
		conn.trySend(NewErrorReply(ErrKindSchema, "client may not send replies or errors"))
		return
	}

	if conn.Nick() == "" && msg.Cmd != "nick" {
		conn.trySend(NewErrorReply(ErrKindBadNick, "register a nickname before sending other commands"))
		return
	}
	if conn.Nick() != "" {
		msg.Src = conn.Nick()
	}

	handler, ok := dispatchTable[msg.Cmd]
	if !ok {
		conn.trySend(NewErrorReply(ErrKindSchema, "unknown command"))
		return
	}
	handler(dir, conn, msg)
}

func handleNick(dir *Directory, conn *Connection, msg *Message) {
	old := conn.Nick()

	var err error
	if old == "" {
		err = dir.Register(conn, msg.Update)
	} else {
		err = dir.Rename(conn, msg.Update)
	}
	if err != nil {
		conn.trySend(NewErrorReply(kindOf(err), err.Error()))
		return
	}

	notice := NewNickNotification(firstNonEmpty(old, msg.Update), msg.Update)
	conn.trySend(notice)
	for _, name := range conn.joinedChannels() {
		broadcastToChannel(dir, conn, name, notice)
	}
}

func handleQuit(_ *Directory, conn *Connection, msg *Message) {
	conn.doQuit(firstNonEmpty(msg.Msg, "Client issued quit."))
}

// handleSquit rejects every client-issued squit with nonexist: no
// client connection can hold the reserved SERVER identity, so a squit
// from a real client is never privileged (spec.md §9's resolved Open
// Question).
func handleSquit(_ *Directory, conn *Connection, _ *Message) {
	conn.trySend(NewErrorReply(ErrKindNonExist, "squit is not permitted from a client connection"))
}

func handleJoin(dir *Directory, conn *Connection, msg *Message) {
	if err := dir.Join(conn, msg.Channels); err != nil {
		conn.trySend(NewErrorReply(kindOf(err), err.Error()))
		return
	}

	notice := NewJoinNotification(conn.Nick(), msg.Channels)
	for _, name := range msg.Channels {
		broadcastToChannel(dir, nil, name, notice)
	}
}

func handleLeave(dir *Directory, conn *Connection, msg *Message) {
	notices, err := dir.Leave(conn, msg.Channels)
	if err != nil {
		conn.trySend(NewErrorReply(kindOf(err), err.Error()))
		return
	}

	echo := NewLeaveNotification(conn.Nick(), msg.Channels, msg.Msg)
	conn.trySend(echo)
	for _, n := range notices {
		for _, member := range n.Members {
			member.trySend(echo)
		}
	}
}

func handleChannels(dir *Directory, conn *Connection, _ *Message) {
	conn.trySend(NewChannelsReply(dir.ListChannels()))
}

// handleUsers answers a users request with one or more names replies
// per requested channel, each chunked to fit MaxJSONSize and
// terminated by an empty-names reply for that same channel - the
// source's end-of-stream sentinel, preserved per spec.md §9.
func handleUsers(dir *Directory, conn *Connection, msg *Message) {
	for _, name := range msg.Channels {
		names, err := dir.ListUsers(name)
		if err != nil {
			conn.trySend(NewErrorReply(kindOf(err), err.Error()))
			continue
		}

		for _, group := range stringutils.ChunkByLength(namesChunkBudget, namesChunkOverhead, names) {
			conn.trySend(NewNamesReply(name, group))
		}
		conn.trySend(NewNamesReply(name, nil))
	}
}

func handleMsg(dir *Directory, conn *Connection, msg *Message) {
	recipients, err := dir.FanoutMsg(conn, msg.Targets)
	if err != nil {
		conn.trySend(NewErrorReply(kindOf(err), err.Error()))
		return
	}

	chat := NewChatMessage(conn.Nick(), msg.Targets, msg.Msg)
	for _, recipient := range recipients {
		recipient.trySend(chat)
	}
}

func handlePing(_ *Directory, conn *Connection, msg *Message) {
	conn.trySend(NewPong(ServerSource, msg.Msg))
}

func handlePong(_ *Directory, conn *Connection, msg *Message) {
	conn.recordPong(msg.Msg)
}

// broadcastToChannel delivers msg to every current member of channel
// name, optionally excluding one connection (the actor, when it
// already received an explicit echo).
func broadcastToChannel(dir *Directory, exclude *Connection, name string, msg *Message) {
	members, err := dir.ListMembers(name)
	if err != nil {
		return
	}
	for _, member := range members {
		if member == exclude {
			continue
		}
		member.trySend(msg)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
