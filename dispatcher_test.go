/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recvMsg drains one queued frame off conn's write queue and decodes it,
// failing the test if nothing arrives promptly.
func recvMsg(t *testing.T, conn *Connection) *Message {
	t.Helper()
	select {
	case frame := <-conn.writeQueue:
		trimmed := frame[:len(frame)-2]
		msg, err := DecodeMessage(trimmed)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return nil
	}
}

func assertNoMsg(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case frame := <-conn.writeQueue:
		t.Fatalf("unexpected message queued: %s", frame)
	default:
	}
}

func TestDispatchForcesSrcOverride(t *testing.T) {
	dir := NewDirectory()
	alice := newTestConnection(t)
	bob := newTestConnection(t)
	require.NoError(t, dir.Register(alice, "alice"))
	require.NoError(t, dir.Register(bob, "bob"))

	// alice attempts to impersonate bob as the sender; Dispatch must
	// override src back to alice's own registered nick regardless.
	msg := NewChatMessage("bob", []string{"bob"}, "pwned")
	msg.Cmd = "msg" // NewChatMessage already sets this; explicit for clarity

	Dispatch(dir, alice, msg)
	got := recvMsg(t, bob)
	assert.Equal(t, "alice", got.Src)
}

func TestDispatchRejectsCommandsBeforeRegistration(t *testing.T) {
	dir := NewDirectory()
	conn := newTestConnection(t)

	Dispatch(dir, conn, &Message{Cmd: "channels", Src: ""})
	got := recvMsg(t, conn)
	assert.Equal(t, string(ErrKindBadNick), got.Error)
}

func TestHandleSquitAlwaysRejected(t *testing.T) {
	dir := NewDirectory()
	conn := newTestConnection(t)
	require.NoError(t, dir.Register(conn, "alice"))

	Dispatch(dir, conn, &Message{Cmd: "squit", Src: "alice", Msg: "down with it"})
	got := recvMsg(t, conn)
	assert.Equal(t, string(ErrKindNonExist), got.Error)
}

func TestHandleUsersChunksAndSendsSentinel(t *testing.T) {
	dir := NewDirectory()
	conn := newTestConnection(t)
	require.NoError(t, dir.Register(conn, "alice"))
	require.NoError(t, dir.Join(conn, []string{"#general"}))

	// Join enough extra members that the names list can't possibly fit
	// in a single reply under namesChunkBudget, forcing multiple
	// chunked replies before the sentinel.
	const memberCount = 250
	var others []*Connection
	for i := 0; i < memberCount; i++ {
		other := newTestConnection(t)
		nick := fmt.Sprintf("N%03d", i)
		require.NoError(t, dir.Register(other, nick))
		require.NoError(t, dir.Join(other, []string{"#general"}))
		others = append(others, other)
	}

	Dispatch(dir, conn, &Message{Cmd: "users", Src: "alice", Channels: []string{"#general"}})

	var gotNames []string
	var sawSentinel bool
	for {
		msg := recvMsg(t, conn)
		require.Equal(t, "names", msg.Reply)
		require.Equal(t, "#general", msg.Channel)
		if len(msg.Names) == 0 {
			sawSentinel = true
			break
		}
		gotNames = append(gotNames, msg.Names...)
	}

	assert.True(t, sawSentinel)
	assert.Len(t, gotNames, memberCount+1) // alice + the rest
}

func TestHandleJoinBroadcastsToExistingMembers(t *testing.T) {
	dir := NewDirectory()
	alice := newTestConnection(t)
	bob := newTestConnection(t)
	require.NoError(t, dir.Register(alice, "alice"))
	require.NoError(t, dir.Register(bob, "bob"))
	require.NoError(t, dir.Join(alice, []string{"#general"}))

	Dispatch(dir, bob, &Message{Cmd: "join", Src: "bob", Channels: []string{"#general"}})

	got := recvMsg(t, alice)
	assert.Equal(t, "join", got.Cmd)
	assert.Equal(t, "bob", got.Src)
}

func TestHandleMsgUnknownTargetSendsError(t *testing.T) {
	dir := NewDirectory()
	alice := newTestConnection(t)
	require.NoError(t, dir.Register(alice, "alice"))

	Dispatch(dir, alice, &Message{Cmd: "msg", Src: "alice", Targets: []string{"ghost"}, Msg: "hi"})
	got := recvMsg(t, alice)
	assert.Equal(t, string(ErrKindNonExist), got.Error)
}

func TestHandleLeaveEchoesAndNotifiesSurvivors(t *testing.T) {
	dir := NewDirectory()
	alice := newTestConnection(t)
	bob := newTestConnection(t)
	require.NoError(t, dir.Register(alice, "alice"))
	require.NoError(t, dir.Register(bob, "bob"))
	require.NoError(t, dir.Join(alice, []string{"#general"}))
	require.NoError(t, dir.Join(bob, []string{"#general"}))

	Dispatch(dir, alice, &Message{Cmd: "leave", Src: "alice", Channels: []string{"#general"}, Msg: "bye"})

	echo := recvMsg(t, alice)
	assert.Equal(t, "leave", echo.Cmd)

	notice := recvMsg(t, bob)
	assert.Equal(t, "leave", notice.Cmd)
	assert.Equal(t, "alice", notice.Src)
}

func TestHandlePingPong(t *testing.T) {
	dir := NewDirectory()
	conn := newTestConnection(t)
	require.NoError(t, dir.Register(conn, "alice"))

	Dispatch(dir, conn, &Message{Cmd: "ping", Src: "alice", Msg: "probe"})
	got := recvMsg(t, conn)
	assert.Equal(t, "pong", got.Cmd)
	assert.Equal(t, ServerSource, got.Src)
	assert.Equal(t, "probe", got.Msg)

	// pong from the client records the nonce without sending a reply.
	conn.Lock()
	conn.pingOut = true
	conn.lastPingSent = "nonce"
	conn.Unlock()
	Dispatch(dir, conn, &Message{Cmd: "pong", Src: "alice", Msg: "nonce"})
	assertNoMsg(t, conn)
}
