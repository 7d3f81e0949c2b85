/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer boots a Server on an ephemeral loopback port and
// returns its address, tearing the listener down at test end.
func startTestServer(t *testing.T) string {
	t.Helper()

	server, err := NewServer(WithLogger(newDiscardLogger()))
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = server.Serve(listener) }()
	t.Cleanup(func() { listener.Close() })

	return listener.Addr().String()
}

// testClient wraps a raw TCP connection with line-oriented helpers for
// driving the wire protocol end to end.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) recv() *Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	msg, err := DecodeMessage([]byte(strings.TrimRight(line, "\r\n")))
	require.NoError(c.t, err)
	return msg
}

func (c *testClient) register(nick string) {
	c.send(`{"cmd":"nick","src":"` + nick + `","update":"` + nick + `"}`)
	reply := c.recv()
	require.Equal(c.t, "nick", reply.Cmd)
	require.Equal(c.t, nick, reply.Update)
}

func TestIntegrationRegistrationAndUniqueness(t *testing.T) {
	addr := startTestServer(t)

	alice := dialTestClient(t, addr)
	alice.register("alice")

	bob := dialTestClient(t, addr)
	bob.send(`{"cmd":"nick","src":"bob","update":"alice"}`)
	reply := bob.recv()
	assert.Equal(t, string(ErrKindNickInUse), reply.Error)
}

func TestIntegrationJoinAndChannelMessage(t *testing.T) {
	addr := startTestServer(t)

	alice := dialTestClient(t, addr)
	alice.register("alice")
	bob := dialTestClient(t, addr)
	bob.register("bob")

	alice.send(`{"cmd":"join","src":"alice","channels":["#general"]}`)
	_ = alice.recv() // join notice echoed back (no other members yet to broadcast to)

	bob.send(`{"cmd":"join","src":"bob","channels":["#general"]}`)
	joinNotice := alice.recv()
	assert.Equal(t, "join", joinNotice.Cmd)
	assert.Equal(t, "bob", joinNotice.Src)

	bob.send(`{"cmd":"msg","src":"bob","targets":["#general"],"msg":"hello"}`)
	chat := alice.recv()
	assert.Equal(t, "msg", chat.Cmd)
	assert.Equal(t, "bob", chat.Src)
	assert.Equal(t, "hello", chat.Msg)
}

func TestIntegrationMsgToUnknownUser(t *testing.T) {
	addr := startTestServer(t)

	alice := dialTestClient(t, addr)
	alice.register("alice")

	alice.send(`{"cmd":"msg","src":"alice","targets":["ghost"],"msg":"hi"}`)
	reply := alice.recv()
	assert.Equal(t, string(ErrKindNonExist), reply.Error)
}

func TestIntegrationLeaveEmptiesChannel(t *testing.T) {
	addr := startTestServer(t)

	alice := dialTestClient(t, addr)
	alice.register("alice")

	alice.send(`{"cmd":"join","src":"alice","channels":["#solo"]}`)
	_ = alice.recv() // self-addressed join notice

	alice.send(`{"cmd":"leave","src":"alice","channels":["#solo"],"msg":"done"}`)
	echo := alice.recv()
	assert.Equal(t, "leave", echo.Cmd)

	alice.send(`{"cmd":"channels","src":"alice"}`)
	reply := alice.recv()
	assert.Equal(t, "channels", reply.Reply)
	assert.NotContains(t, reply.Channels, "#solo")
}

func TestIntegrationSchemaErrorDoesNotDropConnection(t *testing.T) {
	addr := startTestServer(t)

	alice := dialTestClient(t, addr)
	alice.register("alice")

	alice.send(`{"cmd":"nonsense"}`)
	reply := alice.recv()
	assert.Equal(t, string(ErrKindSchema), reply.Error)

	// The connection survives a malformed frame and keeps dispatching.
	alice.send(`{"cmd":"channels","src":"alice"}`)
	reply = alice.recv()
	assert.Equal(t, "channels", reply.Reply)
}

func TestIntegrationOversizedFrameResync(t *testing.T) {
	addr := startTestServer(t)

	alice := dialTestClient(t, addr)
	alice.register("alice")

	junk := strings.Repeat("x", MaxFrameSize*2)
	alice.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := alice.conn.Write([]byte(junk + "\r\n"))
	require.NoError(t, err)

	// After the oversized garbage resynchronizes, a normal command
	// still gets a normal reply.
	alice.send(`{"cmd":"channels","src":"alice"}`)
	reply := alice.recv()
	assert.Equal(t, "channels", reply.Reply)
}
