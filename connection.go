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
	"crypto/tls"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/btnmasher/random"
	"github.com/sirupsen/logrus"
)

// Connection is the server side of one client session: a codec plus
// the soft state spec.md §4.3 requires (registered nick, outstanding
// ping nonce, joined-channel set). Grounded on the teacher's Conn type
// in connection.go, with the RFC1459 parser/capability-negotiation
// state dropped and the JSON codec, keep-alive two-threshold timing,
// and Directory-driven membership tracking added in its place.
type Connection struct {
	sync.RWMutex

	server  *Server
	sock    net.Conn
	remAddr string

	decoder    *Decoder
	writeQueue chan []byte

	nick   string
	joined map[string]struct{}

	heartbeat    *time.Timer
	lastPingSent string
	pingOut      bool

	kill          chan struct{}
	killOnce      sync.Once
	timeoutForced bool
	alive         bool
}

// NewConnection initializes a Connection wrapping sock.
func NewConnection(srv *Server, sock net.Conn) *Connection {
	return &Connection{
		server:     srv,
		sock:       sock,
		decoder:    NewDecoder(sock),
		writeQueue: make(chan []byte, WriteQueueLength),
		joined:     make(map[string]struct{}),
		heartbeat:  time.NewTimer(KeepAliveIdle),
		kill:       make(chan struct{}),
		alive:      true,
	}
}

// Nick returns the connection's currently registered nickname, or ""
// if it has not yet registered.
func (conn *Connection) Nick() string {
	conn.RLock()
	defer conn.RUnlock()
	return conn.nick
}

func (conn *Connection) setNick(nick string) {
	conn.Lock()
	defer conn.Unlock()
	conn.nick = nick
}

// joinedChannels, addJoined, removeJoined and clearJoined are called
// only by Directory methods, which already serialize access to a
// connection's membership set under the Directory's own lock; they
// still take conn's lock since Nick()/IsAlive() may be read
// concurrently from the connection's own goroutines.
func (conn *Connection) joinedChannels() []string {
	conn.RLock()
	defer conn.RUnlock()
	names := make([]string, 0, len(conn.joined))
	for name := range conn.joined {
		names = append(names, name)
	}
	return names
}

func (conn *Connection) addJoined(name string) {
	conn.Lock()
	defer conn.Unlock()
	conn.joined[name] = struct{}{}
}

func (conn *Connection) removeJoined(name string) {
	conn.Lock()
	defer conn.Unlock()
	delete(conn.joined, name)
}

func (conn *Connection) clearJoined() {
	conn.Lock()
	defer conn.Unlock()
	conn.joined = make(map[string]struct{})
}

// IsAlive reports whether the connection has not yet been marked dead
// by a quit or a transport failure.
func (conn *Connection) IsAlive() bool {
	conn.RLock()
	defer conn.RUnlock()
	return conn.alive
}

func (conn *Connection) markDead() {
	conn.Lock()
	conn.alive = false
	conn.Unlock()
}

func (conn *Connection) log() *logrus.Entry {
	return conn.server.log().WithField("remote", conn.remAddr)
}

// serve drives one connection's lifetime: TLS handshake (if
// applicable), then a read loop and write loop running concurrently
// until either side observes a failure. Grounded on the teacher's
// package-level serve(conn) function.
func serve(conn *Connection) {
	defer conn.cleanup()

	conn.remAddr = conn.sock.RemoteAddr().String()
	conn.log().Debug("jsonircd: accepted connection")

	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			conn.log().Errorf("jsonircd: panic serving connection: %v\n%s", r, buf)
			conn.doQuit("Server error.")
		}
		conn.sock.Close()
	}()

	if tlsConn, ok := conn.sock.(*tls.Conn); ok {
		conn.sock.SetDeadline(time.Now().Add(10 * time.Second))
		if err := tlsConn.Handshake(); err != nil {
			conn.log().Errorf("jsonircd: TLS handshake error: %s", err)
			return
		}
	}

	go conn.writeLoop()
	conn.readLoop()
	conn.log().Debug("jsonircd: readLoop exited")
}

// readLoop decodes frames and hands each validated Message to the
// dispatcher until the decoder reports a disconnect.
func (conn *Connection) readLoop() {
	reason := "Connection closed."
	defer func() { conn.doQuit(reason) }()

	for {
		frame, ok := conn.decoder.Next()
		if !ok {
			if err := conn.decoder.Err(); err != nil {
				conn.log().Errorf("jsonircd: read error: %s", err)
				reason = "Socket error."
			} else if !conn.timeoutForced {
				conn.log().Debug("jsonircd: peer disconnected")
			}
			return
		}

		msg, err := DecodeMessage(frame)
		if err != nil {
			conn.log().Debugf("jsonircd: schema error from peer: %s", err)
			conn.trySend(NewErrorReply(ErrKindSchema, err.Error()))
			continue
		}

		conn.resetIdle()
		Dispatch(conn.server.directory, conn, msg)
		msgPool.Recycle(msg)
	}
}

// writeLoop serializes outbound writes to the socket and drives the
// keep-alive timer, mirroring the teacher's select loop over
// kill/writeQueue/heartbeat.C in connection.go.
func (conn *Connection) writeLoop() {
	writer := conn.sock
	for {
		select {
		case <-conn.kill:
			conn.forceTimeout()
			return

		case frame := <-conn.writeQueue:
			conn.flush(writer, frame)

		case <-conn.heartbeat.C:
			conn.doHeartbeat()
		}
	}
}

func (conn *Connection) flush(w net.Conn, frame []byte) {
	w.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := w.Write(frame); err != nil {
		conn.log().Errorf("jsonircd: write error: %s", err)
		conn.doQuit("Socket error.")
	}
}

// enqueue validates and serializes msg, then queues it for delivery.
// A message that fails outbound validation never reaches the wire;
// this is the local "sent-invalid" signal from spec.md §4.3 and always
// indicates a programming error, not a client-triggerable condition.
func (conn *Connection) enqueue(msg *Message) error {
	frame, err := msg.Encode()
	if err != nil {
		conn.log().Errorf("jsonircd: refused to send invalid message: %s", err)
		return ErrSentInvalid
	}

	select {
	case conn.writeQueue <- frame:
	default:
		conn.log().Warn("jsonircd: write queue full, dropping slow reader")
		conn.doQuit("Write queue overflow.")
	}
	return nil
}

// trySend is enqueue for call sites (e.g. readLoop's own schema-error
// reply) that don't otherwise propagate an error.
func (conn *Connection) trySend(msg *Message) {
	_ = conn.enqueue(msg)
}

func (conn *Connection) resetIdle() {
	conn.Lock()
	conn.pingOut = false
	conn.Unlock()
	conn.heartbeat.Reset(KeepAliveIdle)
}

// doHeartbeat fires on the heartbeat timer. The first firing after a
// quiet period sends a ping and rearms the timer for the remaining
// dead-window; a second firing with no pong in between means the peer
// missed the dead-line entirely and is reaped (spec.md §8 scenario 6).
func (conn *Connection) doHeartbeat() {
	conn.Lock()
	alreadyWaiting := conn.pingOut
	conn.Unlock()

	if alreadyWaiting {
		conn.log().Infof("jsonircd: keep-alive timeout for [%s]", conn.remAddr)
		conn.doQuit("Ping timeout.")
		return
	}

	nonce := random.String(10)
	conn.Lock()
	conn.lastPingSent = nonce
	conn.pingOut = true
	conn.Unlock()

	conn.trySend(NewPing(nonce))
	conn.heartbeat.Reset(KeepAliveDead - KeepAliveIdle)
}

// recordPong clears the outstanding ping if nonce matches, restarting
// the idle countdown.
func (conn *Connection) recordPong(nonce string) {
	conn.Lock()
	matched := conn.pingOut && conn.lastPingSent == nonce
	if matched {
		conn.pingOut = false
	}
	conn.Unlock()

	if matched {
		conn.heartbeat.Reset(KeepAliveIdle)
	}
}

// doQuit synthesizes a quit, notifying every channel the connection
// was a member of, then signals the write loop to tear down the
// socket. Safe to call more than once.
func (conn *Connection) doQuit(reason string) {
	if !conn.IsAlive() {
		return
	}
	conn.markDead()

	nick := conn.Nick()
	notices := conn.server.directory.Quit(conn)

	if nick != "" {
		notice := NewQuitNotification(nick, reason)
		for _, n := range notices {
			for _, member := range n.Members {
				member.trySend(notice)
			}
		}
	}

	conn.killOnce.Do(func() { close(conn.kill) })
}

func (conn *Connection) cleanup() {
	conn.doQuit("Connection closed.")
	conn.server.removeConn(conn.remAddr)
}

func (conn *Connection) forceTimeout() {
	conn.Lock()
	conn.timeoutForced = true
	conn.Unlock()
	conn.sock.SetReadDeadline(time.Now().Add(time.Microsecond))
}
