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
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/btnmasher/jsonircd/shared/concurrentmap"
)

// Server holds the state of one jsonircd instance: its Directory, its
// live connection registry, and the transport/config surface the
// functional options in options.go populate.
//
// Grounded on the teacher's Server type in server.go, with the
// RFC1459-specific ISupport/capability state dropped, Directory pulled
// out as its own type, and graceful-shutdown wiring added to finish
// what the teacher's own cmd/dircd/main.go sketch assumed existed.
type Server struct {
	hostname string
	address  string
	network  string
	motd     string
	welcome  string

	logger *logrus.Logger

	directory *Directory
	conns     concurrentmap.ConcurrentMap[string, *Connection]

	tlsConfig *tls.Config
	listener  net.Listener

	shutdownCtx     context.Context
	shutdownTimeout time.Duration

	wg *conc.WaitGroup
}

// NewServer applies opts over sensible defaults and returns a ready to
// serve Server.
func NewServer(opts ...ServerOption) (*Server, error) {
	server := &Server{
		hostname:    "localhost",
		address:     "localhost:50000",
		network:     "jsonircd",
		logger:      logrus.New(),
		directory:   NewDirectory(),
		conns:       concurrentmap.New[string, *Connection](),
		shutdownCtx: context.Background(),
		wg:          conc.NewWaitGroup(),
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, err
		}
	}

	return server, nil
}

// Hostname returns the server's advertised hostname.
func (server *Server) Hostname() string {
	return server.hostname
}

// Address returns the server's configured listen address.
func (server *Server) Address() string {
	return server.address
}

// Network returns the server's configured network name.
func (server *Server) Network() string {
	return server.network
}

// MOTD returns the server's message of the day.
func (server *Server) MOTD() string {
	if server.motd == "" {
		return "Server has no MOTD message set."
	}
	return server.motd
}

// Welcome returns the server's welcome message.
func (server *Server) Welcome() string {
	if server.welcome == "" {
		return "Server has no welcome message set."
	}
	return server.welcome
}

func (server *Server) log() *logrus.Entry {
	return server.logger.WithField("component", "server")
}

func (server *Server) removeConn(remAddr string) {
	server.conns.Delete(remAddr)
}

// disconnectAll delivers a squit notice to every live connection and
// tears each of them down, wiring NewSquitNotification into the
// graceful-shutdown path it was built for. The notice is written
// directly to the socket rather than through the connection's write
// queue: doQuit is about to close conn.kill, and writeLoop's select
// between conn.kill and conn.writeQueue makes no ordering guarantee
// between the two once both are ready.
func (server *Server) disconnectAll(reason string) {
	notice := NewSquitNotification(reason)
	frame, err := notice.Encode()
	if err != nil {
		server.log().Errorf("jsonircd: failed to encode squit notice: %s", err)
	}

	for _, conn := range server.conns.Values() {
		if frame != nil {
			conn.sock.SetWriteDeadline(time.Now().Add(2 * time.Second))
			conn.sock.Write(frame)
		}
		conn.doQuit(reason)
	}
}

// awaitShutdown waits for every in-flight serve(conn) goroutine to
// return, bounded by shutdownTimeout so a stuck connection can't wedge
// Serve forever.
func (server *Server) awaitShutdown() error {
	done := make(chan struct{})
	go func() {
		server.wg.Wait()
		close(done)
	}()

	if server.shutdownTimeout <= 0 {
		<-done
		return ErrServerClosed
	}

	select {
	case <-done:
	case <-time.After(server.shutdownTimeout):
		server.log().Warn("jsonircd: shutdown timeout elapsed with connections still draining")
	}

	return ErrServerClosed
}

// ListenAndServe listens on the server's configured address and serves
// plaintext connections until shut down.
//
// ListenAndServe always returns a non-nil error; ErrServerClosed on a
// graceful shutdown.
func (server *Server) ListenAndServe() error {
	addr := server.address
	if addr == "" {
		addr = "localhost:50000"
	}

	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return server.Serve(tcpKeepAliveListener{listen.(*net.TCPListener)})
}

// ListenAndServeTLS listens on the server's configured address and
// serves TLS connections, retained as an orthogonal transport option
// (not a protocol-dialect feature; spec.md's TLS non-goal applies only
// to the wire dialect itself).
func (server *Server) ListenAndServeTLS(certFile, keyFile string) error {
	addr := server.address
	if addr == "" {
		addr = "localhost:50000"
	}

	config := cloneTLSConfig(server.tlsConfig)

	configHasCert := len(config.Certificates) > 0 || config.GetCertificate != nil
	if !configHasCert || certFile != "" || keyFile != "" {
		var err error
		config.Certificates = make([]tls.Certificate, 1)
		config.Certificates[0], err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return err
		}
	}

	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	tlsListener := tls.NewListener(tcpKeepAliveListener{listen.(*net.TCPListener)}, config)
	return server.Serve(tlsListener)
}

// Serve accepts connections on listen and hands each to its own
// serve(conn) goroutine, tracked by a conc.WaitGroup so a graceful
// shutdown (via WithGracefulShutdown's context) can wait for every
// in-flight connection to drain before returning. On shutdown, every
// live connection is sent a squit notice and disconnected; Serve then
// waits up to shutdownTimeout for their serve(conn) goroutines to
// finish before returning regardless.
func (server *Server) Serve(listen net.Listener) error {
	server.listener = listen
	defer listen.Close()

	server.log().Infof("jsonircd: listening at [%s]", listen.Addr())

	go func() {
		<-server.shutdownCtx.Done()
		server.log().Info("jsonircd: shutdown signal received, closing listener")
		listen.Close()
		server.disconnectAll("Server shutting down.")
	}()

	var tempDelay time.Duration

	for {
		sock, err := listen.Accept()
		if err != nil {
			select {
			case <-server.shutdownCtx.Done():
				return server.awaitShutdown()
			default:
			}

			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				server.log().Errorf("jsonircd: accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}

			return err
		}

		tempDelay = 0
		conn := NewConnection(server, sock)
		server.conns.Set(sock.RemoteAddr().String(), conn)
		server.wg.Go(func() { serve(conn) })
	}
}

// cloneTLSConfig returns a shallow clone of the exported
// fields of cfg, ignoring the unexported sync.Once, which
// contains a mutex and must not be copied.
//
// The cfg must not be in active use by tls.Server, or else
// there can still be a race with tls.Server updating SessionTicketKey
// and our copying it, and also a race with the server setting
// SessionTicketsDisabled=false on failure to set the random
// ticket key.
//
// If cfg is nil, a new zero tls.Config is returned.
func cloneTLSConfig(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		return &tls.Config{}
	}
	return &tls.Config{
		Rand:                   cfg.Rand,
		Time:                   cfg.Time,
		Certificates:           cfg.Certificates,
		GetCertificate:         cfg.GetCertificate,
		RootCAs:                cfg.RootCAs,
		NextProtos:             cfg.NextProtos,
		ServerName:             cfg.ServerName,
		ClientAuth:             cfg.ClientAuth,
		ClientCAs:              cfg.ClientCAs,
		InsecureSkipVerify:     cfg.InsecureSkipVerify,
		CipherSuites:           cfg.CipherSuites,
		SessionTicketsDisabled: cfg.SessionTicketsDisabled,
		SessionTicketKey:       cfg.SessionTicketKey,
		ClientSessionCache:     cfg.ClientSessionCache,
		MinVersion:             cfg.MinVersion,
		MaxVersion:             cfg.MaxVersion,
		CurvePreferences:       cfg.CurvePreferences,
	}
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// connections. It's used by ListenAndServe and ListenAndServeTLS so
// dead TCP connections (e.g. closing laptop mid-download) eventually
// go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (listen tcpKeepAliveListener) Accept() (net.Conn, error) {
	conn, err := listen.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(KeepAliveDead)
	return conn, nil
}
