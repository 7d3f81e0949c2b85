/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	irc "github.com/btnmasher/jsonircd"

	"github.com/sirupsen/logrus"
)

func main() {
	host := flag.String("host", "localhost", "listen host")
	port := flag.Int("port", 50000, "listen port")
	logFile := flag.String("logfile", "", "optional path to write logs to, instead of stderr")
	flag.Parse()

	logger := logrus.New()
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jsonircd: could not open log file: %s\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	mainContext, shutdown := context.WithCancel(context.Background())

	wg := conc.NewWaitGroup()

	shutdownTimeout := 30 * time.Second

	server, cfgErr := irc.NewServer(
		irc.WithHostname(*host),
		irc.WithAddress(net.JoinHostPort(*host, strconv.Itoa(*port))),
		irc.WithNetwork("jsonircd"),
		irc.WithLogger(logger),
		irc.WithLogLevel(logrus.InfoLevel),
		irc.WithDefaultLogFormatter(),
		irc.WithGracefulShutdown(mainContext, shutdownTimeout),
	)
	if cfgErr != nil {
		logger.Fatal(cfgErr)
	}

	exitCode := 0
	wg.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, irc.ErrServerClosed) {
			logger.Errorf("jsonircd: failed to start server: %s", err)
			exitCode = 1
			shutdown()
		}
	})

	log := logger.WithField("component", "main")
	killSignals := make(chan os.Signal, 1)
	signal.Notify(killSignals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-killSignals
		log.Infof("jsonircd: initializing server shutdown, received signal: %s", sig)
		shutdown()
		sig = <-killSignals
		log.Fatalf("jsonircd: forcefully shutting down server, received signal: %s", sig)
	}()

	wg.Wait()
	shutdown()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
