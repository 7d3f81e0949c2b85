/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"io"

	"github.com/sirupsen/logrus"
)

// newDiscardLogger returns a logrus.Logger with its output silenced, for
// tests that need a Server/Connection to log through without spamming
// test output.
func newDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
