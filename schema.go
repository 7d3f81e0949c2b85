/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import "fmt"

// fieldSpec describes the closed set of JSON keys a given message shape
// may carry: every key in required must be present, every key in
// optional may be present, and no other key is permitted. This is the
// Go-native stand-in for the JSON-Schema `required`/`properties`
// machinery in original_source/src/IRC/Schema.py: there is no general
// JSON-Schema engine in the examples worth depending on for a fixed,
// ten-shape closed union, so the catalogue is hand-written here and
// cross-checked against the decoded key set in validateShape.
type fieldSpec struct {
	required []string
	optional []string
}

func (s fieldSpec) allowed(key string) bool {
	for _, k := range s.required {
		if k == key {
			return true
		}
	}
	for _, k := range s.optional {
		if k == key {
			return true
		}
	}
	return false
}

// cmdSchemas enumerates the ten command shapes from spec.md §6.
var cmdSchemas = map[string]fieldSpec{
	"nick":     {required: []string{"cmd", "src", "update"}},
	"quit":     {required: []string{"cmd", "src", "msg"}},
	"squit":    {required: []string{"cmd", "src", "msg"}},
	"join":     {required: []string{"cmd", "src", "channels"}},
	"leave":    {required: []string{"cmd", "src", "channels", "msg"}},
	"channels": {required: []string{"cmd", "src"}},
	"users":    {required: []string{"cmd", "src", "channels"}, optional: []string{"client"}},
	"msg":      {required: []string{"cmd", "src", "targets", "msg"}},
	"ping":     {required: []string{"cmd", "src", "msg"}},
	"pong":     {required: []string{"cmd", "src", "msg"}},
}

// replySchemas enumerates the two reply shapes.
var replySchemas = map[string]fieldSpec{
	"channels": {required: []string{"reply", "channels"}},
	"names":    {required: []string{"reply", "channel", "names"}},
}

// errorSchema is the single error shape.
var errorSchema = fieldSpec{required: []string{"error", "msg"}}

// errorKinds is the closed enum of values the `error` field may take.
var errorKinds = map[ErrorKind]bool{
	ErrKindBadNick:    true,
	ErrKindNickInUse:  true,
	ErrKindSchema:     true,
	ErrKindNoChannel:  true,
	ErrKindBadChannel: true,
	ErrKindNonMember:  true,
	ErrKindMember:     true,
	ErrKindNonExist:   true,
}

func schemaErrorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// uniqueStrings reports whether ss has no duplicate elements.
func uniqueStrings(ss []string) bool {
	seen := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			return false
		}
		seen[s] = struct{}{}
	}
	return true
}

// isTarget reports whether s is a valid nick or a valid channel name,
// the `targets` union from the wire schema (`#/targets` in
// original_source/src/IRC/Schema.py).
func isTarget(s string) bool {
	return ValidNick(s) || ValidChannel(s)
}
