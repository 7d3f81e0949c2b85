/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"sort"
	"time"
)

// Channel is a named group of connections. It carries no locking of its
// own: every mutation happens under the owning Directory's single
// mutex, the way the teacher's Channel used to hold a sync.RWMutex but
// here that mutex lives one level up so membership changes and
// fan-out stay atomic with respect to each other (spec.md §4.4).
//
// Grounded on the teacher's channel.go Channel type, trimmed of the
// RFC1459-specific owner/mode/ban-list machinery that has no analogue
// in this protocol.
type Channel struct {
	name    string
	members map[string]*Connection // keyed by nick
	created time.Time
}

// NewChannel creates an empty channel record.
func NewChannel(name string) *Channel {
	return &Channel{
		name:    name,
		members: make(map[string]*Connection),
		created: time.Now(),
	}
}

// Name returns the channel's name.
func (ch *Channel) Name() string {
	return ch.name
}

// Empty reports whether the channel has no members, the condition
// under which the Directory deletes it (spec.md §3's no-empty-channels
// invariant).
func (ch *Channel) Empty() bool {
	return len(ch.members) == 0
}

// Has reports whether nick is currently a member.
func (ch *Channel) Has(nick string) bool {
	_, ok := ch.members[nick]
	return ok
}

// add records conn as a member under its current nick. Caller must
// hold the Directory's write lock.
func (ch *Channel) add(conn *Connection) {
	ch.members[conn.Nick()] = conn
}

// remove drops nick from the membership set. Caller must hold the
// Directory's write lock.
func (ch *Channel) remove(nick string) {
	delete(ch.members, nick)
}

// rename moves a member's entry from old to new, preserving the same
// *Connection, when a member's nick changes mid-membership.
func (ch *Channel) rename(old, new string, conn *Connection) {
	if _, ok := ch.members[old]; ok {
		delete(ch.members, old)
		ch.members[new] = conn
	}
}

// Names returns the channel's member nicks in lexicographic order, the
// stable ordering fan-out and the names reply both rely on.
func (ch *Channel) Names() []string {
	names := make([]string, 0, len(ch.members))
	for nick := range ch.members {
		names = append(names, nick)
	}
	sort.Strings(names)
	return names
}

// Members returns the channel's connections in the same lexicographic
// nick order as Names, for fan-out delivery.
func (ch *Channel) Members() []*Connection {
	names := ch.Names()
	conns := make([]*Connection, len(names))
	for i, n := range names {
		conns[i] = ch.members[n]
	}
	return conns
}
