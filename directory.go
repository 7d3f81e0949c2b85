/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"sort"
	"strings"
	"sync"
)

// Directory is the authoritative in-memory store of connections,
// nicknames and channels. Every operation runs under a single mutex so
// each one observes and produces a consistent snapshot, the
// thread-per-connection alternative to the single-threaded reactor
// permitted by spec.md §5.
//
// Grounded on the teacher's server.go, which held the equivalent state
// (Users/Nicks/Conns/Channels) directly on Server; here it is split out
// into its own type so Server stays a thin transport layer and every
// invariant lives in one place.
type Directory struct {
	mu       sync.RWMutex
	nicks    map[string]*Connection
	channels map[string]*Channel
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		nicks:    make(map[string]*Connection),
		channels: make(map[string]*Channel),
	}
}

// Register binds conn to nick. It is the first successful nick command
// on a freshly connected socket.
func (d *Directory) Register(conn *Connection, nick string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !ValidNick(nick) {
		return newDirErr(ErrKindBadNick, "nickname does not match the allowed pattern")
	}
	if _, taken := d.nicks[nick]; taken {
		return newDirErr(ErrKindNickInUse, "nickname is already in use")
	}

	d.nicks[nick] = conn
	conn.setNick(nick)
	return nil
}

// Rename changes conn's nick from its current value to new, subject to
// the same checks as Register. The old entry is removed atomically
// with the new one being added.
func (d *Directory) Rename(conn *Connection, new string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !ValidNick(new) {
		return newDirErr(ErrKindBadNick, "nickname does not match the allowed pattern")
	}
	if _, taken := d.nicks[new]; taken {
		return newDirErr(ErrKindNickInUse, "nickname is already in use")
	}

	old := conn.Nick()
	delete(d.nicks, old)
	d.nicks[new] = conn
	conn.setNick(new)

	for _, name := range conn.joinedChannels() {
		if ch, ok := d.channels[name]; ok {
			ch.rename(old, new, conn)
		}
	}

	return nil
}

// Join adds conn to every named channel, creating any that don't yet
// exist. A malformed channel name fails the whole call with
// badchannel and mutates nothing.
func (d *Directory) Join(conn *Connection, channels []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range channels {
		if !ValidChannel(name) {
			return newDirErr(ErrKindBadChannel, "channel name does not match the allowed pattern")
		}
	}

	for _, name := range channels {
		ch, ok := d.channels[name]
		if !ok {
			ch = NewChannel(name)
			d.channels[name] = ch
		}
		ch.add(conn)
		conn.addJoined(name)
	}

	return nil
}

// Leave removes conn from every named channel. The call is atomic:
// either every listed channel has conn as a member and all the leaves
// happen, or none do and nonmember/badchannel is returned. A channel
// left empty by the departure is deleted. For each channel that still
// has members afterward, the caller gets back who remains so it can
// deliver the leave notification.
func (d *Directory) Leave(conn *Connection, channels []string) ([]ChannelNotice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range channels {
		if !ValidChannel(name) {
			return nil, newDirErr(ErrKindBadChannel, "channel name does not match the allowed pattern")
		}
		ch, ok := d.channels[name]
		if !ok || !ch.Has(conn.Nick()) {
			return nil, newDirErr(ErrKindNonMember, "not a member of "+name)
		}
	}

	var notices []ChannelNotice
	for _, name := range channels {
		ch := d.channels[name]
		ch.remove(conn.Nick())
		conn.removeJoined(name)
		if ch.Empty() {
			delete(d.channels, name)
			continue
		}
		notices = append(notices, ChannelNotice{Channel: name, Members: ch.Members()})
	}

	return notices, nil
}

// ChannelNotice pairs a vacated channel with whichever members remain
// in it, so a quit notification can be delivered without taking the
// Directory lock a second time.
type ChannelNotice struct {
	Channel string
	Members []*Connection
}

// Quit removes conn from every channel it is in (deleting any that
// become empty), drops its nickname, and reports - for each channel
// that still has members after conn's departure - who remains, so the
// caller can deliver the quit notification.
func (d *Directory) Quit(conn *Connection) []ChannelNotice {
	d.mu.Lock()
	defer d.mu.Unlock()

	var notices []ChannelNotice
	for _, name := range conn.joinedChannels() {
		ch, ok := d.channels[name]
		if !ok {
			continue
		}
		ch.remove(conn.Nick())
		if ch.Empty() {
			delete(d.channels, name)
			continue
		}
		notices = append(notices, ChannelNotice{Channel: name, Members: ch.Members()})
	}
	conn.clearJoined()

	if nick := conn.Nick(); nick != "" {
		if cur, ok := d.nicks[nick]; ok && cur == conn {
			delete(d.nicks, nick)
		}
	}

	return notices
}

// ListChannels returns every open channel name in lexicographic order.
func (d *Directory) ListChannels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListUsers returns the member nicks of channel in lexicographic
// order, or a nonexist error if the channel has no members.
func (d *Directory) ListUsers(channel string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ch, ok := d.channels[channel]
	if !ok {
		return nil, newDirErr(ErrKindNonExist, "no such channel: "+channel)
	}
	return ch.Names(), nil
}

// ListMembers returns channel's current member connections in the same
// lexicographic nick order as ListUsers, for fan-out delivery.
func (d *Directory) ListMembers(channel string) ([]*Connection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ch, ok := d.channels[channel]
	if !ok {
		return nil, newDirErr(ErrKindNonExist, "no such channel: "+channel)
	}
	return ch.Members(), nil
}

// FanoutMsg resolves targets (nicks or channels) to their recipient
// connections. The resolution is all-or-nothing: the first target that
// fails to resolve aborts the whole call with no partial delivery set
// returned. Recipients are deduplicated by connection identity and
// never include the sender itself.
func (d *Directory) FanoutMsg(sender *Connection, targets []string) ([]*Connection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[*Connection]struct{})
	var recipients []*Connection

	add := func(conn *Connection) {
		if conn == sender {
			return
		}
		if _, ok := seen[conn]; ok {
			return
		}
		seen[conn] = struct{}{}
		recipients = append(recipients, conn)
	}

	for _, target := range targets {
		if strings.HasPrefix(target, "#") {
			ch, ok := d.channels[target]
			if !ok {
				return nil, newDirErr(ErrKindNonExist, "no such channel: "+target)
			}
			for _, member := range ch.Members() {
				add(member)
			}
			continue
		}

		conn, ok := d.nicks[target]
		if !ok {
			return nil, newDirErr(ErrKindNonExist, "no such nick: "+target)
		}
		add(conn)
	}

	return recipients, nil
}
