/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package jsonircd

import (
	"net"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDirectorySuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Directory Invariants Suite")
}

// ginkgoConn builds a Connection with no live socket, for specs that
// only exercise Directory bookkeeping.
func ginkgoConn() *Connection {
	client, srv := net.Pipe()
	DeferCleanup(func() {
		client.Close()
		srv.Close()
	})
	return NewConnection(&Server{logger: newDiscardLogger(), directory: NewDirectory()}, srv)
}

var _ = Describe("Directory", func() {
	var dir *Directory

	BeforeEach(func() {
		dir = NewDirectory()
	})

	Describe("the unique-nick bijection", func() {
		It("never lets two connections hold the same nick", func() {
			alice := ginkgoConn()
			bob := ginkgoConn()

			Expect(dir.Register(alice, "shared")).To(Succeed())
			Expect(dir.Register(bob, "shared")).To(MatchError(HaveKindOf(ErrKindNickInUse)))
		})

		It("frees a nick for reuse once its holder quits", func() {
			alice := ginkgoConn()
			Expect(dir.Register(alice, "nomad")).To(Succeed())

			dir.Quit(alice)

			bob := ginkgoConn()
			Expect(dir.Register(bob, "nomad")).To(Succeed())
		})

		It("survives interleaved register/rename/quit without ever double-booking a nick", func() {
			conns := make([]*Connection, 5)
			for i := range conns {
				conns[i] = ginkgoConn()
				Expect(dir.Register(conns[i], nickFor(i))).To(Succeed())
			}

			Expect(dir.Rename(conns[0], nickFor(5))).To(Succeed())
			dir.Quit(conns[1])
			Expect(dir.Register(ginkgoConn(), nickFor(1))).To(Succeed())
			Expect(dir.Rename(conns[2], nickFor(1))).ToNot(Succeed())
		})
	})

	Describe("the no-empty-channels invariant", func() {
		It("deletes a channel the moment its last member leaves", func() {
			alice := ginkgoConn()
			Expect(dir.Register(alice, "alice")).To(Succeed())
			Expect(dir.Join(alice, []string{"#temp"})).To(Succeed())
			Expect(dir.ListChannels()).To(ContainElement("#temp"))

			_, err := dir.Leave(alice, []string{"#temp"})
			Expect(err).To(Succeed())
			Expect(dir.ListChannels()).ToNot(ContainElement("#temp"))
		})

		It("deletes a channel when its last member quits", func() {
			alice := ginkgoConn()
			Expect(dir.Register(alice, "alice")).To(Succeed())
			Expect(dir.Join(alice, []string{"#temp"})).To(Succeed())

			dir.Quit(alice)
			Expect(dir.ListChannels()).ToNot(ContainElement("#temp"))
		})

		It("keeps a channel alive while any member remains", func() {
			alice := ginkgoConn()
			bob := ginkgoConn()
			Expect(dir.Register(alice, "alice")).To(Succeed())
			Expect(dir.Register(bob, "bob")).To(Succeed())
			Expect(dir.Join(alice, []string{"#shared"})).To(Succeed())
			Expect(dir.Join(bob, []string{"#shared"})).To(Succeed())

			dir.Quit(alice)
			Expect(dir.ListChannels()).To(ContainElement("#shared"))
		})
	})

	Describe("join-then-leave", func() {
		It("leaves no trace of membership behind", func() {
			alice := ginkgoConn()
			Expect(dir.Register(alice, "alice")).To(Succeed())
			Expect(dir.Join(alice, []string{"#a", "#b"})).To(Succeed())
			Expect(dir.Register(ginkgoConn(), "bob")).To(Succeed()) // bob joins neither channel, so #a/#b empty out and are deleted

			_, err := dir.Leave(alice, []string{"#a", "#b"})
			Expect(err).To(Succeed())
			Expect(alice.joinedChannels()).To(BeEmpty())
		})
	})
})

func nickFor(i int) string {
	letters := "ABCDEFGHIJ"
	return string(letters[i])
}

// HaveKindOf matches a directoryError carrying the given ErrorKind.
func HaveKindOf(kind ErrorKind) OmegaMatcher {
	return WithTransform(func(err error) ErrorKind {
		return kindOf(err)
	}, Equal(kind))
}
