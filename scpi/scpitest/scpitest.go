// Package scpitest provides an in-memory instrument that answers SCPI
// commands from a script, for testing code built on package scpi.
package scpitest

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/scpi"
)

// Peer is a scripted instrument.  Every newline-terminated command it
// receives is recorded; if Replies holds an entry for the command, the entry
// is written back verbatim.  Commands without an entry get no reply
type Peer struct {
	mu       sync.Mutex
	replies  map[string][]byte
	received []string
	conns    []net.Conn
}

// NewPeer returns a peer answering from replies
func NewPeer(replies map[string]string) *Peer {
	p := &Peer{replies: make(map[string][]byte)}
	for k, v := range replies {
		p.replies[k] = []byte(v + "\n")
	}
	return p
}

// Reply sets the reply to cmd, terminated by a newline
func (p *Peer) Reply(cmd, reply string) {
	p.ReplyBytes(cmd, []byte(reply+"\n"))
}

// ReplyBytes sets the reply to cmd, written exactly as given
func (p *Peer) ReplyBytes(cmd string, reply []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[cmd] = reply
}

// Commands returns every command received so far, in order
func (p *Peer) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.received))
	copy(out, p.received)
	return out
}

// Sent reports whether cmd was received
func (p *Peer) Sent(cmd string) bool {
	for _, c := range p.Commands() {
		if c == cmd {
			return true
		}
	}
	return false
}

// Maker returns a CreationFunc that connects to the peer over net.Pipe
func (p *Peer) Maker() comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		p.mu.Lock()
		p.conns = append(p.conns, server)
		p.mu.Unlock()
		go p.serve(server)
		return client, nil
	}
}

// SCPI returns an scpi.SCPI talking to the peer through a pool of size one
func (p *Peer) SCPI(timeout time.Duration) scpi.SCPI {
	return scpi.SCPI{Pool: comm.NewPool(1, time.Minute, p.Maker()), Timeout: timeout}
}

// Close hangs up every connection made to the peer
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.Close()
	}
}

func (p *Peer) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		p.mu.Lock()
		p.received = append(p.received, cmd)
		reply, ok := p.replies[cmd]
		p.mu.Unlock()
		if ok {
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}
}
