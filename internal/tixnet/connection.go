// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tixnet

import (
	"bufio"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/elcapor/tix/internal/protocol"
)

// QueueCapacity bounds the connection's inbound and outbound queues.
// A slow peer blocks the writer, which blocks the heartbeat sender, which
// blocks application sends — the backpressure is intentional (§4.3, §9).
const QueueCapacity = 128

// HeartbeatInterval is the cadence of the keep-alive loop (§4.3).
const HeartbeatInterval = 5 * time.Second

// Connection wraps a byte-stream endpoint into three cooperating
// goroutines: writer, reader, heartbeat. Construction is synchronous and
// returns immediately; failure of a background goroutine is signalled by
// Recv returning ok=false.
type Connection struct {
	conn   net.Conn
	logger *slog.Logger

	outbound chan protocol.Packet
	inbound  chan protocol.Packet

	done         chan struct{}
	doneOnce     sync.Once
	inboundOnce  sync.Once
}

// New wraps conn, disables Nagle's algorithm if the connection supports it,
// and starts the writer/reader/heartbeat goroutines.
func New(conn net.Conn, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	c := &Connection{
		conn:     conn,
		logger:   logger,
		outbound: make(chan protocol.Packet, QueueCapacity),
		inbound:  make(chan protocol.Packet, QueueCapacity),
		done:     make(chan struct{}),
	}

	go c.writeLoop()
	go c.readLoop()
	go c.heartbeatLoop()

	return c
}

// Send enqueues a packet for transmission. It blocks while the outbound
// queue is full and returns false once the connection has terminated.
func (c *Connection) Send(p protocol.Packet) bool {
	select {
	case c.outbound <- p:
		return true
	case <-c.done:
		return false
	}
}

// Sender returns a cheaply-cloneable handle that spawned task bodies can
// hold to publish responses without coordinating with the connection
// owner: sending on the returned channel is the clone operation.
func (c *Connection) Sender() chan<- protocol.Packet { return c.outbound }

// Recv blocks for the next inbound packet. ok is false once the connection
// has terminated and no more packets will arrive.
func (c *Connection) Recv() (protocol.Packet, bool) {
	p, ok := <-c.inbound
	return p, ok
}

// Close signals every goroutine to stop and closes the underlying socket.
func (c *Connection) Close() error {
	c.shutdown()
	return c.conn.Close()
}

func (c *Connection) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
	c.closeInbound()
}

func (c *Connection) closeInbound() {
	c.inboundOnce.Do(func() { close(c.inbound) })
}

func (c *Connection) writeLoop() {
	w := bufio.NewWriter(c.conn)
	for {
		select {
		case p, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := protocol.WritePacket(w, p); err != nil {
				c.logger.Warn("tixnet: write error", "error", err)
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) readLoop() {
	codec := protocol.NewCodec()
	for {
		p, err := codec.ReadPacket(c.conn)
		if err != nil {
			c.logger.Debug("tixnet: read loop ending", "error", err)
			c.shutdown()
			return
		}
		select {
		case c.inbound <- p:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !c.Send(protocol.Heartbeat()) {
				return
			}
		case <-c.done:
			return
		}
	}
}
