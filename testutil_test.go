package dpool

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn is a Connection whose Open outcome is scripted by the factory
// that creates it. It never touches the network.
type fakeConn struct {
	BaseConn
	openErr error
	closed  bool
}

func (c *fakeConn) Open(ctx context.Context) error { return c.openErr }
func (c *fakeConn) Close() error                   { c.closed = true; return nil }

// newCountingFactory returns a Factory whose first failFirstN calls fail to
// open (simulating a server that is briefly unreachable) and whose calls
// thereafter succeed. The returned counter tracks total factory invocations.
func newCountingFactory(failFirstN int32) (Factory, *int32) {
	var calls int32
	return func(addr ServerAddress, connTimeout, dataTimeout time.Duration) Connection {
		n := atomic.AddInt32(&calls, 1)
		var err error
		if n <= failFirstN {
			err = errors.New("dial refused")
		}
		return &fakeConn{BaseConn: NewBaseConn(addr, connTimeout, dataTimeout), openErr: err}
	}, &calls
}

// startTestServer listens on an ephemeral loopback port and immediately
// closes every connection it accepts; good enough for exercising a real
// net.Dial from DPool's factory without any protocol of its own.
func startTestServer(t *testing.T) (ServerAddress, func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	tcpAddr := l.Addr().(*net.TCPAddr)
	return ServerAddress{Host: "127.0.0.1", Port: tcpAddr.Port}, func() { l.Close() }
}

// tcpConn is a Connection that really dials the address it's given.
type tcpConn struct {
	BaseConn
	net.Conn
}

func (c *tcpConn) Open(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.ServerAddr().String())
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *tcpConn) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

func tcpFactory() Factory {
	return func(addr ServerAddress, connTimeout, dataTimeout time.Duration) Connection {
		return &tcpConn{BaseConn: NewBaseConn(addr, connTimeout, dataTimeout)}
	}
}

// shardActive reads s.active under its own lock, so race-detecting tests
// that poke at shard internals never race with the shard's own goroutines.
func shardActive(s *shard) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func shardIdleLen(s *shard) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.idle)
}
