package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/afex/hystrix-go/hystrix"

	"github.com/WangXijue/dpool"
)

type tcpConn struct {
	dpool.BaseConn
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

func tcpFactory() dpool.Factory {
	return func(addr dpool.ServerAddress, connTimeout, dataTimeout time.Duration) dpool.Connection {
		return &tcpConn{BaseConn: dpool.NewBaseConn(addr, connTimeout, dataTimeout)}
	}
}

func startEchoServer(t *testing.T) (dpool.ServerAddress, func()) {
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
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 64)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(c)
		}
	}()
	addr := l.Addr().(*net.TCPAddr)
	return dpool.ServerAddress{Host: "127.0.0.1", Port: addr.Port}, func() { l.Close() }
}

func newTestPool(t *testing.T) (*dpool.DPool, func()) {
	t.Helper()
	addr, stop := startEchoServer(t)
	cfg := dpool.DefaultPoolConfig()
	cfg.MaxIdle = 2
	cfg.MaxActive = 2
	pool, err := dpool.New([]dpool.ServerAddress{addr}, cfg, tcpFactory())
	if err != nil {
		t.Fatalf("dpool.New: %v", err)
	}
	return pool, func() {
		pool.Shutdown()
		stop()
	}
}

func TestClient_Do_RoundTripsAndReturnsConnection(t *testing.T) {
	pool, cleanup := newTestPool(t)
	defer cleanup()

	cl := New(pool)

	err := cl.Do(context.Background(), func(conn dpool.Connection) error {
		tc := conn.(*tcpConn)
		if _, err := tc.Write([]byte("hi")); err != nil {
			return err
		}
		buf := make([]byte, 2)
		_, err := tc.Read(buf)
		return err
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	// The connection should have been returned to the idle stack, not
	// leaked, since the callback succeeded.
	stats := pool.Stats()
	if len(stats) != 1 || stats[0].NumActive != 1 {
		t.Fatalf("unexpected stats after Do: %+v", stats)
	}
}

func TestClient_Do_MarksConnectionBrokenOnCallbackError(t *testing.T) {
	pool, cleanup := newTestPool(t)
	defer cleanup()

	cl := New(pool)
	wantErr := errors.New("callback failed")

	err := cl.Do(context.Background(), func(conn dpool.Connection) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Do = %v, want %v", err, wantErr)
	}

	stats := pool.Stats()
	if len(stats) != 1 || stats[0].NumBroken != 1 || stats[0].NumActive != 0 {
		t.Fatalf("expected the connection to be disposed as broken: %+v", stats)
	}
}

func TestClient_Do_WithCircuitBreakerStillRoundTrips(t *testing.T) {
	pool, cleanup := newTestPool(t)
	defer cleanup()

	cl := New(pool, WithCircuitBreaker(hystrix.CommandConfig{
		Timeout:                1000,
		MaxConcurrentRequests:  10,
		ErrorPercentThreshold:  50,
		RequestVolumeThreshold: 5,
		SleepWindow:            1000,
	}))

	err := cl.Do(context.Background(), func(conn dpool.Connection) error {
		tc := conn.(*tcpConn)
		if _, err := tc.Write([]byte("ok")); err != nil {
			return err
		}
		buf := make([]byte, 2)
		_, err := tc.Read(buf)
		return err
	})
	if err != nil {
		t.Fatalf("Do with breaker: %v", err)
	}
}
