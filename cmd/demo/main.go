// Command demo exercises a DPool against a handful of in-process echo
// servers, the way tiny_grpc's own demo wired a client against a server it
// spun up in the same binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/afex/hystrix-go/hystrix"
	log "github.com/golang/glog"

	"github.com/WangXijue/dpool"
	"github.com/WangXijue/dpool/client"
	"github.com/WangXijue/dpool/config"
	"github.com/WangXijue/dpool/metrics"
)

const numServers = 3

// echoConn wraps a plain TCP connection to one of the demo echo servers.
// It embeds dpool.BaseConn for the borrowed/shard-id bookkeeping the pool
// needs and net.Conn for the actual I/O.
type echoConn struct {
	dpool.BaseConn
	net.Conn
}

func (c *echoConn) Open(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.ServerAddr().String())
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *echoConn) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

func newEchoFactory() dpool.Factory {
	return func(addr dpool.ServerAddress, connTimeout, dataTimeout time.Duration) dpool.Connection {
		return &echoConn{BaseConn: dpool.NewBaseConn(addr, connTimeout, dataTimeout)}
	}
}

// startEchoServer listens on an ephemeral port and echoes back whatever it
// reads. It returns the address to dial and a func to shut it down.
func startEchoServer() (dpool.ServerAddress, func(), error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return dpool.ServerAddress{}, nil, err
	}

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					if _, err := c.Write(buf[:n]); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	tcpAddr := l.Addr().(*net.TCPAddr)
	return dpool.ServerAddress{Host: "127.0.0.1", Port: tcpAddr.Port}, func() { l.Close() }, nil
}

func main() {
	flag.Parse()
	defer log.Flush()

	servers := make([]dpool.ServerAddress, 0, numServers)
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	for i := 0; i < numServers; i++ {
		addr, closeFn, err := startEchoServer()
		if err != nil {
			log.Fatalf("start echo server: %v", err)
		}
		servers = append(servers, addr)
		closers = append(closers, closeFn)
	}

	cfg := dpool.DefaultPoolConfig()
	cfg.MaxIdle = 4
	cfg.MaxActive = 8

	pool, err := dpool.New(servers, cfg, newEchoFactory(), dpool.WithName("demo-pool"))
	if err != nil {
		log.Fatalf("dpool.New: %v", err)
	}
	defer pool.Shutdown()

	metrics.Serve("127.0.0.1:2112", metrics.NewCollector(pool))

	cl := client.New(pool, client.WithCircuitBreaker(hystrix.CommandConfig{
		Timeout:                1000,
		MaxConcurrentRequests:  50,
		ErrorPercentThreshold:  50,
		RequestVolumeThreshold: 5,
		SleepWindow:            1000,
	}))

	for i := 0; i < 10; i++ {
		i := i
		err := cl.Do(context.Background(), func(conn dpool.Connection) error {
			ec := conn.(*echoConn)
			msg := []byte(fmt.Sprintf("ping-%d", i))
			if _, err := ec.Write(msg); err != nil {
				return err
			}
			buf := make([]byte, len(msg))
			_, err := ec.Read(buf)
			return err
		})
		if err != nil {
			log.Errorf("demo call %d failed: %v", i, err)
			continue
		}
		log.Infof("demo call %d ok", i)
	}

	for _, st := range pool.Stats() {
		log.Infof("stats %s: active=%d get=%d put=%d dial=%d dialFail=%d broken=%d evict=%d close=%d",
			st.Server, st.NumActive, st.NumGet, st.NumPut, st.NumDial, st.NumDialFail, st.NumBroken, st.NumEvict, st.NumClose)
	}

	if path := flag.Arg(0); path != "" {
		if srvs, altCfg, err := config.Load(path); err != nil {
			log.Errorf("config.Load(%s): %v", path, err)
		} else {
			log.Infof("loaded alternate config: %d servers, %+v", len(srvs), altCfg)
		}
	}
}
