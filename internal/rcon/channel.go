package rcon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorcon/rcon"

	"hatbot/internal/fault"
	"hatbot/internal/storage"
	logx "hatbot/pkg/logx"
)

var (
	ErrUnavailable   = errors.New("server unavailable")
	ErrUnknownServer = errors.New("unknown server")
)

const (
	DefaultTimeout = 5 * time.Second
	defaultPort    = "27015"
)

// ServerLookup finds registered servers by id.
type ServerLookup interface {
	GetServer(ctx context.Context, id string) (storage.Server, bool, error)
}

// Conn is an open RCON session.
type Conn interface {
	Execute(command string) (string, error)
	Close() error
}

// DialFunc opens a session. timeout bounds both dial and each exchange.
type DialFunc func(ctx context.Context, addr, password string, timeout time.Duration) (Conn, error)

func gorconDial(_ context.Context, addr, password string, timeout time.Duration) (Conn, error) {
	conn, err := rcon.Dial(addr, password, rcon.SetDialTimeout(timeout), rcon.SetDeadline(timeout))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type serverConn struct {
	mu       sync.Mutex
	conn     Conn
	addr     string
	password string
}

// Channel sends commands to servers, keeping one connection per server.
// Calls to the same server are serialized; different servers run in parallel.
type Channel struct {
	log     logx.Logger
	servers ServerLookup
	dial    DialFunc
	timeout atomic.Int64

	mu    sync.Mutex
	conns map[string]*serverConn
}

type Option func(*Channel)

// WithDialer replaces the network dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Channel) {
		if d != nil {
			c.dial = d
		}
	}
}

func NewChannel(servers ServerLookup, timeout time.Duration, log logx.Logger, opts ...Option) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Channel{
		log:     log.With(logx.String("comp", "rcon")),
		servers: servers,
		dial:    gorconDial,
		conns:   map[string]*serverConn{},
	}
	for _, o := range opts {
		o(c)
	}
	c.SetTimeout(timeout)
	return c
}

// SetTimeout changes the dial/exchange deadline for new exchanges.
func (c *Channel) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.timeout.Store(int64(d))
}

// Send runs command on the server and returns its reply. An empty reply is
// not an error.
func (c *Channel) Send(ctx context.Context, serverID, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := storage.NormalizeServerID(serverID)
	srv, ok, err := c.servers.GetServer(ctx, id)
	if err != nil {
		return "", fault.Wrap(fault.Persistence, fmt.Errorf("lookup server %s: %w", id, err))
	}
	if !ok {
		return "", fault.Wrap(fault.Validation, fmt.Errorf("%w: %s", ErrUnknownServer, id))
	}

	sc := c.connFor(id)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	addr := withPort(srv.Address)
	timeout := time.Duration(c.timeout.Load())
	start := time.Now()

	// A cached connection that turns out closed is redialed once. Anything
	// else, timeouts included, may have reached the server and is not resent.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		reused := sc.conn != nil && sc.addr == addr && sc.password == srv.RconPassword
		if !reused {
			sc.drop()
			conn, err := c.dial(ctx, addr, srv.RconPassword, timeout)
			if err != nil {
				lastErr = err
				break
			}
			sc.conn, sc.addr, sc.password = conn, addr, srv.RconPassword
		}
		reply, err := sc.conn.Execute(command)
		if err == nil {
			c.log.Debug("rcon sent", logx.String("server", id), logx.String("cmd", command), logx.Duration("took", time.Since(start)), logx.Int("reply_len", len(reply)))
			return reply, nil
		}
		lastErr = err
		sc.drop()
		if !reused || !staleConn(err) {
			break
		}
		c.log.Debug("rcon connection stale, redialing", logx.String("server", id), logx.Err(err))
	}

	c.log.Warn("rcon failed", logx.String("server", id), logx.String("cmd", command), logx.Err(lastErr))
	return "", fault.Wrap(fault.RemoteUnavailable, fmt.Errorf("%w: %s: %v", ErrUnavailable, id, lastErr))
}

// SendBatch joins commands with ';' and sends them as one exchange.
func (c *Channel) SendBatch(ctx context.Context, serverID string, commands ...string) (string, error) {
	return c.Send(ctx, serverID, strings.Join(commands, ";"))
}

// Close drops every cached connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = map[string]*serverConn{}
	c.mu.Unlock()
	for _, sc := range conns {
		sc.mu.Lock()
		sc.drop()
		sc.mu.Unlock()
	}
	return nil
}

func (c *Channel) connFor(id string) *serverConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.conns[id]
	if !ok {
		sc = &serverConn{}
		c.conns[id] = sc
	}
	return sc
}

func (sc *serverConn) drop() {
	if sc.conn != nil {
		_ = sc.conn.Close()
	}
	sc.conn = nil
}

// staleConn reports errors of a connection the server already closed.
func staleConn(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

func withPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultPort)
}

// ServerIDFromAddress derives a server id from a host address: the part
// before the first '.', lowercased.
func ServerIDFromAddress(addr string) string {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	return storage.NormalizeServerID(host)
}
