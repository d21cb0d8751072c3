package respkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"github.com/jonwraymond/tokencache/kv"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Addr of a Server. Required.
	Addr string

	// Timeout bounds one round trip when ctx has no deadline. Default: 5s
	Timeout time.Duration
}

// Client is a kv.Store talking to a Server over one connection.
//
// Requests are serialized on the connection. Use kv.Pool to give each
// worker its own Client. A connection that failed mid-request is dropped
// and redialed on the next call.
type Client struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	buf    []byte
	closed bool
}

// Dial connects to a Server.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("respkv: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Client{addr: cfg.Addr, timeout: cfg.Timeout}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Dialer adapts Dial for kv.Pool.
func Dialer(cfg ClientConfig) kv.Dialer {
	return func(ctx context.Context) (kv.Store, error) {
		return Dial(ctx, cfg)
	}
}

func (c *Client) connectLocked(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("respkv: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.buf = c.buf[:0]
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// do sends one command and hands the reply to fn while the lock is held;
// reply memory is only valid inside fn.
func (c *Client) do(ctx context.Context, fn func(redcon.RESP) error, args ...[]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return kv.ErrClosed
	}
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetDeadline(deadline)

	req := redcon.AppendArray(nil, len(args))
	for _, a := range args {
		req = redcon.AppendBulk(req, a)
	}
	if _, err := c.conn.Write(req); err != nil {
		c.dropLocked()
		return fmt.Errorf("respkv: write: %w", err)
	}

	resp, err := c.readLocked()
	if err != nil {
		c.dropLocked()
		return err
	}
	if resp.Type == redcon.Error {
		return replyError(string(resp.Data))
	}
	return fn(resp)
}

func (c *Client) readLocked() (redcon.RESP, error) {
	chunk := make([]byte, 4096)
	for {
		if n, resp := redcon.ReadNextRESP(c.buf); n > 0 {
			c.buf = c.buf[n:]
			return resp, nil
		}
		m, err := c.conn.Read(chunk)
		if m > 0 {
			c.buf = append(c.buf, chunk[:m]...)
			continue
		}
		if err != nil {
			return redcon.RESP{}, fmt.Errorf("respkv: read: %w", err)
		}
	}
}

func replyError(msg string) error {
	code, rest, _ := strings.Cut(msg, " ")
	switch code {
	case codeInvalidKey:
		return kv.ErrInvalidKey
	case codeKeyTooLong:
		return kv.ErrKeyTooLong
	case codeNotListing:
		return kv.ErrNotListable
	}
	if rest == "" {
		rest = msg
	}
	return fmt.Errorf("respkv: server: %s", rest)
}

func isNull(resp redcon.RESP) bool {
	return bytes.HasPrefix(resp.Raw, []byte("$-1")) || bytes.HasPrefix(resp.Raw, []byte("*-1"))
}

func toInt(resp redcon.RESP) (int, error) {
	if resp.Type != redcon.Integer {
		return 0, fmt.Errorf("respkv: expected integer reply, got %q", resp.Type)
	}
	return strconv.Atoi(string(resp.Data))
}

func (c *Client) Write(ctx context.Context, key string, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	return c.do(ctx, func(redcon.RESP) error { return nil }, []byte("SET"), []byte(key), value)
}

func (c *Client) Read(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, func(resp redcon.RESP) error {
		if isNull(resp) {
			return kv.ErrNotFound
		}
		out = bytes.Clone(resp.Data)
		if out == nil {
			out = []byte{}
		}
		return nil
	}, []byte("GET"), []byte(key))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.do(ctx, func(resp redcon.RESP) error {
		_, err := toInt(resp)
		return err
	}, []byte("DEL"), []byte(key))
}

func (c *Client) Has(ctx context.Context, key string) (bool, error) {
	var n int
	err := c.do(ctx, func(resp redcon.RESP) error {
		var err error
		n, err = toInt(resp)
		return err
	}, []byte("EXISTS"), []byte(key))
	return n > 0, err
}

func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := c.do(ctx, func(resp redcon.RESP) error {
		if resp.Type != redcon.Array {
			return fmt.Errorf("respkv: expected array reply, got %q", resp.Type)
		}
		resp.ForEach(func(item redcon.RESP) bool {
			keys = append(keys, string(item.Data))
			return true
		})
		return nil
	}, []byte("KEYS"), []byte(prefixGlob(prefix)))
	return keys, err
}

// Ping round-trips a PING.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, func(resp redcon.RESP) error {
		if string(resp.Data) != "PONG" {
			return fmt.Errorf("respkv: unexpected ping reply %q", resp.Data)
		}
		return nil
	}, []byte("PING"))
}

// Close sends QUIT and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetDeadline(time.Now().Add(time.Second))
	_, _ = c.conn.Write(redcon.AppendBulkString(redcon.AppendArray(nil, 1), "QUIT"))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Ensure Client implements kv.ListStore
var _ kv.ListStore = (*Client)(nil)
