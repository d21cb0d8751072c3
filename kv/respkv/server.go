// Package respkv exposes a kv.Store over the Redis serialization protocol
// and provides the matching client.
//
// The server lets several worker processes share one embedded store (a
// bbolt file can only be opened by one process). Only the commands the
// client needs are served: GET, SET, DEL, EXISTS, KEYS, PING and QUIT.
package respkv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tidwall/redcon"

	"github.com/jonwraymond/tokencache/kv"
	"github.com/jonwraymond/tokencache/observe"
)

// Error codes carried in RESP error replies.
const (
	codeInvalidKey = "INVALIDKEY"
	codeKeyTooLong = "KEYTOOLONG"
	codeNotListing = "NOLIST"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Addr to listen on, e.g. ":6380". Use "127.0.0.1:0" for an ephemeral port.
	Addr string

	// Logger for connection errors. Optional.
	Logger observe.Logger
}

// Server serves a kv.Store over RESP.
type Server struct {
	store  kv.Store
	logger observe.Logger
	srv    *redcon.Server
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds a server for store. It does not listen until Start.
func NewServer(store kv.Store, cfg ServerConfig) (*Server, error) {
	if store == nil {
		return nil, errors.New("respkv: store is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("respkv: listen address is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{store: store, logger: cfg.Logger, ctx: ctx, cancel: cancel}
	s.srv = redcon.NewServerNetwork("tcp", cfg.Addr, s.serve,
		func(redcon.Conn) bool { return true },
		func(conn redcon.Conn, err error) {
			if err != nil && s.logger != nil {
				s.logger.Warn(s.ctx, "resp connection closed",
					observe.Field{Key: "remote", Value: conn.RemoteAddr()},
					observe.Field{Key: "error", Value: err.Error()})
			}
		})
	return s, nil
}

// Start listens and serves in the background. It returns once the listener
// is bound, or with the bind error.
func (s *Server) Start() error {
	signal := make(chan error, 1)
	go func() {
		if err := s.srv.ListenServeAndSignal(signal); err != nil && s.logger != nil {
			s.logger.Error(s.ctx, "resp server stopped", observe.Field{Key: "error", Value: err.Error()})
		}
	}()
	return <-signal
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() net.Addr {
	return s.srv.Addr()
}

// Close stops accepting connections and cancels in-flight store calls. The
// store itself is not closed.
func (s *Server) Close() error {
	s.cancel()
	return s.srv.Close()
}

func (s *Server) serve(conn redcon.Conn, cmd redcon.Command) {
	ctx := s.ctx
	args := cmd.Args[1:]

	switch strings.ToUpper(string(cmd.Args[0])) {
	case "PING":
		conn.WriteString("PONG")

	case "QUIT":
		conn.WriteString("OK")
		_ = conn.Close()

	case "GET":
		if len(args) != 1 {
			writeArity(conn, "get")
			return
		}
		value, err := s.store.Read(ctx, string(args[0]))
		switch {
		case kv.IsNotFound(err):
			conn.WriteNull()
		case err != nil:
			writeError(conn, err)
		default:
			conn.WriteBulk(value)
		}

	case "SET":
		if len(args) != 2 {
			writeArity(conn, "set")
			return
		}
		if err := s.store.Write(ctx, string(args[0]), args[1]); err != nil {
			writeError(conn, err)
			return
		}
		conn.WriteString("OK")

	case "DEL":
		if len(args) < 1 {
			writeArity(conn, "del")
			return
		}
		deleted := 0
		for _, key := range args {
			ok, err := s.store.Has(ctx, string(key))
			if err != nil {
				writeError(conn, err)
				return
			}
			if err := s.store.Delete(ctx, string(key)); err != nil {
				writeError(conn, err)
				return
			}
			if ok {
				deleted++
			}
		}
		conn.WriteInt(deleted)

	case "EXISTS":
		if len(args) < 1 {
			writeArity(conn, "exists")
			return
		}
		found := 0
		for _, key := range args {
			ok, err := s.store.Has(ctx, string(key))
			if err != nil {
				writeError(conn, err)
				return
			}
			if ok {
				found++
			}
		}
		conn.WriteInt(found)

	case "KEYS":
		if len(args) != 1 {
			writeArity(conn, "keys")
			return
		}
		lister, ok := s.store.(kv.Lister)
		if !ok {
			conn.WriteError(codeNotListing + " store cannot list keys")
			return
		}
		prefix, err := globPrefix(string(args[0]))
		if err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
		keys, err := lister.Keys(ctx, prefix)
		if err != nil {
			writeError(conn, err)
			return
		}
		conn.WriteArray(len(keys))
		for _, k := range keys {
			conn.WriteBulkString(k)
		}

	default:
		conn.WriteError(fmt.Sprintf("ERR unknown command '%s'", cmd.Args[0]))
	}
}

func writeArity(conn redcon.Conn, cmd string) {
	conn.WriteError("ERR wrong number of arguments for '" + cmd + "' command")
}

func writeError(conn redcon.Conn, err error) {
	switch {
	case errors.Is(err, kv.ErrInvalidKey):
		conn.WriteError(codeInvalidKey + " " + err.Error())
	case errors.Is(err, kv.ErrKeyTooLong):
		conn.WriteError(codeKeyTooLong + " " + err.Error())
	default:
		conn.WriteError("ERR " + err.Error())
	}
}

// globPrefix accepts the patterns produced by prefixGlob: an escaped literal
// prefix followed by a single '*'.
func globPrefix(pattern string) (string, error) {
	if !strings.HasSuffix(pattern, "*") {
		return "", fmt.Errorf("only prefix patterns are supported: %q", pattern)
	}
	body := pattern[:len(pattern)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch c {
		case '\\':
			if i+1 >= len(body) {
				return "", fmt.Errorf("dangling escape in %q", pattern)
			}
			i++
			b.WriteByte(body[i])
		case '*', '?', '[', ']':
			return "", fmt.Errorf("only prefix patterns are supported: %q", pattern)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// prefixGlob builds the KEYS pattern matching every key with prefix.
func prefixGlob(prefix string) string {
	var b strings.Builder
	for i := 0; i < len(prefix); i++ {
		switch c := prefix[i]; c {
		case '\\', '*', '?', '[', ']':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('*')
	return b.String()
}
