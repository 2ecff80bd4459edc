package stream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/simrig/simrig/internal/logging"
	"github.com/simrig/simrig/internal/observability"
)

const readChunkSize = 4096

// Config is the endpoint option set.
type Config struct {
	BindAddress      string
	Port             int
	InTerminator     string
	OutTerminator    string
	AllowPrefixMatch bool
}

// DefaultConfig returns the stream endpoint defaults: listen on all
// interfaces, port 9999, carriage-return framing in both directions, and
// full-request pattern matching.
func DefaultConfig() Config {
	return Config{
		BindAddress:      "0.0.0.0",
		Port:             9999,
		InTerminator:     "\r",
		OutTerminator:    "\r",
		AllowPrefixMatch: false,
	}
}

// WithOptions overlays a generic option set onto the config. Unrecognized
// keys are rejected, as are values of the wrong type.
func (c Config) WithOptions(opts map[string]any) (Config, error) {
	for key, val := range opts {
		switch key {
		case "bind_address":
			s, ok := val.(string)
			if !ok {
				return Config{}, badOption(key, val)
			}
			c.BindAddress = s
		case "port":
			switch v := val.(type) {
			case int:
				c.Port = v
			case int64:
				c.Port = int(v)
			default:
				return Config{}, badOption(key, val)
			}
		case "in_terminator":
			s, ok := val.(string)
			if !ok {
				return Config{}, badOption(key, val)
			}
			c.InTerminator = s
		case "out_terminator":
			s, ok := val.(string)
			if !ok {
				return Config{}, badOption(key, val)
			}
			c.OutTerminator = s
		case "allow_prefix_match":
			b, ok := val.(bool)
			if !ok {
				return Config{}, badOption(key, val)
			}
			c.AllowPrefixMatch = b
		default:
			return Config{}, fmt.Errorf("%w: %q", ErrUnknownOption, key)
		}
	}
	return c, nil
}

func badOption(key string, val any) error {
	return fmt.Errorf("%w: %s=%v", ErrBadOptionValue, key, val)
}

func (c Config) validate() error {
	if c.InTerminator == "" {
		return fmt.Errorf("%w: in_terminator must not be empty", ErrBadOptionValue)
	}
	if c.OutTerminator == "" {
		return fmt.Errorf("%w: out_terminator must not be empty", ErrBadOptionValue)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrBadOptionValue, c.Port)
	}
	return nil
}

func (c Config) addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// Endpoint exposes one device over a line-oriented TCP protocol. It owns the
// listener, the immutable binding table and the error hook. The command
// table is validated and bound before any socket is opened, so a
// misconfigured protocol never starts listening.
//
// All I/O runs inside RunCycle on the caller's goroutine; the endpoint never
// spawns its own.
type Endpoint struct {
	protocol string
	cfg      Config
	table    Table
	hook     ErrorHook
	log      zerolog.Logger
	inTerm   []byte
	outTerm  []byte

	ln      *net.TCPListener
	conns   []*dispatcher
	readBuf []byte
}

// New binds the command table against the given targets (consulted in
// order) and returns a stopped endpoint. Binding failures and invalid
// configs abort construction entirely.
func New(protocol string, cfg Config, specs []Spec, targets ...Target) (*Endpoint, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mode := MatchFull
	if cfg.AllowPrefixMatch {
		mode = MatchPrefix
	}
	table, err := BindCommands(specs, mode, targets...)
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		protocol: protocol,
		cfg:      cfg,
		table:    table,
		hook:     swallowErrors,
		log:      logging.Component("stream").With().Str("protocol", protocol).Logger(),
		inTerm:   []byte(cfg.InTerminator),
		outTerm:  []byte(cfg.OutTerminator),
		readBuf:  make([]byte, readChunkSize),
	}, nil
}

// SetErrorHook replaces the default swallow-everything hook. Must be called
// before the endpoint starts serving.
func (e *Endpoint) SetErrorHook(hook ErrorHook) {
	if hook == nil {
		hook = swallowErrors
	}
	e.hook = hook
}

func (e *Endpoint) Protocol() string { return e.protocol }

func (e *Endpoint) Running() bool { return e.ln != nil }

// Commands returns the endpoint's binding table in declaration order.
func (e *Endpoint) Commands() Table { return e.table }

// Addr returns the bound listener address, or nil while stopped.
func (e *Endpoint) Addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Start opens the listener socket.
func (e *Endpoint) Start() error {
	if e.ln != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyListening, e.protocol)
	}
	ln, err := net.Listen("tcp", e.cfg.addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", e.cfg.addr(), err)
	}
	e.ln = ln.(*net.TCPListener)
	e.log.Info().Str("addr", e.cfg.addr()).Msg("listening")
	return nil
}

// Stop closes the listener and every live connection, releasing all OS
// resources held by the endpoint.
func (e *Endpoint) Stop() error {
	if e.ln == nil {
		return fmt.Errorf("%w: %s", ErrEndpointStopped, e.protocol)
	}
	err := e.ln.Close()
	e.ln = nil
	for _, d := range e.conns {
		d.close()
	}
	e.conns = nil
	e.log.Info().Msg("stopped")
	return err
}

// RunCycle performs one bounded pass over pending network readiness: accept
// new connections, read and dispatch available bytes on existing ones in
// accept order, and flush pending replies. The time budget is split evenly
// between the accept poll and the live connections; no call blocks past its
// share, so RunCycle returns within the budget even when no socket is ready.
func (e *Endpoint) RunCycle(budget time.Duration) error {
	if e.ln == nil {
		return fmt.Errorf("%w: %s", ErrEndpointStopped, e.protocol)
	}

	deadline := time.Now().Add(budget)
	slice := budget / time.Duration(1+len(e.conns))

	e.acceptReady(slice)

	alive := e.conns[:0]
	for _, d := range e.conns {
		if e.serveConn(d, slice, deadline) {
			alive = append(alive, d)
		}
	}
	e.conns = alive
	return nil
}

// acceptReady waits up to wait for one inbound connection, then drains any
// further already-pending ones without waiting.
func (e *Endpoint) acceptReady(wait time.Duration) {
	if err := e.ln.SetDeadline(time.Now().Add(wait)); err != nil {
		return
	}
	for {
		conn, err := e.ln.AcceptTCP()
		if err != nil {
			if !isTimeout(err) && !errors.Is(err, net.ErrClosed) {
				e.log.Error().Err(err).Msg("accept failed")
			}
			return
		}
		d := newDispatcher(conn, e)
		e.conns = append(e.conns, d)
		observability.RecordConnection(e.protocol)
		e.log.Info().Str("conn", d.id).Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		_ = e.ln.SetDeadline(time.Now())
	}
}

// serveConn reads and dispatches what one connection has ready, then
// flushes its pending output. Returns false when the connection is gone.
func (e *Endpoint) serveConn(d *dispatcher, wait time.Duration, deadline time.Time) bool {
	readDeadline := time.Now().Add(wait)
	if readDeadline.After(deadline) {
		readDeadline = deadline
	}

	for {
		if err := d.conn.SetReadDeadline(readDeadline); err != nil {
			d.close()
			return false
		}
		n, err := d.conn.Read(e.readBuf)
		if n > 0 {
			d.feed(e.readBuf[:n])
		}
		if err != nil {
			if isTimeout(err) {
				break
			}
			if errors.Is(err, io.EOF) {
				e.log.Info().Str("conn", d.id).Msg("client disconnected")
			} else {
				e.log.Warn().Str("conn", d.id).Err(err).Msg("connection failed")
			}
			d.close()
			return false
		}
		// Something was ready; drain the rest without waiting.
		readDeadline = time.Now()
	}

	if err := d.flush(deadline); err != nil {
		e.log.Warn().Str("conn", d.id).Err(err).Msg("write failed")
		d.close()
		return false
	}
	return true
}

// Documentation renders the endpoint's commands and listen parameters for
// operator-facing output.
func (e *Endpoint) Documentation() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Protocol: %s\n", e.protocol)
	fmt.Fprintf(&b, "Listening on: %s\n", e.cfg.BindAddress)
	fmt.Fprintf(&b, "Port: %d\n", e.cfg.Port)
	fmt.Fprintf(&b, "Request terminator: %q\n", e.cfg.InTerminator)
	fmt.Fprintf(&b, "Reply terminator: %q\n", e.cfg.OutTerminator)
	b.WriteString("\nCommands:\n")
	for _, cmd := range e.table {
		fmt.Fprintf(&b, "  %s", cmd.Source())
		if doc := cmd.Doc(); doc != "" {
			fmt.Fprintf(&b, "  %s", doc)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
