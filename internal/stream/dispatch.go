package stream

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/simrig/simrig/internal/observability"
)

// ErrorHook receives every dispatch error together with the request that
// caused it. Its return value is the reply: ok=false writes nothing back,
// ok=true frames the text exactly like a normal command reply.
type ErrorHook func(request []byte, err error) (string, bool)

func swallowErrors(request []byte, err error) (string, bool) {
	return "", false
}

// dispatcher is the per-connection request state machine. It accumulates
// bytes until the input terminator, dispatches each complete request against
// the endpoint's binding table and queues the framed reply for writing.
// State is never shared across connections.
type dispatcher struct {
	id       string
	conn     net.Conn
	protocol string
	table    Table
	inTerm   []byte
	outTerm  []byte
	hook     ErrorHook
	log      zerolog.Logger

	buf []byte
	out []byte
}

func newDispatcher(conn net.Conn, ep *Endpoint) *dispatcher {
	id := uuid.NewString()
	return &dispatcher{
		id:       id,
		conn:     conn,
		protocol: ep.protocol,
		table:    ep.table,
		inTerm:   ep.inTerm,
		outTerm:  ep.outTerm,
		hook:     ep.hook,
		log:      ep.log.With().Str("conn", id).Logger(),
	}
}

// feed appends a received chunk and handles every complete request it
// closes. Bytes after the last terminator stay buffered for the next chunk.
func (d *dispatcher) feed(data []byte) {
	d.buf = append(d.buf, data...)
	for {
		i := bytes.Index(d.buf, d.inTerm)
		if i < 0 {
			return
		}
		request := append([]byte(nil), d.buf[:i]...)
		d.buf = d.buf[i+len(d.inTerm):]
		d.handle(request)
	}
}

func (d *dispatcher) handle(request []byte) {
	start := time.Now()

	reply, ok, err := d.dispatch(request)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		d.log.Debug().Err(err).Bytes("request", request).Msg("request failed")
		reply, ok = d.hook(request, err)
	}
	observability.RecordRequest(d.protocol, outcome, time.Since(start))

	if ok {
		d.out = append(d.out, reply...)
		d.out = append(d.out, d.outTerm...)
	}
}

// dispatch scans the binding table in declaration order and executes the
// first matching command. Panics raised by mappings or the bound callable
// are converted into dispatch errors so a misbehaving device member can
// never take the connection down.
func (d *dispatcher) dispatch(request []byte) (reply string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply, ok = "", false
			err = fmt.Errorf("%w: %v", ErrCommandPanic, r)
		}
	}()

	for _, cmd := range d.table {
		groups, matched := cmd.match(request)
		if !matched {
			continue
		}
		return cmd.invoke(groups)
	}
	return "", false, fmt.Errorf("%w: %q", ErrNoCommandMatched, request)
}

// flush writes pending output, keeping whatever a short write leaves behind.
func (d *dispatcher) flush(deadline time.Time) error {
	if len(d.out) == 0 {
		return nil
	}
	if err := d.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	n, err := d.conn.Write(d.out)
	d.out = d.out[n:]
	if err != nil {
		if isTimeout(err) {
			return nil
		}
		return err
	}
	return nil
}

func (d *dispatcher) close() {
	_ = d.conn.Close()
	d.buf = nil
	d.out = nil
}
