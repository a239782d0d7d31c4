// Package netpipe carries pipe messages over a stream connection.
//
// Each message is one frame: a little-endian u32 length followed by the
// message bytes. Handles cannot cross a network connection, so writing a
// message that carries handles fails.
package netpipe

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/pipebind"
	"github.com/wippyai/pipebind/errors"
	"github.com/wippyai/pipebind/internal/signal"
)

// DefaultMaxFrameSize bounds a single frame.
const DefaultMaxFrameSize = 64 * 1024 * 1024

type options struct {
	maxFrameSize uint32
}

// Option configures a Conn.
type Option func(*options)

// WithMaxFrameSize sets the largest frame accepted in either direction.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{maxFrameSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Conn is a pipebind.Pipe over a net.Conn.
type Conn struct {
	conn     net.Conn
	watcher  *signal.Watcher
	readDone chan struct{}
	readErr  error
	queue    [][]byte
	opts     options
	writeMu  sync.Mutex
	mu       sync.Mutex
	closed   bool
	eof      bool
}

var _ pipebind.Pipe = (*Conn)(nil)

// New wraps conn and starts reading frames from it.
func New(conn net.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:     conn,
		opts:     buildOptions(opts),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindConnection, err, "dial "+addr)
	}
	Logger().Debug("connected", zap.String("addr", addr))
	return New(conn, opts...), nil
}

func (c *Conn) readLoop() {
	defer close(c.readDone)

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			c.finish(err)
			return
		}

		n := binary.LittleEndian.Uint32(header)
		if n == 0 || n > c.opts.maxFrameSize {
			c.finish(errors.New(errors.PhaseTransport, errors.KindProtocol).
				Detail("invalid frame length %d (max %d)", n, c.opts.maxFrameSize).Build())
			return
		}

		frame := make([]byte, n)
		if _, err := io.ReadFull(c.conn, frame); err != nil {
			c.finish(err)
			return
		}

		c.mu.Lock()
		c.queue = append(c.queue, frame)
		w := c.watcher
		c.mu.Unlock()
		if w != nil {
			w.Notify()
		}
	}
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	c.eof = true
	if err != io.EOF {
		c.readErr = err
	}
	closed := c.closed
	w := c.watcher
	c.mu.Unlock()

	if !closed && err != io.EOF {
		Logger().Debug("read loop stopped", zap.Error(err))
	}
	if w != nil {
		w.Notify()
	}
}

// Err returns the error that stopped the read loop, if any other than EOF.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// WriteMessage sends buffer as one frame.
func (c *Conn) WriteMessage(buffer []byte, handles []pipebind.Handle) pipebind.Result {
	if len(handles) > 0 {
		Logger().Warn("cannot write message",
			zap.Error(errors.Unsupported(errors.PhaseTransport, "handles cannot be sent over a network connection")))
		return pipebind.ResultInvalidArgument
	}
	if uint64(len(buffer)) > uint64(c.opts.maxFrameSize) || len(buffer) == 0 {
		return pipebind.ResultInvalidArgument
	}

	c.mu.Lock()
	closed, eof := c.closed, c.eof
	c.mu.Unlock()
	if closed {
		return pipebind.ResultInvalidArgument
	}
	if eof {
		return pipebind.ResultFailedPrecondition
	}

	frame := make([]byte, 4+len(buffer))
	binary.LittleEndian.PutUint32(frame, uint32(len(buffer)))
	copy(frame[4:], buffer)

	c.writeMu.Lock()
	_, err := c.conn.Write(frame)
	c.writeMu.Unlock()
	if err != nil {
		Logger().Debug("write failed", zap.Error(err))
		return pipebind.ResultFailedPrecondition
	}
	return pipebind.ResultOK
}

// ReadMessage takes the oldest received frame.
func (c *Conn) ReadMessage() pipebind.ReadResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return pipebind.ReadResult{Result: pipebind.ResultInvalidArgument}
	case len(c.queue) > 0:
		frame := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		return pipebind.ReadResult{Buffer: frame, Result: pipebind.ResultOK}
	case c.eof:
		return pipebind.ReadResult{Result: pipebind.ResultFailedPrecondition}
	default:
		return pipebind.ReadResult{Result: pipebind.ResultShouldWait}
	}
}

func (c *Conn) poll() pipebind.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return pipebind.ResultShouldWait
	case len(c.queue) > 0:
		return pipebind.ResultOK
	case c.eof:
		return pipebind.ResultFailedPrecondition
	default:
		return pipebind.ResultShouldWait
	}
}

// Watch starts invoking callback when a frame arrives or the connection
// ends. A new watch replaces the previous one.
func (c *Conn) Watch(_ pipebind.WatchSignals, callback func(pipebind.Result)) pipebind.Watcher {
	c.mu.Lock()
	old := c.watcher
	c.watcher = signal.Start(c.poll, callback)
	w := c.watcher
	c.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	return w
}

// Close closes the connection and stops the watch.
func (c *Conn) Close() pipebind.Result {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return pipebind.ResultInvalidArgument
	}
	c.closed = true
	w := c.watcher
	c.watcher = nil
	c.queue = nil
	c.mu.Unlock()

	if w != nil {
		w.Cancel()
	}
	c.conn.Close()
	<-c.readDone
	return pipebind.ResultOK
}

// RemoteAddr returns the address of the other side.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Listener accepts framed connections.
type Listener struct {
	ln   net.Listener
	opts []Option
}

// Listen listens for TCP connections on addr.
func Listen(addr string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindConnection, err, "listen "+addr)
	}
	return NewListener(ln, opts...), nil
}

// NewListener wraps an existing listener.
func NewListener(ln net.Listener, opts ...Option) *Listener {
	return &Listener{ln: ln, opts: opts}
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	Logger().Debug("accepted", zap.Stringer("remote", conn.RemoteAddr()))
	return New(conn, l.opts...), nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
func (l *Listener) Close() error   { return l.ln.Close() }
