package lwrp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lwaudit/internal/device"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default settings for LWRP sessions.
const (
	// DefaultPort is the LWRP TCP port.
	DefaultPort = 93

	// defaultConnectTimeout is the maximum time to wait for the TCP session.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for sending one command.
	defaultWriteTimeout = 5 * time.Second

	// defaultQueueSize is the number of batches buffered for the dispatcher.
	defaultQueueSize = 100

	// maxLineLength bounds a single protocol line.
	maxLineLength = 64 * 1024

	// controlQueueSize buffers VER/ERROR replies for Login.
	controlQueueSize = 8
)

// subscribeCommands maps an event class to the command that requests it.
var subscribeCommands = map[device.PortType]string{
	device.PortGPI:         "ADD GPI",
	device.PortGPO:         "ADD GPO",
	device.PortSource:      "SRC",
	device.PortDestination: "DST",
}

// Config holds LWRP session configuration.
type Config struct {
	// Address is the device host or IP. A "host:port" value overrides Port.
	Address string

	// Port is the LWRP TCP port.
	// Default: 93.
	Port int

	// ConnectTimeout is the maximum time to wait for the TCP session.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// QueueSize is the number of batches buffered between the reader and
	// the dispatcher. A full queue blocks the reader.
	// Default: 100.
	QueueSize int
}

// Stats holds operational statistics.
type Stats struct {
	LinesRx           uint64
	BatchesDispatched uint64
	ErrorsTotal       uint64
	LastActivity      time.Time
	Connected         bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// batch is one group of same-class ports queued for dispatch.
type batch struct {
	class device.PortType
	ports []device.Port
}

// Client is one LWRP session with a Livewire device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers are invoked from a single dispatcher goroutine, in order.
type Client struct {
	cfg  Config
	addr string
	conn net.Conn

	connMu    sync.RWMutex
	connected bool

	writeMu sync.Mutex

	handlers   map[device.PortType][]device.BatchHandler
	handlersMu sync.RWMutex

	queue   chan batch
	control chan string

	done     *closeOnce
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	linesRx           atomic.Uint64
	batchesDispatched atomic.Uint64
	errorsTotal       atomic.Uint64
	lastActivity      atomic.Int64
}

// Dial opens an LWRP session with a device.
//
// The context bounds the TCP connect together with ConnectTimeout. Once
// connected, the client starts reading lines in the background; call Login
// and Subscribe next.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrConnectionFailed)
	}
	addr := dialAddress(cfg.Address, cfg.Port)

	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	c := newClient(cfg, addr, conn)
	c.start()
	return c, nil
}

func newClient(cfg Config, addr string, conn net.Conn) *Client {
	c := &Client{
		cfg:       cfg,
		addr:      addr,
		conn:      conn,
		connected: true,
		handlers:  make(map[device.PortType][]device.BatchHandler),
		queue:     make(chan batch, cfg.QueueSize),
		control:   make(chan string, controlQueueSize),
		done:      newCloseOnce(),
	}
	c.lastActivity.Store(time.Now().Unix())
	return c
}

func (c *Client) start() {
	c.wg.Add(2)
	go c.dispatchLoop()
	go c.receiveLoop()
}

// dialAddress joins host and port unless the address already names a port.
func dialAddress(address string, port int) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// Login authenticates the session.
//
// With a password, "LOGIN <password>" is sent; a "VER" probe follows in all
// cases. The device answers the probe with a VER line on success, while an
// ERROR line before it means the login was rejected. The context bounds the
// wait for the reply.
func (c *Client) Login(ctx context.Context, password string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.drainControl()

	if password != "" {
		if err := c.send(ctx, "LOGIN "+password); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
	}
	if err := c.send(ctx, verbVER); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	for {
		select {
		case line := <-c.control:
			switch lineVerb(line) {
			case verbVER:
				return nil
			case verbError:
				return fmt.Errorf("%w: %s", ErrAuthFailed, line)
			}
		case <-c.done.Done():
			return fmt.Errorf("%w: %w", ErrAuthFailed, ErrNotConnected)
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrAuthFailed, ctx.Err())
		}
	}
}

// Subscribe registers a handler for one event class and asks the device to
// report it. Multiple handlers per class are called in registration order.
func (c *Client) Subscribe(class device.PortType, handler device.BatchHandler) error {
	cmd, ok := subscribeCommands[class]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedClass, class)
	}
	if handler == nil {
		return errors.New("lwrp: nil handler")
	}

	c.handlersMu.Lock()
	c.handlers[class] = append(c.handlers[class], handler)
	c.handlersMu.Unlock()

	if err := c.send(context.Background(), cmd); err != nil {
		return fmt.Errorf("subscribing to %s: %w", class, err)
	}
	return nil
}

// send writes one command line.
func (c *Client) send(ctx context.Context, cmd string) error {
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	c.connMu.RUnlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := io.WriteString(conn, cmd+"\n"); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("write: %w", err)
	}

	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// receiveLoop reads lines until the session ends and groups indications into
// batches. A batch is flushed when the class changes or when no more data is
// buffered from the current read.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	reader := bufio.NewReaderSize(c.conn, 4096)
	var pending batch

	flush := func() bool {
		if len(pending.ports) == 0 {
			return true
		}
		b := pending
		pending = batch{}
		select {
		case c.queue <- b:
			return true
		case <-c.done.Done():
			return false
		}
	}

	for {
		line, err := readLine(reader)
		if err != nil {
			flush()
			c.handleReadError(err)
			return
		}

		c.linesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		if line == "" {
			continue
		}

		switch verb := lineVerb(line); verb {
		case verbGPI, verbGPO, verbSRC, verbDST:
			port, perr := ParseLine(line)
			if perr != nil {
				c.errorsTotal.Add(1)
				c.logWarn("skipping unparseable line", "device", c.addr, "error", perr)
				break
			}
			if port.Type != pending.class && !flush() {
				return
			}
			pending.class = port.Type
			pending.ports = append(pending.ports, port)
		case verbVER, verbError:
			if verb == verbError {
				c.logWarn("device reported error", "device", c.addr, "line", line)
			}
			select {
			case c.control <- line:
			default:
			}
		default:
			c.logDebug("ignoring line", "device", c.addr, "line", line)
		}

		if reader.Buffered() == 0 && !flush() {
			return
		}
	}
}

// readLine reads one line without its terminator. Lines longer than
// maxLineLength are truncated.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		if len(buf) < maxLineLength {
			buf = append(buf, chunk...)
		}
		if !isPrefix {
			break
		}
	}
	if len(buf) > maxLineLength {
		buf = buf[:maxLineLength]
	}
	return string(buf), nil
}

// handleReadError marks the session lost unless the client is stopping.
func (c *Client) handleReadError(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if c.isClosed() || !wasConnected {
		return
	}

	if errors.Is(err, io.EOF) {
		c.logInfo("device closed the session", "device", c.addr)
		return
	}
	c.errorsTotal.Add(1)
	c.logError("read failed", err)
}

// dispatchLoop delivers batches to handlers one at a time.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case b := <-c.queue:
			c.dispatch(b)
		}
	}
}

func (c *Client) dispatch(b batch) {
	c.handlersMu.RLock()
	handlers := c.handlers[b.class]
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.errorsTotal.Add(1)
					c.logError("batch handler panic", fmt.Errorf("%v", r))
				}
			}()
			h(b.ports)
		}()
	}
	c.batchesDispatched.Add(1)
}

// drainControl discards stale control replies.
func (c *Client) drainControl() {
	for {
		select {
		case <-c.control:
		default:
			return
		}
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Stop closes the session and waits for the background goroutines.
// Batches still queued are discarded. Safe to call multiple times.
func (c *Client) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.done.Close()

		c.connMu.Lock()
		c.connected = false
		conn := c.conn
		c.connMu.Unlock()

		if conn != nil {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = fmt.Errorf("closing %s: %w", c.addr, cerr)
			}
		}

		c.wg.Wait()
		c.logDebug("session closed", "device", c.addr)
	})
	return err
}

// Address returns the dialled "host:port".
func (c *Client) Address() string {
	return c.addr
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true while the session is open.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		LinesRx:           c.linesRx.Load(),
		BatchesDispatched: c.batchesDispatched.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
		LastActivity:      time.Unix(c.lastActivity.Load(), 0),
		Connected:         c.IsConnected(),
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, "device", c.addr, "error", err)
	}
}
