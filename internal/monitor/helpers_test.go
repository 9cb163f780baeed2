package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/lwaudit/internal/device"
)

type recordEntry struct {
	level   string
	device  string
	message string
}

// fakeRecorder captures audit records.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []recordEntry
}

func (f *fakeRecorder) Info(dev, msg string) { f.add("INFO", dev, msg) }
func (f *fakeRecorder) Warn(dev, msg string) { f.add("WARNING", dev, msg) }

func (f *fakeRecorder) add(level, dev, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordEntry{level: level, device: dev, message: msg})
}

func (f *fakeRecorder) all() []recordEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordEntry(nil), f.entries...)
}

func (f *fakeRecorder) messages(dev string) []string {
	var out []string
	for _, e := range f.all() {
		if e.device == dev {
			out = append(out, e.message)
		}
	}
	return out
}

func (f *fakeRecorder) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
}

// fakeLogger counts diagnostic errors and warnings.
type fakeLogger struct {
	mu     sync.Mutex
	errors int
	warns  int
}

func (l *fakeLogger) Debug(string, ...any) {}
func (l *fakeLogger) Info(string, ...any)  {}
func (l *fakeLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}
func (l *fakeLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func (l *fakeLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}

func (l *fakeLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warns
}

// fakeConn is a scripted Connection.
type fakeConn struct {
	addr     string
	loginErr error
	stopErr  error

	// loginStarted, when set, is closed as Login begins; Login then waits
	// for its context to end.
	loginStarted chan struct{}

	mu        sync.Mutex
	password  string
	handlers  map[device.PortType]device.BatchHandler
	stopCalls int
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: addr, handlers: make(map[device.PortType]device.BatchHandler)}
}

func (c *fakeConn) Login(ctx context.Context, password string) error {
	c.mu.Lock()
	c.password = password
	c.mu.Unlock()
	if c.loginStarted != nil {
		close(c.loginStarted)
		<-ctx.Done()
		return ctx.Err()
	}
	return c.loginErr
}

func (c *fakeConn) Subscribe(class device.PortType, h device.BatchHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[class] = h
	return nil
}

func (c *fakeConn) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
	return c.stopErr
}

// emit delivers a batch as the device would.
func (c *fakeConn) emit(class device.PortType, batch ...device.Port) {
	c.mu.Lock()
	h := c.handlers[class]
	c.mu.Unlock()
	if h != nil {
		h(batch)
	}
}

func (c *fakeConn) stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCalls
}

func (c *fakeConn) subscribed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

var errDialRefused = errors.New("dial refused")

// fakeConnector hands out fakeConns; addresses in refuse fail to connect.
type fakeConnector struct {
	mu     sync.Mutex
	conns  map[string]*fakeConn
	refuse map[string]bool
	calls  map[string]int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		conns:  make(map[string]*fakeConn),
		refuse: make(map[string]bool),
		calls:  make(map[string]int),
	}
}

func (f *fakeConnector) add(c *fakeConn) {
	f.mu.Lock()
	f.conns[c.addr] = c
	f.mu.Unlock()
}

func (f *fakeConnector) connect(_ context.Context, addr string) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[addr]++
	if f.refuse[addr] {
		return nil, errDialRefused
	}
	c, ok := f.conns[addr]
	if !ok {
		c = newFakeConn(addr)
		f.conns[addr] = c
	}
	return c, nil
}

func (f *fakeConnector) conn(addr string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[addr]
}

func gpi(num int, states ...string) device.Port {
	pins := make([]device.PinState, len(states))
	for i, s := range states {
		pins[i] = device.PinState{State: s}
	}
	return device.Port{Num: num, Type: device.PortGPI, PinStates: pins}
}

func source(num int, attrs map[string]string) device.Port {
	return device.Port{Num: num, Type: device.PortSource, Attributes: attrs}
}
