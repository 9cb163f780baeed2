package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/lwaudit/internal/device"
)

// Audit messages written by the registry.
const (
	MsgConnected     = "Connected to LWRP"
	MsgCannotConnect = "Cannot connect to LWRP"
	MsgLoggedIn      = "Logged in to LWRP"
	MsgCannotLogin   = "Cannot login to LWRP"
	MsgDisconnecting = "Disconnecting from LWRP device"
)

// Connection is one control session with a device.
type Connection interface {
	Login(ctx context.Context, password string) error
	Subscribe(class device.PortType, handler device.BatchHandler) error
	Stop() error
}

// Connector opens a Connection to the device at address.
type Connector func(ctx context.Context, address string) (Connection, error)

// Status is the lifecycle state of a configured device.
type Status string

// Device statuses.
const (
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusConnectFailed Status = "connect_failed"
	StatusLoginFailed   Status = "login_failed"
	StatusStopped       Status = "stopped"
)

// DeviceStatus describes one configured device.
type DeviceStatus struct {
	Address string    `json:"address"`
	Status  Status    `json:"status"`
	Since   time.Time `json:"since"`
	Error   string    `json:"error,omitempty"`
}

// RegistryConfig bounds the one-shot connect and login attempts.
// Zero means no extra timeout beyond the Start context.
type RegistryConfig struct {
	ConnectTimeout time.Duration
	LoginTimeout   time.Duration
}

type entry struct {
	conn   Connection
	status DeviceStatus
}

// Registry owns the configured devices and their connections.
type Registry struct {
	connector Connector
	detector  *Detector
	recorder  Recorder
	cfg       RegistryConfig
	logger    Logger

	mu      sync.RWMutex
	devices map[string]*entry
	order   []string
	stopped bool

	stopOnce sync.Once
	stopErr  error
}

// NewRegistry creates a registry. A nil logger discards diagnostics.
func NewRegistry(connector Connector, detector *Detector, rec Recorder, cfg RegistryConfig, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		connector: connector,
		detector:  detector,
		recorder:  rec,
		cfg:       cfg,
		logger:    logger,
		devices:   make(map[string]*entry),
	}
}

// Start connects, logs in and subscribes every unique device in order.
// Later duplicates of an address are ignored. A device that fails to
// connect or log in gets a warning record and is skipped for the rest of
// the session. Start returns early with the context error when ctx is
// cancelled, and with ErrRegistryStopped when Stop was called.
func (r *Registry) Start(ctx context.Context, descriptors []device.Descriptor) error {
	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := r.claim(d.Address)
		if err != nil {
			return err
		}
		if !ok {
			r.logger.Debug("duplicate device ignored", "device", d.Address)
			continue
		}
		if err := r.startDevice(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// claim reserves an address. It returns false for duplicates.
func (r *Registry) claim(addr string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false, ErrRegistryStopped
	}
	if _, dup := r.devices[addr]; dup {
		return false, nil
	}
	r.devices[addr] = &entry{status: DeviceStatus{Address: addr, Status: StatusConnecting, Since: time.Now()}}
	r.order = append(r.order, addr)
	return true, nil
}

func (r *Registry) startDevice(ctx context.Context, d device.Descriptor) error {
	addr := d.Address

	connectCtx, cancel := withOptionalTimeout(ctx, r.cfg.ConnectTimeout)
	conn, err := r.connector(connectCtx, addr)
	cancel()
	if err != nil {
		conn = nil
	}
	if ierr := r.interrupted(ctx); ierr != nil {
		r.abandon(addr, conn)
		return ierr
	}
	if err != nil {
		r.setStatus(addr, StatusConnectFailed, err)
		r.recorder.Warn(addr, MsgCannotConnect)
		r.logger.Warn("connect failed", "device", addr, "error", err)
		return nil
	}
	r.recorder.Info(addr, MsgConnected)

	loginCtx, cancel := withOptionalTimeout(ctx, r.cfg.LoginTimeout)
	err = conn.Login(loginCtx, d.Password)
	cancel()
	if ierr := r.interrupted(ctx); ierr != nil {
		r.recorder.Info(addr, MsgDisconnecting)
		r.abandon(addr, conn)
		return ierr
	}
	if err != nil {
		r.setStatus(addr, StatusLoginFailed, err)
		r.recorder.Warn(addr, MsgCannotLogin)
		r.logger.Warn("login failed", "device", addr, "error", err)
		if serr := conn.Stop(); serr != nil {
			r.logger.Warn("stopping rejected connection", "device", addr, "error", serr)
		}
		return nil
	}

	r.detector.Track(addr)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.recorder.Info(addr, MsgDisconnecting)
		r.abandon(addr, conn)
		return ErrRegistryStopped
	}
	e := r.devices[addr]
	e.conn = conn
	e.status = DeviceStatus{Address: addr, Status: StatusConnected, Since: time.Now()}
	r.mu.Unlock()

	handler := r.detector.HandlerFor(addr)
	for _, class := range device.AllPortTypes {
		if err := conn.Subscribe(class, handler); err != nil {
			r.logger.Error("subscribe failed", "device", addr, "class", class, "error", err)
		}
	}

	r.recorder.Info(addr, MsgLoggedIn)
	return nil
}

// interrupted returns ctx's error or ErrRegistryStopped once the bootstrap
// must end. Failures seen after that point are not device failures.
func (r *Registry) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrRegistryStopped
	}
	return nil
}

// abandon marks a device stopped and closes conn, which may be nil.
func (r *Registry) abandon(addr string, conn Connection) {
	r.setStatus(addr, StatusStopped, nil)
	if conn == nil {
		return
	}
	if err := conn.Stop(); err != nil {
		r.logger.Warn("stopping connection after shutdown", "device", addr, "error", err)
	}
}

func (r *Registry) setStatus(addr string, s Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[addr]
	if !ok {
		return
	}
	e.status.Status = s
	e.status.Since = time.Now()
	if err != nil {
		e.status.Error = err.Error()
	}
}

// Stop records a disconnect for every registered device and stops their
// connections concurrently. It is idempotent; later calls return the first
// call's result.
func (r *Registry) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		var (
			addrs []string
			conns []Connection
		)
		for _, addr := range r.order {
			if e := r.devices[addr]; e.conn != nil {
				addrs = append(addrs, addr)
				conns = append(conns, e.conn)
			}
		}
		r.mu.Unlock()

		for _, addr := range addrs {
			r.recorder.Info(addr, MsgDisconnecting)
		}

		var g errgroup.Group
		for i, conn := range conns {
			addr := addrs[i]
			g.Go(func() error {
				if err := conn.Stop(); err != nil {
					r.logger.Warn("stopping connection", "device", addr, "error", err)
					return err
				}
				return nil
			})
		}
		r.stopErr = g.Wait()

		for _, addr := range addrs {
			r.setStatus(addr, StatusStopped, nil)
		}
	})
	return r.stopErr
}

// Devices returns the status of every configured device in start order.
func (r *Registry) Devices() []DeviceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.devices[addr].status)
	}
	return out
}

// Connected returns the number of devices with a live registration.
func (r *Registry) Connected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.devices {
		if e.status.Status == StatusConnected {
			n++
		}
	}
	return n
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
