package meshbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justinkk04/ble-gateway/internal/meshcodec"
)

const (
	// notifyQueueSize bounds the raw-notification hand-off queue between the
	// radio library's callback thread and the ordered reassembly consumer.
	// Sized the same as the teacher's knxd callback queue.
	notifyQueueSize = 100

	// eventQueueSize bounds the decoded-event channel the rest of the system
	// reads from.
	eventQueueSize = 64

	// taskQueueSize bounds pending operations waiting on the pinned radio
	// goroutine.
	taskQueueSize = 8
)

// Logger is the narrow logging surface the bridge needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ScanResult describes one advertising device that matched a scan filter.
type ScanResult struct {
	Address string
	Name    string
}

// Session is one live connection to the mesh gateway device. Notify is
// called once after the session is established; the handler must be wired
// to the underlying radio notification callback before Notify returns.
type Session interface {
	// Notify registers handler to receive raw notification payloads, in
	// arrival order, for as long as the session is open.
	Notify(handler func(data []byte)) error
	// WriteCommand writes cmd to the command characteristic. Implementations
	// must not allow more than one write in flight.
	WriteCommand(ctx context.Context, cmd []byte) error
	// Close releases the underlying radio connection. Idempotent.
	Close() error
}

// Dialer abstracts the underlying radio stack so Bridge can be exercised
// against a fake in tests. The production implementation is backed by
// go-ble/ble (see radio.go).
type Dialer interface {
	Scan(ctx context.Context, timeout time.Duration, namePrefixes []string, serviceUUID, targetAddress string) ([]ScanResult, error)
	Dial(ctx context.Context, addr string) (Session, error)
}

// Config configures a Bridge.
type Config struct {
	NamePrefixes   []string
	ServiceUUID    string
	ConnectTimeout time.Duration
	ScanTimeout    time.Duration
}

// Bridge owns the BLE link to the mesh gateway: one pinned goroutine runs
// every radio operation (scan, connect, write, disconnect) in the order
// callers submit them, so the session and the library's callback delivery
// are never touched from two goroutines at once.
type Bridge struct {
	dialer Dialer
	cfg    Config
	logger Logger

	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu        sync.RWMutex
	session   Session
	sessionID string
	connected bool

	codec  *meshcodec.Codec
	events chan meshcodec.Event

	notifyWG sync.WaitGroup
}

// New returns a Bridge that has not yet started its radio goroutine. Call
// Start before issuing any operation.
func New(dialer Dialer, cfg Config, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		dialer: dialer,
		cfg:    cfg,
		logger: logger,
		tasks:  make(chan func(), taskQueueSize),
		done:   make(chan struct{}),
		codec:  meshcodec.New(),
		events: make(chan meshcodec.Event, eventQueueSize),
	}
}

// Start launches the pinned radio goroutine. Must be called once before any
// other method.
func (b *Bridge) Start() {
	b.wg.Add(1)
	go b.run()
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case task := <-b.tasks:
			task()
		case <-b.done:
			return
		}
	}
}

// Close stops the radio goroutine and releases any active session. Safe to
// call more than once.
func (b *Bridge) Close() error {
	select {
	case <-b.done:
		return nil
	default:
		close(b.done)
	}
	b.wg.Wait()

	b.mu.Lock()
	session := b.session
	b.session = nil
	b.connected = false
	b.mu.Unlock()

	if session != nil {
		return session.Close()
	}
	return nil
}

// submit runs fn on the pinned radio goroutine and waits for it to finish,
// honoring ctx cancellation and bridge shutdown.
func (b *Bridge) submit(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	task := func() { reply <- fn() }

	select {
	case b.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// Scan discovers devices matching the configured name prefixes or service
// UUID, or matching targetAddress exactly when non-empty. An empty result is
// a normal outcome, not an error.
func (b *Bridge) Scan(ctx context.Context, targetAddress string) ([]ScanResult, error) {
	var results []ScanResult
	err := b.submit(ctx, func() error {
		var err error
		results, err = b.dialer.Scan(ctx, b.cfg.ScanTimeout, b.cfg.NamePrefixes, b.cfg.ServiceUUID, targetAddress)
		return err
	})
	return results, err
}

// Connect opens a session to addr, negotiating MTU and subscribing to the
// notification characteristic. A second Connect call closes the first
// before opening the new one.
func (b *Bridge) Connect(ctx context.Context, addr string) error {
	if addr == "" {
		return ErrNoAddress
	}
	return b.submit(ctx, func() error { return b.connectLocked(ctx, addr) })
}

func (b *Bridge) connectLocked(ctx context.Context, addr string) error {
	b.disconnectSessionLocked()

	connectCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	session, err := b.dialer.Dial(connectCtx, addr)
	if err != nil {
		return fmt.Errorf("meshbridge: dial %s: %w", addr, err)
	}

	sessionID := uuid.NewString()
	b.codec.Reset()

	raw := make(chan []byte, notifyQueueSize)
	stop := make(chan struct{})

	if err := session.Notify(func(data []byte) {
		cp := append([]byte(nil), data...)
		select {
		case raw <- cp:
		default:
			b.logger.Warn("notification queue full, dropping frame", "session", sessionID)
		}
	}); err != nil {
		session.Close()
		return fmt.Errorf("meshbridge: subscribe %s: %w", addr, err)
	}

	b.notifyWG.Add(1)
	go b.consumeNotifications(sessionID, raw, stop)

	b.mu.Lock()
	b.session = &stoppableSession{Session: session, stop: stop}
	b.sessionID = sessionID
	b.connected = true
	b.mu.Unlock()

	b.logger.Info("bridge connected", "address", addr, "session", sessionID)
	return nil
}

// consumeNotifications is the single ordered reader that turns raw
// notification bytes into codec events. It must run alone: chunk
// reassembly depends on frames being processed in the order they arrived.
func (b *Bridge) consumeNotifications(sessionID string, raw <-chan []byte, stop <-chan struct{}) {
	defer b.notifyWG.Done()
	for {
		select {
		case data := <-raw:
			event, ok := b.codec.Feed(string(data))
			if !ok {
				continue
			}
			select {
			case b.events <- event:
			default:
				b.logger.Warn("event queue full, dropping decoded event", "session", sessionID)
			}
		case <-stop:
			return
		case <-b.done:
			return
		}
	}
}

// stoppableSession pairs a Session with the stop signal for its notification
// consumer goroutine.
type stoppableSession struct {
	Session
	stop chan struct{}
}

func (s *stoppableSession) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return s.Session.Close()
}

// disconnectSessionLocked closes any active session. Must be called from
// the radio goroutine.
func (b *Bridge) disconnectSessionLocked() {
	b.mu.Lock()
	session := b.session
	b.session = nil
	b.connected = false
	b.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			b.logger.Warn("error closing previous session", "error", err)
		}
	}

	// Wait for the notification consumer to exit before clearing the
	// continuation buffer it feeds.
	b.notifyWG.Wait()
	b.codec.Reset()
}

// Disconnect closes the active session, if any.
func (b *Bridge) Disconnect(ctx context.Context) error {
	return b.submit(ctx, func() error {
		b.disconnectSessionLocked()
		return nil
	})
}

// Write serializes cmd onto the command characteristic. Fails with
// ErrNotConnected if no session is active.
func (b *Bridge) Write(ctx context.Context, cmd string) error {
	return b.submit(ctx, func() error {
		b.mu.RLock()
		session := b.session
		b.mu.RUnlock()
		if session == nil {
			return ErrNotConnected
		}
		if err := session.WriteCommand(ctx, []byte(cmd)); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		return nil
	})
}

// Events returns the channel decoded mesh events are posted to, in arrival
// order.
func (b *Bridge) Events() <-chan meshcodec.Event {
	return b.events
}

// IsConnected reports whether a session is currently active.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}
