package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// ErrorHeader carries a handler error from Reply back to Request
const ErrorHeader = "Dataports-Error"

// Status holds runtime status information for the NATS client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// ReplyHandler answers a request. A returned error is sent to the requester
// in ErrorHeader instead of a payload.
type ReplyHandler func(ctx context.Context, data []byte) ([]byte, error)

// Client manages a NATS connection with circuit breaker pattern
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger
	metrics  *metric.Metrics

	conn *nats.Conn
	subs []*nats.Subscription

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32 // failures in current circuit round
	circuitThreshold int32        // failures before opening circuit
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication, cleared on close
	username string
	password string
	token    string

	// TLS
	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName  string
	compression bool

	// Callbacks
	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	// Health monitoring
	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1, // infinite by default
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("Created NATS client", "url", url)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	m.metrics.RecordNATSStatus(status == StatusConnected)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

func (m *Client) nextBackoff() time.Duration {
	current := m.backoff.Load().(time.Duration)
	next := current * 2
	if next > m.maxBackoff {
		next = m.maxBackoff
	}
	m.backoff.Store(next)
	return current
}

// recordFailure records a connection failure and manages circuit breaker
func (m *Client) recordFailure() {
	totalFailures := m.failures.Add(1)
	m.lastFailure.Store(time.Now())
	circuitFailures := m.circuitFailures.Add(1)

	m.logger.Debug("Recorded failure", "failures", totalFailures, "circuit_failures", circuitFailures)

	if circuitFailures < m.circuitThreshold {
		return
	}

	currentStatus := m.Status()
	if currentStatus != StatusCircuitOpen {
		// Only one goroutine wins the transition to open.
		if m.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
			m.metrics.RecordNATSStatus(false)
			wait := m.nextBackoff()
			m.logger.Warn("Circuit breaker opened", "failures", circuitFailures, "backoff", wait)
			m.circuitFailures.Store(0)
			time.AfterFunc(wait, m.testCircuit)
		}
		return
	}

	// Failures while open keep growing the backoff.
	m.nextBackoff()
	m.logger.Warn("Circuit breaker still open", "backoff", m.Backoff())
	m.circuitFailures.Store(0)
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit moves an open circuit to half-open so the next Connect may try again
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debug("Circuit breaker half-open, next connect attempt allowed")
		m.setStatus(StatusDisconnected)
	}
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// ConnectionOptions returns the NATS connection options
func (m *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.tlsEnabled {
		if m.tlsCertFile != "" && m.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(m.tlsCertFile, m.tlsKeyFile))
		}
		if m.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(m.tlsCAFile))
		}
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	if m.compression {
		opts = append(opts, nats.Compression(true))
	}
	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
	}
	if rtt, err := m.RTT(); err == nil {
		status.RTT = rtt
	}
	return status
}

// Connect establishes connection to NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debug("Circuit breaker is open, skipping connection attempt")
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "establish connection")
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	opts := m.ConnectionOptions()
	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return m.connectFailed(err, "establish connection")
		}
	case <-ctx.Done():
		return m.connectFailed(ctx.Err(), "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("Connected to NATS", "url", m.url)

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil {
		onHealthChange(true)
	}
	return nil
}

func (m *Client) connectFailed(err error, action string) error {
	m.recordFailure()
	if m.Status() == StatusCircuitOpen {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", action)
	}
	m.setStatus(StatusDisconnected)
	return errors.WrapTransient(err, "Client", "Connect", action)
}

// Close unsubscribes everything and drains the connection. Calling Close
// more than once is a no-op.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.stopHealthMonitoring()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	m.subs = nil

	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		conn := m.conn
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout), "Client", "Close", "drain connection"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain connection"))
		}

		conn.Close()
		m.conn = nil
	}

	m.username = ""
	m.password = ""
	m.token = ""

	m.setStatus(StatusDisconnected)

	if err := stderrors.Join(errs...); err != nil {
		m.logger.Error("NATS client closed with errors", "error", err)
		return err
	}
	return nil
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	conn, err := m.connected()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

func (m *Client) connected() (*nats.Conn, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Subscribe subscribes to a NATS subject. Each handler call receives a
// context derived from ctx with a 30-second timeout.
func (m *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (*nats.Subscription, error) {
	return m.subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
}

// Reply serves requests on subject with handler
func (m *Client) Reply(ctx context.Context, subject string, handler ReplyHandler) (*nats.Subscription, error) {
	return m.subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		resp, err := handler(msgCtx, msg.Data)
		reply := nats.NewMsg(msg.Reply)
		if err != nil {
			reply.Header.Set(ErrorHeader, err.Error())
		} else {
			reply.Data = resp
		}
		if err := msg.RespondMsg(reply); err != nil {
			m.logger.Error("Failed to send reply", "subject", subject, "error", err)
		}
	})
}

func (m *Client) subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "Subscribe", subject)
	}
	sub, err := m.conn.Subscribe(subject, cb)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", subject)
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := m.connected()
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", subject)
	}
	return nil
}

// Request sends data to subject and waits for a single reply until ctx is done
func (m *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn, err := m.connected()
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", subject)
	}

	msg, err := conn.RequestWithContext(ctx, subject, data)
	switch {
	case stderrors.Is(err, nats.ErrNoResponders):
		return nil, errors.WrapTransient(errors.ErrNoResponders, "Client", "Request", subject)
	case err != nil:
		return nil, errors.WrapTransient(err, "Client", "Request", subject)
	}
	if remote := msg.Header.Get(ErrorHeader); remote != "" {
		return nil, errors.Wrap(fmt.Errorf("%w: %s", errors.ErrRemotePull, remote), "Client", "Request", subject)
	}
	return msg.Data, nil
}

// OnHealthChange sets a callback for health status changes
func (m *Client) OnHealthChange(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthChange = fn
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)
	m.logger.Warn("Disconnected from NATS", "error", err)

	m.mu.RLock()
	onDisconnect := m.onDisconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.metrics.RecordNATSReconnect()
	m.logger.Info("Reconnected to NATS", "url", m.url)

	m.mu.RLock()
	onReconnect := m.onReconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	m.logger.Error("NATS error", "subject", subject, "error", err)
}

// startHealthMonitoring starts periodic health checks
func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	done := make(chan struct{})
	m.healthDone = done
	interval := m.healthInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastHealthy := m.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.mu.RLock()
				conn := m.conn
				onHealthChange := m.onHealthChange
				m.mu.RUnlock()

				if conn == nil {
					continue
				}

				healthy := conn.IsConnected()
				if _, err := conn.RTT(); err != nil {
					healthy = false
				}

				if healthy && m.Status() != StatusConnected {
					m.setStatus(StatusConnected)
				} else if !healthy && m.Status() == StatusConnected {
					m.setStatus(StatusReconnecting)
				}

				if healthy != lastHealthy && onHealthChange != nil {
					onHealthChange(healthy)
				}
				lastHealthy = healthy
			}
		}
	}()
}

// stopHealthMonitoring stops the health monitoring goroutine
func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}
