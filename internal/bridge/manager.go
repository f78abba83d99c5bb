// Package bridge owns the process-wide cross-chain bridge session. The
// session is created explicitly with Initialize, which signs a delegation
// from the wallet key to a fresh session key, and released with Teardown.
// Until then Client reports domain.ErrBridgeNotInitialized.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketstate/internal/crypto"
	"github.com/alanyoungcy/marketstate/internal/domain"
)

// DefaultSessionTTL is how long a session authorization stays valid.
const DefaultSessionTTL = 24 * time.Hour

// Status is the lifecycle phase of the bridge session.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusReady         Status = "ready"
	StatusTornDown      Status = "torn_down"
)

// Conn is an open bridge connection.
type Conn interface {
	Close() error
}

// Connector opens a bridge connection for a signed session authorization.
type Connector interface {
	Connect(ctx context.Context, auth crypto.SessionAuthorization) (Conn, error)
}

// Session is an initialised bridge session.
type Session struct {
	Authorization crypto.SessionAuthorization
	Conn          Conn

	key *crypto.Signer
}

// Sign signs msg with the session key.
func (s *Session) Sign(msg []byte) ([]byte, error) {
	return s.key.SignMessage(msg)
}

// Manager guards the single bridge session of the process.
type Manager struct {
	connector Connector
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	status  Status
	session *Session
}

// NewManager creates an uninitialised manager. A non-positive ttl selects
// DefaultSessionTTL.
func NewManager(connector Connector, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		connector: connector,
		ttl:       ttl,
		logger:    logger.With(slog.String("component", "bridge")),
		now:       time.Now,
		status:    StatusUninitialized,
	}
}

// Initialize loads the wallet key, authorises a new session key and
// connects. Calling it while ready returns the existing session.
func (m *Manager) Initialize(ctx context.Context, keys crypto.KeyConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusReady && m.session != nil {
		return m.session, nil
	}
	if m.connector == nil {
		return nil, errors.New("bridge: no connector configured")
	}

	walletKey, err := crypto.LoadKey(keys)
	if err != nil {
		return nil, fmt.Errorf("bridge: load wallet key: %w", err)
	}
	wallet := crypto.NewSigner(walletKey)
	defer wallet.Wipe()

	sessionKey, err := crypto.GenerateSigner()
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	auth, err := wallet.AuthorizeSession(uuid.NewString(), sessionKey.Address(), m.now(), m.ttl)
	if err != nil {
		sessionKey.Wipe()
		return nil, fmt.Errorf("bridge: authorize session: %w", err)
	}

	conn, err := m.connector.Connect(ctx, auth)
	if err != nil {
		sessionKey.Wipe()
		return nil, fmt.Errorf("bridge: connect: %w", err)
	}

	m.session = &Session{Authorization: auth, Conn: conn, key: sessionKey}
	m.status = StatusReady
	m.logger.InfoContext(ctx, "bridge session initialized",
		slog.String("session_id", auth.SessionID),
		slog.String("wallet", auth.Wallet),
		slog.Time("expires_at", auth.ExpiresAt),
	)
	return m.session, nil
}

// Client returns the live session, or domain.ErrBridgeNotInitialized when
// there is none or it has expired.
func (m *Manager) Client() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusReady || m.session == nil {
		return nil, fmt.Errorf("bridge: %w (status %s)", domain.ErrBridgeNotInitialized, m.status)
	}
	if !m.now().Before(m.session.Authorization.ExpiresAt) {
		return nil, fmt.Errorf("bridge: session expired: %w", domain.ErrBridgeNotInitialized)
	}
	return m.session, nil
}

// Status reports the lifecycle phase.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Teardown closes the connection and wipes the session key. It is a no-op
// unless the session is ready. Initialize may be called again afterwards.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusReady || m.session == nil {
		return nil
	}
	s := m.session
	m.session = nil
	m.status = StatusTornDown
	s.key.Wipe()

	if err := s.Conn.Close(); err != nil {
		return fmt.Errorf("bridge: close: %w", err)
	}
	m.logger.Info("bridge session torn down", slog.String("session_id", s.Authorization.SessionID))
	return nil
}
