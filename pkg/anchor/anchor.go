// Package anchor submits finalized consensus headers to an external L1
// chain and tracks the resulting confirmation receipts, feeding the
// light client's anchored-height watermark.
package anchor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

// Status is the lifecycle of a submitted anchor.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Receipt tracks one anchor submission's confirmation progress.
type Receipt struct {
	AnchorID      string
	HeaderHash    hashing.Hash
	Height        uint64
	TxHash        string
	BlockNumber   uint64
	Confirmations uint64
	Status        Status
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// L1Client is the anchoring interface a periodic anchoring process
// drives: submit a header for anchoring, then poll for its receipt.
// The spec names this interface without defining its transport; an
// Ethereum-backed implementation lives in ethereum.go.
type L1Client interface {
	Submit(ctx context.Context, headerHash hashing.Hash, height uint64) (anchorID string, txHash string, err error)
	Poll(ctx context.Context, anchorID string) (*Receipt, error)
}

// Config bounds the anchor manager's behavior.
type Config struct {
	MinConfirmations uint64
	PollInterval     time.Duration
}

// DefaultConfig matches the spec's default confirmation threshold.
func DefaultConfig() Config {
	return Config{MinConfirmations: 6, PollInterval: 15 * time.Second}
}

// Manager submits headers to an L1Client and tracks their receipts
// until they cross MinConfirmations, at which point it notifies a
// light client via OnAnchored.
type Manager struct {
	mu sync.RWMutex

	client L1Client
	config Config
	logger *log.Logger

	receipts map[string]*Receipt // anchorID -> receipt

	onAnchored func(headerHash hashing.Hash, receipt Receipt)

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewManager creates a Manager driving client.
func NewManager(client L1Client, cfg Config, logger *log.Logger) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("anchor: l1 client must not be nil")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[anchor] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:   client,
		config:   cfg,
		logger:   logger,
		receipts: make(map[string]*Receipt),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetOnAnchored sets the callback invoked the first time a receipt
// crosses the confirmation threshold.
func (m *Manager) SetOnAnchored(fn func(headerHash hashing.Hash, receipt Receipt)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAnchored = fn
}

// Submit anchors headerHash at height, recording a pending receipt.
func (m *Manager) Submit(ctx context.Context, headerHash hashing.Hash, height uint64) (string, error) {
	anchorID, txHash, err := m.client.Submit(ctx, headerHash, height)
	if err != nil {
		return "", fmt.Errorf("anchor: submit: %w", err)
	}

	now := time.Now()
	m.mu.Lock()
	m.receipts[anchorID] = &Receipt{
		AnchorID:    anchorID,
		HeaderHash:  headerHash,
		Height:      height,
		TxHash:      txHash,
		Status:      StatusSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	m.mu.Unlock()

	m.logger.Printf("submitted anchor %s for height %d (tx=%s)", anchorID, height, txHash)
	return anchorID, nil
}

// Receipt returns a copy of the tracked receipt for anchorID.
func (m *Manager) Receipt(anchorID string) (Receipt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[anchorID]
	if !ok {
		return Receipt{}, false
	}
	return *r, true
}

// Start begins the periodic confirmation-polling loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.pollLoop()
}

// Stop halts the polling loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
}

func (m *Manager) pollLoop() {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.pollPending()
		}
	}
}

func (m *Manager) pollPending() {
	m.mu.RLock()
	pending := make([]string, 0, len(m.receipts))
	for id, r := range m.receipts {
		if r.Status != StatusConfirmed {
			pending = append(pending, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range pending {
		updated, err := m.client.Poll(m.ctx, id)
		if err != nil {
			m.logger.Printf("poll anchor %s: %v", id, err)
			continue
		}
		m.applyReceipt(id, updated)
	}
}

func (m *Manager) applyReceipt(anchorID string, updated *Receipt) {
	m.mu.Lock()
	existing, ok := m.receipts[anchorID]
	if !ok {
		m.mu.Unlock()
		return
	}
	wasConfirmed := existing.Status == StatusConfirmed
	existing.Confirmations = updated.Confirmations
	existing.BlockNumber = updated.BlockNumber
	existing.Status = updated.Status
	existing.UpdatedAt = time.Now()

	newlyConfirmed := !wasConfirmed && existing.Confirmations >= m.config.MinConfirmations
	if newlyConfirmed {
		existing.Status = StatusConfirmed
	}
	snapshot := *existing
	cb := m.onAnchored
	m.mu.Unlock()

	if newlyConfirmed {
		m.logger.Printf("anchor %s confirmed at height %d (confirmations=%d)", anchorID, snapshot.Height, snapshot.Confirmations)
		if cb != nil {
			cb(snapshot.HeaderHash, snapshot)
		}
	}
}
