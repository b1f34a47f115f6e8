package consensus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
	"github.com/bpi-core/bpci-core/pkg/crypto/vrf"
)

// Config bounds one engine's round-timeout behavior.
type Config struct {
	RoundTimeout time.Duration
}

// DefaultConfig mirrors the control-loop check interval the teacher uses
// for its consensus health monitor.
func DefaultConfig() Config {
	return Config{RoundTimeout: 10 * time.Second}
}

// Engine tracks one validator's view of (height, round) and drives view
// changes on round timeout. It does not itself send or receive network
// messages: the spec deliberately leaves transport unspecified, so the
// engine only owns the round-timer and view-change decision, the same way
// the teacher's consensus health monitor owns stall detection independent
// of how CometBFT status is actually fetched.
type Engine struct {
	mu sync.RWMutex

	set    *ValidatorSet
	config Config

	height uint64
	round  uint64

	lastProgress time.Time
	onViewChange func(height, round uint64)
	onRoundStart func(height, round uint64, leaderID string)

	logger *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewEngine creates an Engine bound to set, starting at height 1, round 0.
func NewEngine(set *ValidatorSet, cfg Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		set:          set,
		config:       cfg,
		height:       1,
		lastProgress: time.Now(),
		logger:       log.New(log.Writer(), "[consensus] ", log.LstdFlags),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetOnViewChange sets the callback invoked when a round times out.
func (e *Engine) SetOnViewChange(fn func(height, round uint64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onViewChange = fn
}

// SetOnRoundStart sets the callback invoked when a new round begins,
// carrying the VRF-elected leader for that round.
func (e *Engine) SetOnRoundStart(fn func(height, round uint64, leaderID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRoundStart = fn
}

// Height returns the engine's current height.
func (e *Engine) Height() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.height
}

// Round returns the engine's current round within Height.
func (e *Engine) Round() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.round
}

// NotifyCommit advances the engine past height, resetting the round to 0
// and the round timer. Called once a BlsCommit for height finalizes.
func (e *Engine) NotifyCommit(height uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if height < e.height {
		return
	}
	e.height = height + 1
	e.round = 0
	e.lastProgress = time.Now()
}

// RoundSeed derives the VRF alpha input for (epoch, height, round): the
// leader-election seed every candidate proves over.
func RoundSeed(epoch, height, round uint64) []byte {
	type seed struct {
		Epoch  uint64
		Height uint64
		Round  uint64
	}
	h, err := hashing.DomainHashCanonical(hashing.TagValidatorSet, seed{epoch, height, round})
	if err != nil {
		// DomainHashCanonical only fails on a non-CBOR-encodable value;
		// seed is a plain struct of uint64s, so this is unreachable.
		panic(err)
	}
	return h.Bytes()
}

// ElectLeader runs VRF-based leader election over candidates for the given
// round seed, returning the winning validator's ID.
func ElectLeader(candidates []vrf.Candidate) (string, bool) {
	winner, ok := vrf.SelectLeader(candidates)
	if !ok {
		return "", false
	}
	return winner.ValidatorID, true
}

// StartRound elects a leader from candidates for the engine's current
// (height, round) and invokes the round-start callback with the result.
func (e *Engine) StartRound(candidates []vrf.Candidate) (string, bool) {
	leaderID, ok := ElectLeader(candidates)
	if !ok {
		return "", false
	}

	e.mu.RLock()
	height, round := e.height, e.round
	cb := e.onRoundStart
	e.mu.RUnlock()

	if cb != nil {
		cb(height, round, leaderID)
	}
	return leaderID, true
}

// Start begins the round-timeout loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	go e.loop()
}

// Stop halts the round-timeout loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.cancel()
	e.running = false
}

func (e *Engine) loop() {
	ticker := time.NewTicker(e.config.RoundTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.checkTimeout()
		}
	}
}

func (e *Engine) checkTimeout() {
	e.mu.Lock()
	if time.Since(e.lastProgress) < e.config.RoundTimeout {
		e.mu.Unlock()
		return
	}
	e.round++
	height, round := e.height, e.round
	e.lastProgress = time.Now()
	cb := e.onViewChange
	e.mu.Unlock()

	e.logger.Printf("round timeout: view change to height=%d round=%d", height, round)
	if cb != nil {
		cb(height, round)
	}
}
