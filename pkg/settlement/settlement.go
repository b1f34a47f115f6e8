// Package settlement implements the bank-to-bank settlement pipeline: a
// consumer's fiat claim is minted as an NftClaim, transferred between
// banks as a SettlementCoin, and, once burned, recorded as a
// SettlementRecord.
// New domain code (the teacher has no settlement surface) grounded
// directly on original_source's settlement_coin.rs (NftClaimToken,
// SettlementCoin, SettlementPhase, the four-step claim/transfer/clear/burn
// flow, and SettlementConfig's bounds), translated into Go's explicit
// state-enum-plus-transition-method idiom and signed with
// pkg/crypto/ed25519sig instead of the original's unsigned records.
package settlement

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

var (
	ErrBankNotRegistered    = errors.New("settlement: bank not registered")
	ErrAmountOutOfBounds    = errors.New("settlement: amount outside configured bounds")
	ErrClaimNotFound        = errors.New("settlement: nft claim not found")
	ErrUnauthorizedBank     = errors.New("settlement: bank not authorized for this claim")
	ErrCoinNotFound         = errors.New("settlement: settlement coin not found")
	ErrCoinExpired          = errors.New("settlement: settlement coin lock has expired")
	ErrInvalidTransition    = errors.New("settlement: invalid state transition")
)

// Cents is a fixed minor-unit money amount, used instead of a floating
// point type to avoid representation error in settlement math; the pack
// carries no decimal/money library to reach for instead.
type Cents int64

// NftClaimStatus is the lifecycle state of a consumer's fiat claim.
type NftClaimStatus string

const (
	ClaimMinted                     NftClaimStatus = "minted"
	ClaimTransferInitiated          NftClaimStatus = "transfer_initiated"
	ClaimReceivedPendingVerification NftClaimStatus = "received_pending_verification"
	ClaimVerified                   NftClaimStatus = "verified"
	ClaimCleared                    NftClaimStatus = "cleared"
	ClaimSettled                    NftClaimStatus = "settled"
	ClaimRejected                   NftClaimStatus = "rejected"
	ClaimExpired                    NftClaimStatus = "expired"
)

// PoEProof is the proof-of-existence bundle a bank attaches to a claim.
type PoEProof struct {
	TransactionHash      hashing.Hash `cbor:"transaction_hash"`
	BankSignature        []byte       `cbor:"bank_signature"`
	ConsumerIdentityHash hashing.Hash `cbor:"consumer_identity_hash"`
	MerkleProof          []hashing.Hash `cbor:"merkle_proof"`
	BlockHeight          uint64       `cbor:"block_height"`
}

// NftClaim is the signed token representing a consumer's fiat payment as
// it moves through originating-bank claim, cross-bank transfer, and
// clearing.
type NftClaim struct {
	TokenID             uuid.UUID      `cbor:"token_id"`
	ConsumerID          string         `cbor:"consumer_id"`
	OriginatingBankID   string         `cbor:"originating_bank_id"`
	DestinationBankID   string         `cbor:"destination_bank_id"`
	FiatAmount          Cents          `cbor:"fiat_amount"`
	CurrencyCode        string         `cbor:"currency_code"`
	PoE                 PoEProof       `cbor:"poe"`
	ClaimTimestamp      time.Time      `cbor:"claim_timestamp"`
	Status              NftClaimStatus `cbor:"status"`
	RejectionReason     string         `cbor:"rejection_reason,omitempty"`
	Metadata            map[string]string `cbor:"metadata,omitempty"`
	SignerKey           []byte         `cbor:"signer_key"`
	Signature           []byte         `cbor:"signature"`
}

// Hash returns the claim's domain-separated identity hash, excluding the
// signature and the fields that mutate as the claim progresses (Status,
// RejectionReason): those live in the claim's lifecycle, not its identity.
func (c *NftClaim) Hash() (hashing.Hash, error) {
	type identity struct {
		TokenID           uuid.UUID
		ConsumerID        string
		OriginatingBankID string
		DestinationBankID string
		FiatAmount        Cents
		CurrencyCode      string
		PoE               PoEProof
		ClaimTimestamp    time.Time
	}
	return hashing.DomainHashCanonical(hashing.TagNftClaim, identity{
		c.TokenID, c.ConsumerID, c.OriginatingBankID, c.DestinationBankID,
		c.FiatAmount, c.CurrencyCode, c.PoE, c.ClaimTimestamp,
	})
}

// Sign hashes and signs the claim's identity with the originating bank's key.
func (c *NftClaim) Sign(priv *ed25519sig.PrivateKey) error {
	c.SignerKey = priv.PublicKey().Bytes()
	h, err := c.Hash()
	if err != nil {
		return err
	}
	c.Signature = priv.SignHash(h).Bytes()
	return nil
}

// SettlementCoinStatus is the lifecycle state of an SC4 settlement coin.
type SettlementCoinStatus string

const (
	CoinCreated    SettlementCoinStatus = "created"
	CoinTransferred SettlementCoinStatus = "transferred"
	CoinLocked     SettlementCoinStatus = "locked"
	CoinVerified   SettlementCoinStatus = "verified"
	CoinBurned     SettlementCoinStatus = "burned"
	CoinExpired    SettlementCoinStatus = "expired"
)

// SettlementCoin (SC4) is the bank-to-bank transfer token minted against
// a verified NftClaim.
type SettlementCoin struct {
	CoinID           uuid.UUID            `cbor:"coin_id"`
	NftClaimID       uuid.UUID            `cbor:"nft_claim_id"`
	Amount           Cents                `cbor:"amount"`
	CurrencyCode     string               `cbor:"currency_code"`
	IssuingBankID    string               `cbor:"issuing_bank_id"`
	ReceivingBankID  string               `cbor:"receiving_bank_id"`
	CreatedAt        time.Time            `cbor:"created_at"`
	LockExpiry       time.Time            `cbor:"lock_expiry"`
	Status           SettlementCoinStatus `cbor:"status"`
	SignerKey        []byte               `cbor:"signer_key"`
	Signature        []byte               `cbor:"signature"`
}

// Hash returns the coin's domain-separated identity hash.
func (c *SettlementCoin) Hash() (hashing.Hash, error) {
	type identity struct {
		CoinID          uuid.UUID
		NftClaimID      uuid.UUID
		Amount          Cents
		CurrencyCode    string
		IssuingBankID   string
		ReceivingBankID string
		CreatedAt       time.Time
		LockExpiry      time.Time
	}
	return hashing.DomainHashCanonical(hashing.TagSettlementCoin, identity{
		c.CoinID, c.NftClaimID, c.Amount, c.CurrencyCode,
		c.IssuingBankID, c.ReceivingBankID, c.CreatedAt, c.LockExpiry,
	})
}

// Sign hashes and signs the coin's identity with the issuing bank's key.
func (c *SettlementCoin) Sign(priv *ed25519sig.PrivateKey) error {
	c.SignerKey = priv.PublicKey().Bytes()
	h, err := c.Hash()
	if err != nil {
		return err
	}
	c.Signature = priv.SignHash(h).Bytes()
	return nil
}

// Expired reports whether the coin's lock window has passed as of now.
func (c *SettlementCoin) Expired(now time.Time) bool {
	return now.After(c.LockExpiry)
}

// SettlementPhase is the stage of a bank-to-bank settlement.
type SettlementPhase string

const (
	PhaseInitiated    SettlementPhase = "initiated"
	PhaseCoinTransfer SettlementPhase = "coin_transfer"
	PhaseClearing     SettlementPhase = "clearing"
	PhaseCompleted    SettlementPhase = "completed"
	PhaseFailed       SettlementPhase = "failed"
)

// BankSettlement aggregates one or more SC4 coins clearing between two banks.
type BankSettlement struct {
	SettlementID    uuid.UUID       `cbor:"settlement_id"`
	BankAID         string          `cbor:"bank_a_id"`
	BankBID         string          `cbor:"bank_b_id"`
	TotalAmount     Cents           `cbor:"total_amount"`
	CurrencyCode    string          `cbor:"currency_code"`
	SettlementCoins []uuid.UUID     `cbor:"settlement_coins"`
	Phase           SettlementPhase `cbor:"phase"`
	CreatedAt       time.Time       `cbor:"created_at"`
	CompletedAt     time.Time       `cbor:"completed_at,omitempty"`
}

// BankVault tracks one registered bank's settlement activity.
type BankVault struct {
	BankID           string
	ActiveCoins      map[uuid.UUID]*SettlementCoin
	TotalLockedValue Cents
}

// SettlementRecord is the durable audit trail entry written once a coin
// settles, independent of the mutable claim/coin lifecycle state.
type SettlementRecord struct {
	SettlementID       uuid.UUID `cbor:"settlement_id"`
	NftClaimID         uuid.UUID `cbor:"nft_claim_id"`
	SettlementCoinID   uuid.UUID `cbor:"sc4_coin_id"`
	Amount             Cents     `cbor:"amount"`
	CurrencyCode       string    `cbor:"currency_code"`
	CounterpartyBankID string    `cbor:"counterparty_bank_id"`
	SettledAt          time.Time `cbor:"settled_at"`
}

// Config bounds what the engine will accept for settlement.
type Config struct {
	MaxLockDuration      time.Duration
	MinimumAmount        Cents
	MaximumAmount        Cents
}

// DefaultConfig mirrors the original's default bounds.
func DefaultConfig() Config {
	return Config{
		MaxLockDuration: 24 * time.Hour,
		MinimumAmount:   100_00,        // $100.00
		MaximumAmount:   10_000_000_00, // $10,000,000.00
	}
}

// Stats tracks the engine's lifetime activity.
type Stats struct {
	TotalClaimsMinted  uint64
	TotalCoinsCreated  uint64
	TotalCoinsBurned   uint64
	TotalSettledValue  Cents
	ActiveSettlements  uint64
	FailedSettlements  uint64
}

// Engine is the bank-to-bank settlement state machine: claim initiation,
// SC4 creation and transfer, clearing, and burn.
type Engine struct {
	mu sync.RWMutex

	config Config

	vaults      map[string]*BankVault
	claims      map[uuid.UUID]*NftClaim
	coins       map[uuid.UUID]*SettlementCoin
	settlements map[uuid.UUID]*BankSettlement
	records     []SettlementRecord
	stats       Stats
}

// NewEngine creates a settlement Engine bound to cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		config:      cfg,
		vaults:      make(map[string]*BankVault),
		claims:      make(map[uuid.UUID]*NftClaim),
		coins:       make(map[uuid.UUID]*SettlementCoin),
		settlements: make(map[uuid.UUID]*BankSettlement),
	}
}

// RegisterBank enrolls bankID as an authorized settlement participant.
func (e *Engine) RegisterBank(bankID string) error {
	if bankID == "" {
		return ErrUnauthorizedBank
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vaults[bankID] = &BankVault{BankID: bankID, ActiveCoins: make(map[uuid.UUID]*SettlementCoin)}
	return nil
}

func (e *Engine) bankExistsLocked(bankID string) bool {
	_, ok := e.vaults[bankID]
	return ok
}

// InitiateClaim is step 1: a consumer's fiat payment to an originating
// bank is minted as a signed NftClaim awaiting cross-bank transfer.
func (e *Engine) InitiateClaim(consumerID, originatingBankID, destinationBankID string, amount Cents, currencyCode string, poe PoEProof, bankKey *ed25519sig.PrivateKey) (*NftClaim, error) {
	if amount < e.config.MinimumAmount || amount > e.config.MaximumAmount {
		return nil, fmt.Errorf("%w: %d", ErrAmountOutOfBounds, amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.bankExistsLocked(originatingBankID) || !e.bankExistsLocked(destinationBankID) {
		return nil, ErrBankNotRegistered
	}

	claim := &NftClaim{
		TokenID:           uuid.New(),
		ConsumerID:        consumerID,
		OriginatingBankID: originatingBankID,
		DestinationBankID: destinationBankID,
		FiatAmount:        amount,
		CurrencyCode:      currencyCode,
		PoE:               poe,
		ClaimTimestamp:    time.Now(),
		Status:            ClaimMinted,
	}
	if err := claim.Sign(bankKey); err != nil {
		return nil, err
	}

	e.claims[claim.TokenID] = claim
	e.stats.TotalClaimsMinted++
	return claim, nil
}

// CreateAndTransferSC4 is step 2: the originating bank mints an SC4 coin
// against a claim it issued and transfers it to the destination bank.
func (e *Engine) CreateAndTransferSC4(claimID uuid.UUID, issuingBankID string, bankKey *ed25519sig.PrivateKey) (*SettlementCoin, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	claim, ok := e.claims[claimID]
	if !ok {
		return nil, ErrClaimNotFound
	}
	if claim.OriginatingBankID != issuingBankID {
		return nil, ErrUnauthorizedBank
	}
	if claim.Status != ClaimMinted {
		return nil, fmt.Errorf("%w: claim is %s, want minted", ErrInvalidTransition, claim.Status)
	}

	coin := &SettlementCoin{
		CoinID:          uuid.New(),
		NftClaimID:      claimID,
		Amount:          claim.FiatAmount,
		CurrencyCode:    claim.CurrencyCode,
		IssuingBankID:   issuingBankID,
		ReceivingBankID: claim.DestinationBankID,
		CreatedAt:       time.Now(),
		LockExpiry:      time.Now().Add(e.config.MaxLockDuration),
		Status:          CoinCreated,
	}
	if err := coin.Sign(bankKey); err != nil {
		return nil, err
	}

	e.coins[coin.CoinID] = coin
	claim.Status = ClaimTransferInitiated
	coin.Status = CoinTransferred

	if vault, ok := e.vaults[claim.DestinationBankID]; ok {
		vault.ActiveCoins[coin.CoinID] = coin
		vault.TotalLockedValue += coin.Amount
	}

	e.stats.TotalCoinsCreated++
	e.stats.ActiveSettlements++
	return coin, nil
}

// VerifyAndClear is step 3: the receiving bank clears a transferred SC4
// for settlement, marking the coin and its claim verified. It checks only
// the coin's status and lock expiry; the claim's PoEProof is not examined.
// Clearing fails the coin if its lock has already expired.
func (e *Engine) VerifyAndClear(coinID uuid.UUID, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	coin, ok := e.coins[coinID]
	if !ok {
		return ErrCoinNotFound
	}
	if coin.Status != CoinTransferred {
		return fmt.Errorf("%w: coin is %s, want transferred", ErrInvalidTransition, coin.Status)
	}
	if coin.Expired(now) {
		coin.Status = CoinExpired
		if claim, ok := e.claims[coin.NftClaimID]; ok {
			claim.Status = ClaimExpired
		}
		e.stats.FailedSettlements++
		return ErrCoinExpired
	}

	coin.Status = CoinVerified
	if claim, ok := e.claims[coin.NftClaimID]; ok {
		claim.Status = ClaimVerified
	}
	return nil
}

// Settle is step 4: a verified SC4 coin is burned and its claim marked
// settled, completing the fiat reconciliation. It returns the ID of the
// SettlementRecord written to the audit trail.
func (e *Engine) Settle(coinID uuid.UUID) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	coin, ok := e.coins[coinID]
	if !ok {
		return uuid.Nil, ErrCoinNotFound
	}
	if coin.Expired(time.Now()) {
		coin.Status = CoinExpired
		if claim, ok := e.claims[coin.NftClaimID]; ok {
			claim.Status = ClaimExpired
		}
		e.stats.FailedSettlements++
		return uuid.Nil, ErrCoinExpired
	}
	if coin.Status != CoinVerified {
		return uuid.Nil, fmt.Errorf("%w: coin is %s, want verified", ErrInvalidTransition, coin.Status)
	}

	coin.Status = CoinBurned
	if claim, ok := e.claims[coin.NftClaimID]; ok {
		claim.Status = ClaimSettled
	}
	if vault, ok := e.vaults[coin.ReceivingBankID]; ok {
		delete(vault.ActiveCoins, coinID)
		vault.TotalLockedValue -= coin.Amount
	}

	record := SettlementRecord{
		SettlementID:       uuid.New(),
		NftClaimID:         coin.NftClaimID,
		SettlementCoinID:   coin.CoinID,
		Amount:             coin.Amount,
		CurrencyCode:       coin.CurrencyCode,
		CounterpartyBankID: coin.ReceivingBankID,
		SettledAt:          time.Now(),
	}
	e.records = append(e.records, record)

	e.stats.TotalCoinsBurned++
	e.stats.TotalSettledValue += coin.Amount
	if e.stats.ActiveSettlements > 0 {
		e.stats.ActiveSettlements--
	}
	return record.SettlementID, nil
}

// ValidateBankSettlement reports whether a settlement record exists for
// settlementID attributed to bankID as counterparty.
func (e *Engine) ValidateBankSettlement(bankID string, settlementID uuid.UUID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.records {
		if r.SettlementID == settlementID && r.CounterpartyBankID == bankID {
			return true
		}
	}
	return false
}

// GetBankVault returns a registered bank's vault.
func (e *Engine) GetBankVault(bankID string) (*BankVault, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vaults[bankID]
	return v, ok
}

// Snapshot returns a copy of the engine's lifetime statistics.
func (e *Engine) Snapshot() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// GetClaim returns a claim by ID.
func (e *Engine) GetClaim(id uuid.UUID) (*NftClaim, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.claims[id]
	return c, ok
}

// GetCoin returns a settlement coin by ID.
func (e *Engine) GetCoin(id uuid.UUID) (*SettlementCoin, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.coins[id]
	return c, ok
}
