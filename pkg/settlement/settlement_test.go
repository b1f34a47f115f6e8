package settlement

import (
	"testing"
	"time"

	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

func testKey(t *testing.T) *ed25519sig.PrivateKey {
	t.Helper()
	priv, _, err := ed25519sig.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return priv
}

func testPoE(t *testing.T) PoEProof {
	t.Helper()
	txHash, err := hashing.HashFromBytes(append([]byte("tx-1"), make([]byte, 28)...))
	if err != nil {
		t.Fatalf("HashFromBytes: %v", err)
	}
	idHash, err := hashing.HashFromBytes(append([]byte("consumer-1"), make([]byte, 22)...))
	if err != nil {
		t.Fatalf("HashFromBytes: %v", err)
	}
	return PoEProof{
		TransactionHash:      txHash,
		ConsumerIdentityHash: idHash,
		BlockHeight:          1,
	}
}

func TestFullSettlementLifecycle(t *testing.T) {
	e := NewEngine(DefaultConfig())
	if err := e.RegisterBank("bank-a"); err != nil {
		t.Fatalf("RegisterBank bank-a: %v", err)
	}
	if err := e.RegisterBank("bank-b"); err != nil {
		t.Fatalf("RegisterBank bank-b: %v", err)
	}

	key := testKey(t)
	claim, err := e.InitiateClaim("consumer-1", "bank-a", "bank-b", 500_00, "USD", testPoE(t), key)
	if err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if claim.Status != ClaimMinted {
		t.Fatalf("claim status = %v, want minted", claim.Status)
	}

	coin, err := e.CreateAndTransferSC4(claim.TokenID, "bank-a", key)
	if err != nil {
		t.Fatalf("CreateAndTransferSC4: %v", err)
	}
	if coin.Status != CoinTransferred {
		t.Fatalf("coin status = %v, want transferred", coin.Status)
	}

	vault, ok := e.GetBankVault("bank-b")
	if !ok || vault.TotalLockedValue != 500_00 {
		t.Fatalf("bank-b vault locked value = %+v", vault)
	}

	if err := e.VerifyAndClear(coin.CoinID, time.Now()); err != nil {
		t.Fatalf("VerifyAndClear: %v", err)
	}

	settlementID, err := e.Settle(coin.CoinID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	settledCoin, ok := e.GetCoin(coin.CoinID)
	if !ok || settledCoin.Status != CoinBurned {
		t.Fatalf("coin status after settle = %+v", settledCoin)
	}
	settledClaim, ok := e.GetClaim(claim.TokenID)
	if !ok || settledClaim.Status != ClaimSettled {
		t.Fatalf("claim status after settle = %+v", settledClaim)
	}

	if !e.ValidateBankSettlement("bank-b", settlementID) {
		t.Fatalf("expected settlement record for bank-b")
	}

	stats := e.Snapshot()
	if stats.TotalCoinsBurned != 1 || stats.TotalSettledValue != 500_00 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInitiateClaimRejectsOutOfBoundsAmount(t *testing.T) {
	e := NewEngine(DefaultConfig())
	_ = e.RegisterBank("bank-a")
	_ = e.RegisterBank("bank-b")

	_, err := e.InitiateClaim("consumer-1", "bank-a", "bank-b", 1, "USD", testPoE(t), testKey(t))
	if err == nil {
		t.Fatal("expected ErrAmountOutOfBounds for amount below minimum")
	}
}

func TestInitiateClaimRejectsUnregisteredBank(t *testing.T) {
	e := NewEngine(DefaultConfig())
	_ = e.RegisterBank("bank-a")

	_, err := e.InitiateClaim("consumer-1", "bank-a", "bank-unknown", 500_00, "USD", testPoE(t), testKey(t))
	if err == nil {
		t.Fatal("expected ErrBankNotRegistered for unknown destination bank")
	}
}

func TestCreateAndTransferSC4RejectsWrongIssuer(t *testing.T) {
	e := NewEngine(DefaultConfig())
	_ = e.RegisterBank("bank-a")
	_ = e.RegisterBank("bank-b")

	key := testKey(t)
	claim, err := e.InitiateClaim("consumer-1", "bank-a", "bank-b", 500_00, "USD", testPoE(t), key)
	if err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}

	if _, err := e.CreateAndTransferSC4(claim.TokenID, "bank-b", key); err == nil {
		t.Fatal("expected ErrUnauthorizedBank when a non-originating bank issues the coin")
	}
}

func TestVerifyAndClearRejectsExpiredCoin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLockDuration = -time.Hour
	e := NewEngine(cfg)
	_ = e.RegisterBank("bank-a")
	_ = e.RegisterBank("bank-b")

	key := testKey(t)
	claim, err := e.InitiateClaim("consumer-1", "bank-a", "bank-b", 500_00, "USD", testPoE(t), key)
	if err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	coin, err := e.CreateAndTransferSC4(claim.TokenID, "bank-a", key)
	if err != nil {
		t.Fatalf("CreateAndTransferSC4: %v", err)
	}

	if err := e.VerifyAndClear(coin.CoinID, time.Now()); err != ErrCoinExpired {
		t.Fatalf("VerifyAndClear err = %v, want ErrCoinExpired", err)
	}
}
