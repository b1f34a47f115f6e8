package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ETHEREUM_URL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Fatalf("ListenAddr = %q, want 0.0.0.0:8080", cfg.ListenAddr)
	}
	if cfg.MinAnchorConfirmations != 6 {
		t.Fatalf("MinAnchorConfirmations = %d, want 6", cfg.MinAnchorConfirmations)
	}
	if cfg.MaxReorgDepth != 100 {
		t.Fatalf("MaxReorgDepth = %d, want 100", cfg.MaxReorgDepth)
	}
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to fail on an empty config")
	}
}

func TestValidateRejectsWeakJWTSecret(t *testing.T) {
	cfg := &Config{
		EthereumURL:           "https://rpc.example",
		EthPrivateKey:         "deadbeef",
		AnchorContractAddress: "0xabc",
		DatabaseURL:           "postgres://host/db?sslmode=require",
		JWTSecret:             "change-me-please-change-me-please",
		TLSEnabled:            true,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a weak JWT secret")
	}
}

func TestValidatePassesWithRequiredFields(t *testing.T) {
	cfg := &Config{
		EthereumURL:           "https://rpc.example",
		EthPrivateKey:         "deadbeef",
		AnchorContractAddress: "0xabc",
		DatabaseURL:           "postgres://host/db?sslmode=require",
		JWTSecret:             "x7f2k9m4q1w8e5r3t6y0u2i4o7p9a1s3",
		TLSEnabled:            true,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestNodeConfigQuorumSizeFallsBackToFraction(t *testing.T) {
	c := &NodeConfig{Anchor: AnchorSettings{Consensus: ConsensusSettings{
		ValidatorCount: 4,
		QuorumFraction: 0.667,
	}}}
	if got := c.QuorumSize(); got != 3 {
		t.Fatalf("QuorumSize() = %d, want 3", got)
	}
}

func TestNodeConfigValidateRequiresEthereumRPC(t *testing.T) {
	c := &NodeConfig{
		Anchor: AnchorSettings{Contract: ContractSettings{Address: "0xabc", ChainID: 1}},
		Network: NetworkSettings{Ethereum: EthereumNetworkSettings{ChainID: 1}},
		Validator: ValidatorSettings{ID: "v1", EthPrivateKey: "deadbeef"},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected Validate to fail without network.ethereum.rpc_url")
	}
}
