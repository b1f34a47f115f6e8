// bpci-node wires together the round-protocol consensus core, the L1
// anchor manager and light client, the receipt registry and its API
// surface, the policy court, the workload orchestrator, and the
// settlement engine into a single long-running process, then waits for
// SIGINT/SIGTERM to shut everything down.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	cmtconfig "github.com/cometbft/cometbft/config"

	"github.com/bpi-core/bpci-core/pkg/anchor"
	"github.com/bpi-core/bpci-core/pkg/config"
	"github.com/bpi-core/bpci-core/pkg/consensus"
	"github.com/bpi-core/bpci-core/pkg/crypto/bls"
	"github.com/bpi-core/bpci-core/pkg/crypto/ed25519sig"
	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
	"github.com/bpi-core/bpci-core/pkg/crypto/vrf"
	"github.com/bpi-core/bpci-core/pkg/orchestrator"
	"github.com/bpi-core/bpci-core/pkg/policy"
	"github.com/bpi-core/bpci-core/pkg/registry"
	"github.com/bpi-core/bpci-core/pkg/server"
	"github.com/bpi-core/bpci-core/pkg/settlement"
)

// memKV is the in-process registry.KV that holds the node's receipts.
// It is used whether or not the embedded CometBFT node runs; receipts
// are not persisted across restarts.
type memKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemKV() *memKV { return &memKV{m: make(map[string][]byte)} }

func (k *memKV) Get(key []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.m[string(key)], nil
}

func (k *memKV) Set(key, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[string(key)] = append([]byte(nil), value...)
	return nil
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("starting bpci-core node")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if err := cfg.ValidateForDevelopment(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	node, err := buildNode(cfg)
	if err != nil {
		log.Fatalf("build node: %v", err)
	}

	node.engine.SetOnViewChange(func(height, round uint64) {
		log.Printf("[consensus] view change at height=%d round=%d", height, round)
	})
	node.engine.Start()

	node.anchorManager.Start()

	if err := node.orchestrator.Start(); err != nil {
		log.Printf("orchestrator did not start: %v", err)
	}

	if node.embedded != nil {
		if err := node.embedded.Start(); err != nil {
			log.Fatalf("start embedded cometbft node: %v", err)
		}
		log.Println("embedded cometbft node started")
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: node.server.Routes(),
	}
	go func() {
		log.Printf("registry API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("registry API server: %v", err)
		}
	}()

	log.Println("bpci-core node ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down bpci-core node")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}

	node.engine.Stop()
	node.anchorManager.Stop()
	node.orchestrator.Stop()
	if node.embedded != nil {
		if err := node.embedded.Stop(); err != nil {
			log.Printf("embedded cometbft node stop error: %v", err)
		}
	}

	log.Println("bpci-core node stopped")
}

// runningNode holds every long-lived component buildNode wires together.
type runningNode struct {
	engine        *consensus.Engine
	anchorManager *anchor.Manager
	lightClient   *anchor.LightClient
	orchestrator  *orchestrator.Orchestrator
	court         *policy.Court
	settlement    *settlement.Engine
	server        *server.Server
	embedded      *consensus.EmbeddedNode
}

// buildNode constructs every component in dependency order: key
// material first, then the consensus core, then the anchor manager and
// light client wired to it, then the registry and its API server.
func buildNode(cfg *config.Config) (*runningNode, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	ed25519Priv, err := loadOrGenerateEd25519Key(filepath.Join(cfg.DataDir, "ed25519_key.hex"), cfg.Ed25519KeyPath)
	if err != nil {
		return nil, fmt.Errorf("ed25519 key: %w", err)
	}

	blsKeyPath := cfg.BLSPrivateKeyPath
	if blsKeyPath == "" {
		blsKeyPath = filepath.Join(cfg.DataDir, fmt.Sprintf("bls_key_%s.hex", cfg.ValidatorID))
	}
	blsKM := bls.NewKeyManager(blsKeyPath)
	if err := blsKM.LoadOrGenerateKey(); err != nil {
		return nil, fmt.Errorf("bls key: %w", err)
	}

	vrfPriv, err := loadOrGenerateVRFKey(filepath.Join(cfg.DataDir, fmt.Sprintf("vrf_key_%s.hex", cfg.ValidatorID)))
	if err != nil {
		return nil, fmt.Errorf("vrf key: %w", err)
	}

	validatorInfo := consensus.ValidatorInfo{
		ValidatorID:    cfg.ValidatorID,
		BLSPublicKey:   blsKM.GetPublicKeyBytes(),
		VRFPublicKey:   vrfPriv.PublicKey().Bytes(),
		NetworkAddress: cfg.ListenAddr,
		VotingPower:    1,
		Role:           consensus.RoleValidator,
		JoinedAt:       time.Now().UTC(),
	}
	validatorSet, err := consensus.NewValidatorSet(1, []consensus.Validator{
		{Info: validatorInfo, BLSKey: blsKM.GetPublicKey(), VRFKey: vrfPriv.PublicKey()},
	})
	if err != nil {
		return nil, fmt.Errorf("build validator set: %w", err)
	}

	engine := consensus.NewEngine(validatorSet, consensus.DefaultConfig())

	lightClient := anchor.NewLightClient(anchor.LightClientConfig{
		MaxReorgDepth:            cfg.MaxReorgDepth,
		StrictAnchorVerification: cfg.StrictAnchorVerification,
	})

	var l1Client anchor.L1Client
	ethClient, err := anchor.NewEthereumClient(anchor.EthereumConfig{
		RPCURL:          cfg.EthereumURL,
		ChainID:         cfg.EthChainID,
		PrivateKeyHex:   cfg.EthPrivateKey,
		ContractAddress: cfg.AnchorContractAddress,
		GasLimit:        300000,
	})
	if err != nil {
		log.Printf("ethereum anchor client unavailable, anchoring disabled: %v", err)
		l1Client = noopL1Client{}
	} else {
		l1Client = ethClient
	}

	anchorManager, err := anchor.NewManager(l1Client, anchor.Config{
		MinConfirmations: cfg.MinAnchorConfirmations,
		PollInterval:     15 * time.Second,
	}, log.New(log.Writer(), "[anchor] ", log.LstdFlags))
	if err != nil {
		return nil, fmt.Errorf("create anchor manager: %w", err)
	}
	anchorManager.SetOnAnchored(func(headerHash hashing.Hash, receipt anchor.Receipt) {
		lightClient.UpdateAnchorReceipt(receipt, cfg.MinAnchorConfirmations)
	})

	store := registry.NewStore(newMemKV())
	keys := registry.NewKeyStore()
	if bootstrapKey := os.Getenv("BOOTSTRAP_API_KEY"); bootstrapKey != "" {
		keys.Register(registry.APIKey{Key: bootstrapKey, Role: registry.RoleAdmin, CreatedAt: time.Now().UTC()})
		log.Println("registered bootstrap admin API key from BOOTSTRAP_API_KEY")
	}

	court := policy.NewCourt(cfg.ValidatorID+"-court", "default policy court", policy.DefaultConfig(), policy.NewOpcodeEngine())

	orch := orchestrator.New(orchestrator.DefaultConfig())

	settlementEngine := settlement.NewEngine(settlement.DefaultConfig())

	srv := server.New(log.New(log.Writer(), "[registry-api] ", log.LstdFlags))
	srv.Store = store
	srv.Keys = keys
	srv.Engine = engine
	srv.LightClient = lightClient
	srv.Court = court
	srv.Orchestrator = orch
	srv.Settlement = settlementEngine

	var embedded *consensus.EmbeddedNode
	if cfg.P2PPort != 0 {
		cmtCfg, err := buildCometBFTConfig(cfg)
		if err != nil {
			log.Printf("embedded cometbft node disabled: %v", err)
		} else {
			embedded, err = consensus.NewEmbeddedNode(cmtCfg, consensus.NewApplication())
			if err != nil {
				log.Printf("embedded cometbft node disabled: %v", err)
				embedded = nil
			}
		}
	}

	log.Printf("validator ed25519 identity key: %s", ed25519Priv.PublicKey().Hex())

	return &runningNode{
		engine:        engine,
		anchorManager: anchorManager,
		lightClient:   lightClient,
		orchestrator:  orch,
		court:         court,
		settlement:    settlementEngine,
		server:        srv,
		embedded:      embedded,
	}, nil
}

// buildCometBFTConfig derives a cometbft *config.Config rooted at
// cfg.DataDir/cometbft from our own environment-driven Config.
func buildCometBFTConfig(cfg *config.Config) (*cmtconfig.Config, error) {
	rootDir := filepath.Join(cfg.DataDir, "cometbft")
	if _, err := os.Stat(filepath.Join(rootDir, "config", "config.toml")); err != nil {
		return nil, fmt.Errorf("no cometbft home initialized at %s (run `cometbft init --home %s` first): %w", rootDir, rootDir, err)
	}
	cmtCfg := cmtconfig.DefaultConfig()
	cmtCfg.SetRoot(rootDir)
	cmtCfg.P2P.ListenAddress = fmt.Sprintf("tcp://0.0.0.0:%d", cfg.P2PPort)
	cmtCfg.RPC.ListenAddress = fmt.Sprintf("tcp://0.0.0.0:%d", cfg.RPCPort)
	return cmtCfg, nil
}

// loadOrGenerateEd25519Key loads the key at the first non-empty path
// among configuredPath and defaultPath, generating and persisting a
// new one at that path if no file exists there yet.
func loadOrGenerateEd25519Key(defaultPath, configuredPath string) (*ed25519sig.PrivateKey, error) {
	keyPath := configuredPath
	if keyPath == "" {
		keyPath = defaultPath
	}
	if dir := filepath.Dir(keyPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create key directory %s: %w", dir, err)
		}
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		keyBytes, decodeErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decodeErr != nil {
			return nil, fmt.Errorf("decode ed25519 key from %s: %w", keyPath, decodeErr)
		}
		priv, privErr := ed25519sig.PrivateKeyFromBytes(keyBytes)
		if privErr != nil {
			return nil, fmt.Errorf("parse ed25519 key from %s: %w", keyPath, privErr)
		}
		return priv, nil
	}

	priv, _, err := ed25519sig.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(priv.Hex()), 0600); err != nil {
		return nil, fmt.Errorf("save ed25519 key to %s: %w", keyPath, err)
	}
	log.Printf("generated new ed25519 key at %s", keyPath)
	return priv, nil
}

// loadOrGenerateVRFKey mirrors loadOrGenerateEd25519Key for the leader
// election key, which has no KeyManager of its own.
func loadOrGenerateVRFKey(keyPath string) (*vrf.PrivateKey, error) {
	if dir := filepath.Dir(keyPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create key directory %s: %w", dir, err)
		}
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		priv, privErr := vrf.PrivateKeyFromHex(strings.TrimSpace(string(data)))
		if privErr != nil {
			return nil, fmt.Errorf("parse vrf key from %s: %w", keyPath, privErr)
		}
		return priv, nil
	}

	priv, _, err := vrf.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate vrf key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(priv.Hex()), 0600); err != nil {
		return nil, fmt.Errorf("save vrf key to %s: %w", keyPath, err)
	}
	log.Printf("generated new vrf key at %s", keyPath)
	return priv, nil
}

// noopL1Client is used when no Ethereum RPC endpoint is reachable at
// startup, so the rest of the node can still run with anchoring
// disabled rather than refusing to start.
type noopL1Client struct{}

func (noopL1Client) Submit(_ context.Context, _ hashing.Hash, _ uint64) (string, string, error) {
	return "", "", fmt.Errorf("anchor: no ethereum rpc configured")
}

func (noopL1Client) Poll(_ context.Context, _ string) (*anchor.Receipt, error) {
	return nil, fmt.Errorf("anchor: no ethereum rpc configured")
}
