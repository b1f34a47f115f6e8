package consensus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	cmtconfig "github.com/cometbft/cometbft/config"
	dbm "github.com/cometbft/cometbft-db"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

// Application is the minimal ABCI surface an embedded node drives against
// the round protocol: proposals are accepted unconditionally (the engine's
// own propose/prevote/precommit bookkeeping is the actual gate; CometBFT is
// used here purely as a transport, per the spec's leave-transport-
// unspecified stance) and FinalizeBlock computes the next app hash from the
// finalized header.
type Application struct {
	mu         sync.Mutex
	lastHeader hashing.Hash
}

// NewApplication creates an ABCI application delegating finalization to the
// round protocol's header hashing.
func NewApplication() *Application {
	return &Application{}
}

func (a *Application) Info(_ context.Context, _ *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &abcitypes.ResponseInfo{LastBlockAppHash: a.lastHeader.Bytes()}, nil
}

func (a *Application) CheckTx(_ context.Context, _ *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	return &abcitypes.ResponseCheckTx{Code: 0}, nil
}

func (a *Application) InitChain(_ context.Context, _ *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	return &abcitypes.ResponseInitChain{}, nil
}

func (a *Application) PrepareProposal(_ context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	return &abcitypes.ResponsePrepareProposal{Txs: req.Txs}, nil
}

func (a *Application) ProcessProposal(_ context.Context, _ *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

func (a *Application) FinalizeBlock(_ context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	h := hashing.DomainHash(hashing.TagBlockHeader, req.Hash)

	a.mu.Lock()
	a.lastHeader = h
	a.mu.Unlock()

	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i := range req.Txs {
		txResults[i] = &abcitypes.ExecTxResult{Code: 0}
	}
	return &abcitypes.ResponseFinalizeBlock{TxResults: txResults, AppHash: h.Bytes()}, nil
}

func (a *Application) Commit(_ context.Context, _ *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	return &abcitypes.ResponseCommit{}, nil
}

func (a *Application) ExtendVote(_ context.Context, _ *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (a *Application) VerifyVoteExtension(_ context.Context, _ *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

func (a *Application) Query(_ context.Context, _ *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	return &abcitypes.ResponseQuery{}, nil
}

func (a *Application) ListSnapshots(_ context.Context, _ *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (a *Application) OfferSnapshot(_ context.Context, _ *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{}, nil
}

func (a *Application) LoadSnapshotChunk(_ context.Context, _ *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (a *Application) ApplySnapshotChunk(_ context.Context, _ *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{}, nil
}

// EmbeddedNode wraps an in-process CometBFT node used as one possible
// transport for the round protocol, alongside the package's own
// round-timer core.
type EmbeddedNode struct {
	mu      sync.Mutex
	node    *node.Node
	rpc     *cmthttp.HTTP
	started bool
}

// NewEmbeddedNode constructs (but does not start) a CometBFT node rooted
// at cfg.RootDir, driving app.
func NewEmbeddedNode(cfg *cmtconfig.Config, app abcitypes.Application) (*EmbeddedNode, error) {
	if cfg == nil {
		return nil, fmt.Errorf("consensus: cometbft config must not be nil")
	}

	dbProvider := cmtconfig.DBProvider(func(ctx *cmtconfig.DBContext) (dbm.DB, error) {
		return dbm.NewDB(ctx.ID, dbm.BackendType(cfg.DBBackend), filepath.Join(cfg.RootDir, "data"))
	})

	pv := privval.LoadFilePV(cfg.PrivValidatorKeyFile(), cfg.PrivValidatorStateFile())
	nodeKey, err := p2p.LoadNodeKey(cfg.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("consensus: load node key: %w", err)
	}

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)).With("module", "consensus")

	n, err := node.NewNode(
		cfg,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(app),
		node.DefaultGenesisDocProviderFunc(cfg),
		dbProvider,
		node.DefaultMetricsProvider(cfg.Instrumentation),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("consensus: create cometbft node: %w", err)
	}

	rpcAddr := strings.Replace(cfg.RPC.ListenAddress, "0.0.0.0", "127.0.0.1", 1)
	if rpcAddr == "" {
		rpcAddr = "tcp://127.0.0.1:26657"
	}
	rpc, err := cmthttp.New(rpcAddr, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("consensus: create rpc client: %w", err)
	}

	return &EmbeddedNode{node: n, rpc: rpc}, nil
}

// Start launches the node and its RPC client.
func (e *EmbeddedNode) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.node.Start(); err != nil {
		return fmt.Errorf("consensus: start cometbft node: %w", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := e.rpc.Start(); err != nil {
		return fmt.Errorf("consensus: start rpc client: %w", err)
	}
	e.started = true
	return nil
}

// Stop halts the node.
func (e *EmbeddedNode) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	if err := e.node.Stop(); err != nil {
		return fmt.Errorf("consensus: stop cometbft node: %w", err)
	}
	e.started = false
	return nil
}
