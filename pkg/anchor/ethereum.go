package anchor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bpi-core/bpci-core/pkg/crypto/hashing"
)

// anchorContractABI is the minimal interface the anchoring contract
// exposes: submit a header hash at a height, and read back how it was
// recorded.
const anchorContractABI = `[
	{
		"inputs": [
			{"name": "headerHash", "type": "bytes32"},
			{"name": "height", "type": "uint256"}
		],
		"name": "submitAnchor",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "headerHash", "type": "bytes32"}],
		"name": "anchors",
		"outputs": [
			{"name": "height", "type": "uint256"},
			{"name": "submittedAt", "type": "uint256"},
			{"name": "exists", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// EthereumConfig configures a contract-backed L1Client.
type EthereumConfig struct {
	RPCURL          string
	ChainID         int64
	PrivateKeyHex   string
	ContractAddress string
	GasLimit        uint64
}

// EthereumClient is an L1Client submitting anchors to a deployed
// contract via go-ethereum, grounded on the same client-construction
// and signed-transaction pattern the teacher used for its own anchor
// contract, generalized from the teacher's three-commitment anchor
// format to a single header-hash-and-height submission.
type EthereumClient struct {
	rpc        *ethclient.Client
	abi        abi.ABI
	contract   common.Address
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	gasLimit   uint64

	// Anchor IDs are the tx hash, so Poll looks up the submitting
	// transaction without a separate event-log subscription.
}

// NewEthereumClient dials cfg.RPCURL and prepares a signer for cfg.PrivateKeyHex.
func NewEthereumClient(cfg EthereumConfig) (*EthereumClient, error) {
	rpc, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("anchor: dial ethereum rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(anchorContractABI))
	if err != nil {
		return nil, fmt.Errorf("anchor: parse contract abi: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("anchor: parse private key: %w", err)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 150000
	}

	return &EthereumClient{
		rpc:        rpc,
		abi:        parsedABI,
		contract:   common.HexToAddress(cfg.ContractAddress),
		privateKey: privateKey,
		chainID:    big.NewInt(cfg.ChainID),
		gasLimit:   gasLimit,
	}, nil
}

// Submit calls submitAnchor(headerHash, height) on the contract and
// returns the transaction hash as the anchor ID.
func (c *EthereumClient) Submit(ctx context.Context, headerHash hashing.Hash, height uint64) (string, string, error) {
	fromAddr := crypto.PubkeyToAddress(c.privateKey.PublicKey)
	nonce, err := c.rpc.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", "", fmt.Errorf("anchor: fetch nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", "", fmt.Errorf("anchor: suggest gas price: %w", err)
	}

	var hashBytes [32]byte
	copy(hashBytes[:], headerHash.Bytes())

	data, err := c.abi.Pack("submitAnchor", hashBytes, new(big.Int).SetUint64(height))
	if err != nil {
		return "", "", fmt.Errorf("anchor: pack submitAnchor call: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", "", fmt.Errorf("anchor: sign transaction: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signedTx); err != nil {
		return "", "", fmt.Errorf("anchor: send transaction: %w", err)
	}

	txHash := signedTx.Hash().Hex()
	return txHash, txHash, nil
}

// Poll checks the transaction receipt for anchorID (the submitting tx
// hash) and derives confirmations from the chain's current head.
func (c *EthereumClient) Poll(ctx context.Context, anchorID string) (*Receipt, error) {
	txHash := common.HexToHash(anchorID)

	receipt, err := c.rpc.TransactionReceipt(ctx, txHash)
	if err != nil {
		// Not yet mined is not an error condition for polling purposes.
		return &Receipt{AnchorID: anchorID, Status: StatusSubmitted}, nil
	}

	head, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor: fetch chain head: %w", err)
	}

	status := StatusSubmitted
	if receipt.Status == types.ReceiptStatusFailed {
		status = StatusFailed
	}

	var confirmations uint64
	if head >= receipt.BlockNumber.Uint64() {
		confirmations = head - receipt.BlockNumber.Uint64() + 1
	}

	return &Receipt{
		AnchorID:      anchorID,
		TxHash:        anchorID,
		BlockNumber:   receipt.BlockNumber.Uint64(),
		Confirmations: confirmations,
		Status:        status,
		UpdatedAt:     time.Now(),
	}, nil
}
