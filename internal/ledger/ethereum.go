package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Minimal ABI of the transaction-mirror contract.
const mirrorABI = `[
	{"inputs":[{"name":"recipient","type":"string"},{"name":"amount","type":"uint256"}],"name":"createTransaction","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"index","type":"uint256"}],"name":"validateTransaction","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"transactionCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// DefaultGasLimit is used when estimation fails.
const DefaultGasLimit = uint64(200000)

// availabilityTimeout bounds the Available probe so it never stalls a
// transfer decision.
const availabilityTimeout = 3 * time.Second

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Config for the Ethereum mirror.
type Config struct {
	RPCURL     string
	PrivateKey string // hex, with or without 0x prefix
	ChainID    int64
	Contract   string
}

// Mirror writes transfer records to the mirror contract.
type Mirror struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	contract   common.Address
	abi        abi.ABI
}

var _ Client = (*Mirror)(nil)

// Option configures the mirror.
type Option func(*Mirror)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(m *Mirror) { m.client = client }
}

// NewMirror creates a mirror client from config.
func NewMirror(cfg Config, opts ...Option) (*Mirror, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid private key: %w", err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ledger: failed to derive public key")
	}

	parsedABI, err := abi.JSON(strings.NewReader(mirrorABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to parse contract ABI: %w", err)
	}

	m := &Mirror{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.Contract),
		abi:        parsedABI,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		m.client = client
	}
	return m, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("ledger: RPC URL required")
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("ledger: private key must be 64 hex characters")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("ledger: chain ID required")
	}
	if cfg.Contract == "" {
		return fmt.Errorf("ledger: contract address required")
	}
	return nil
}

// Available probes the RPC endpoint with a short timeout.
func (m *Mirror) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()
	_, err := m.client.BlockNumber(ctx)
	return err == nil
}

// Record appends one transfer to the mirror contract.
func (m *Mirror) Record(ctx context.Context, rec *Record) (*Result, error) {
	data, err := m.abi.Pack("createTransaction", rec.RecipientAccount, big.NewInt(rec.Amount))
	if err != nil {
		return nil, &RecordError{Op: "pack", Err: err}
	}

	nonce, err := m.client.PendingNonceAt(ctx, m.address)
	if err != nil {
		return nil, &RecordError{Op: "nonce", Err: err}
	}

	gasPrice, err := m.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &RecordError{Op: "gas_price", Err: err}
	}

	gasLimit, err := m.client.EstimateGas(ctx, ethereum.CallMsg{
		From: m.address,
		To:   &m.contract,
		Data: data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, m.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(m.chainID), m.privateKey)
	if err != nil {
		return nil, &RecordError{Op: "sign", Err: err}
	}

	if err := m.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &RecordError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}

	return &Result{Reference: signedTx.Hash().Hex()}, nil
}

// Validate checks a mirrored record by index on the contract.
func (m *Mirror) Validate(ctx context.Context, index int64) (bool, error) {
	data, err := m.abi.Pack("validateTransaction", big.NewInt(index))
	if err != nil {
		return false, &RecordError{Op: "pack", Err: err}
	}

	out, err := m.client.CallContract(ctx, ethereum.CallMsg{
		To:   &m.contract,
		Data: data,
	}, nil)
	if err != nil {
		return false, &RecordError{Op: "call", Err: err}
	}

	results, err := m.abi.Unpack("validateTransaction", out)
	if err != nil {
		return false, &RecordError{Op: "unpack", Err: err}
	}
	ok, _ := results[0].(bool)
	return ok, nil
}

// Close releases the underlying RPC connection.
func (m *Mirror) Close() {
	if m.client != nil {
		m.client.Close()
	}
}
