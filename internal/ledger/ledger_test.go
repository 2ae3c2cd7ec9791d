package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Throwaway dev key, never used outside tests.
const testKey = "ac0974bcf7fb92a6c7a1528b38a58a0e8f6a1f1cebf1b0b0c63b0e7ae0f0e0de"

type fakeEthClient struct {
	blockErr   error
	sendErr    error
	sentTx     *types.Transaction
	callResult []byte
	callErr    error
}

func (f *fakeEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("estimation unsupported")
}

func (f *fakeEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTx = tx
	return nil
}

func (f *fakeEthClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callResult, f.callErr
}

func (f *fakeEthClient) BlockNumber(ctx context.Context) (uint64, error) {
	if f.blockErr != nil {
		return 0, f.blockErr
	}
	return 12345, nil
}

func (f *fakeEthClient) Close() {}

func newTestMirror(t *testing.T, client EthClient) *Mirror {
	t.Helper()
	m, err := NewMirror(Config{
		RPCURL:     "http://127.0.0.1:8545",
		PrivateKey: testKey,
		ChainID:    31337,
		Contract:   "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	}, WithClient(client))
	require.NoError(t, err)
	return m
}

func TestNewMirror_ValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing rpc", Config{PrivateKey: testKey, ChainID: 1, Contract: "0x1"}},
		{"short key", Config{RPCURL: "http://x", PrivateKey: "abc", ChainID: 1, Contract: "0x1"}},
		{"missing chain id", Config{RPCURL: "http://x", PrivateKey: testKey, Contract: "0x1"}},
		{"missing contract", Config{RPCURL: "http://x", PrivateKey: testKey, ChainID: 1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewMirror(c.cfg, WithClient(&fakeEthClient{}))
			assert.Error(t, err)
		})
	}
}

func TestMirror_Available(t *testing.T) {
	ctx := context.Background()

	m := newTestMirror(t, &fakeEthClient{})
	assert.True(t, m.Available(ctx))

	down := newTestMirror(t, &fakeEthClient{blockErr: errors.New("connection refused")})
	assert.False(t, down.Available(ctx))
}

func TestMirror_Record(t *testing.T) {
	fake := &fakeEthClient{}
	m := newTestMirror(t, fake)

	res, err := m.Record(context.Background(), &Record{
		TransactionID:    "txn_1",
		RecipientAccount: "123456789012",
		Amount:           2500,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reference)

	require.NotNil(t, fake.sentTx)
	assert.Equal(t, uint64(7), fake.sentTx.Nonce())
	// Estimation failed, so the default limit applies.
	assert.Equal(t, DefaultGasLimit, fake.sentTx.Gas())

	// Calldata carries the recipient account and amount.
	args, err := m.abi.Methods["createTransaction"].Inputs.Unpack(fake.sentTx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, "123456789012", args[0])
	assert.Equal(t, big.NewInt(2500), args[1])
}

func TestMirror_RecordSendFailure(t *testing.T) {
	m := newTestMirror(t, &fakeEthClient{sendErr: errors.New("nonce too low")})

	_, err := m.Record(context.Background(), &Record{RecipientAccount: "123456789012", Amount: 1})
	require.Error(t, err)

	var re *RecordError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "send", re.Op)
	assert.NotEmpty(t, re.TxHash)
}

func TestMirror_Validate(t *testing.T) {
	fake := &fakeEthClient{callResult: common.LeftPadBytes([]byte{1}, 32)}
	m := newTestMirror(t, fake)

	ok, err := m.Validate(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c Client = Noop{}

	assert.False(t, c.Available(ctx))
	_, err := c.Record(ctx, &Record{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
