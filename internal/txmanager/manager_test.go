package txmanager

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainkeeper/chainkeeper/internal/blockchain"
	"github.com/chainkeeper/chainkeeper/internal/config"
	"github.com/chainkeeper/chainkeeper/internal/gasprice"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/models"
	"github.com/chainkeeper/chainkeeper/internal/secrets"
)

// fakeProvider is a scripted blockchain.Provider for deterministic
// manager tests.
type fakeProvider struct {
	nonce    uint64
	chainID  *big.Int
	gasPrice *big.Int
	baseFee  *big.Int
	tip      *big.Int

	sent     []*types.Transaction
	receipts map[common.Hash]*blockchain.Receipt

	// nextStatus is the receipt status SendRaw assigns to every
	// transaction it records; 1 (success) unless a test overrides it
	// to simulate a reverted transaction.
	nextStatus uint64

	// waitReceiptTimeouts counts down the number of WaitReceipt calls
	// that return context.DeadlineExceeded before falling through to
	// the scripted receipts map, simulating slow confirmation that
	// forces a fee bump.
	waitReceiptTimeouts int

	// callAtBlockErr is returned by CallAtBlock, simulating the
	// revert error go-ethereum surfaces when replaying a failing call.
	callAtBlockErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		chainID:    big.NewInt(1337),
		gasPrice:   big.NewInt(20_000_000_000),
		baseFee:    big.NewInt(10_000_000_000),
		tip:        big.NewInt(1_000_000_000),
		receipts:   make(map[common.Hash]*blockchain.Receipt),
		nextStatus: 1,
	}
}

// fakeDataError mimics the go-ethereum JSON-RPC error shape
// (blockchain.DataError) that carries ABI-encoded revert data
// alongside the error message.
type fakeDataError struct {
	msg  string
	data []byte
}

func (e *fakeDataError) Error() string          { return e.msg }
func (e *fakeDataError) ErrorData() interface{} { return hexutil.Encode(e.data) }

// encodeErrorString builds the standard Solidity Error(string) revert
// payload (selector 0x08c379a0 followed by the ABI-encoded reason).
func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	strType, err := ethabi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := ethabi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	out := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
	return out
}

func (f *fakeProvider) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }
func (f *fakeProvider) ChainID(ctx context.Context) (*big.Int, error)   { return f.chainID, nil }
func (f *fakeProvider) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeProvider) Nonce(ctx context.Context, addr common.Address, sel blockchain.NonceSelector) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeProvider) GasPrice(ctx context.Context) (*big.Int, error)          { return f.gasPrice, nil }
func (f *fakeProvider) SuggestPriorityFee(ctx context.Context) (*big.Int, error) { return f.tip, nil }
func (f *fakeProvider) BaseFee(ctx context.Context) (*big.Int, error)          { return f.baseFee, nil }
func (f *fakeProvider) FeeHistory(ctx context.Context, blocks uint64, pcts []float64) (*ethereum.FeeHistory, error) {
	return &ethereum.FeeHistory{}, nil
}
func (f *fakeProvider) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeProvider) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeProvider) SendRaw(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	f.receipts[tx.Hash()] = &blockchain.Receipt{Status: f.nextStatus, GasUsed: 21000, BlockNumber: 101, TxHash: tx.Hash().Hex()}
	return nil
}
func (f *fakeProvider) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*blockchain.Receipt, error) {
	if f.waitReceiptTimeouts > 0 {
		f.waitReceiptTimeouts--
		return nil, context.DeadlineExceeded
	}
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, context.DeadlineExceeded
}
func (f *fakeProvider) CallAtBlock(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, f.callAtBlockErr
}
func (f *fakeProvider) GetLogs(ctx context.Context, filter ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeProvider) SubscribeLogs(ctx context.Context, filter ethereum.FilterQuery) (<-chan types.Log, ethereum.Subscription, error) {
	return nil, nil, nil
}

func testNetwork() models.Network {
	return models.Network{
		Name:               "testnet",
		TxStyle:            models.TxStyleLegacy,
		GasPolicy:          models.GasPolicy{MaxGasPriceGwei: 100, GasPriceMultiplier: 1.0, GasLimitMultiplier: 1.2, DefaultGasLimit: 300000},
		ExpectedBlockTime:  2 * time.Second,
		ConfirmationWaitMx: 1.0,
	}
}

func testStore(t *testing.T) (*secrets.Store, common.Address) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	backend := secrets.NewKeyringBackend("test")
	store := secrets.NewStore(backend, time.Minute, nil)
	require.NoError(t, store.Put(context.Background(), "testnet", crypto.FromECDSA(key)))
	return store, addr
}

func testOracle() *gasprice.Oracle {
	return gasprice.New(config.GasPriceFeedsConfig{CacheTTLSecs: 60}, logger.New(logger.DefaultConfig()), testMetricsRegistry())
}

func testMetricsRegistry() *metrics.Registry { return metrics.New(prometheus.NewRegistry()) }

func TestManager_Submit_ConfirmsAndAssignsSequentialNonces(t *testing.T) {
	provider := newFakeProvider()
	store, sender := testStore(t)
	defer store.Close()
	oracle := testOracle()
	defer oracle.Close()

	m := New(testNetwork(), sender, provider, store, oracle, logger.New(logger.DefaultConfig()), testMetricsRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	intent := models.UpdateIntent{
		Network: "testnet", Sender: sender.Hex(), Contract: "0x0000000000000000000000000000000000000001",
		Calldata: []byte{0x01, 0x02}, CreatedAt: time.Now(),
	}

	for k := 0; k < 3; k++ {
		out, err := m.Submit(ctx, intent)
		require.NoError(t, err)
		require.Equal(t, models.TxStateConfirmed, out.State)
	}

	require.Len(t, provider.sent, 3)
	for k, tx := range provider.sent {
		require.Equal(t, uint64(k), tx.Nonce())
	}
}

func testIntent(sender common.Address) models.UpdateIntent {
	return models.UpdateIntent{
		Network: "testnet", Sender: sender.Hex(), Contract: "0x0000000000000000000000000000000000000001",
		Calldata: []byte{0x01, 0x02}, CreatedAt: time.Now(),
	}
}

func TestManager_Submit_RevertClassifiesFromRecoveredReason(t *testing.T) {
	provider := newFakeProvider()
	provider.nextStatus = 0
	provider.callAtBlockErr = &fakeDataError{msg: "execution reverted: not authorized", data: encodeErrorString(t, "not authorized")}
	store, sender := testStore(t)
	defer store.Close()
	oracle := testOracle()
	defer oracle.Close()

	m := New(testNetwork(), sender, provider, store, oracle, logger.New(logger.DefaultConfig()), testMetricsRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	out, err := m.Submit(ctx, testIntent(sender))
	assert.Error(t, err)
	assert.Equal(t, models.TxStateReverted, out.State)
	assert.Equal(t, RevertPermission, out.RevertClass)
}

func TestManager_Submit_BumpsFeeOnSlowConfirmationThenConfirms(t *testing.T) {
	provider := newFakeProvider()
	provider.waitReceiptTimeouts = 1
	store, sender := testStore(t)
	defer store.Close()
	oracle := testOracle()
	defer oracle.Close()

	m := New(testNetwork(), sender, provider, store, oracle, logger.New(logger.DefaultConfig()), testMetricsRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	out, err := m.Submit(ctx, testIntent(sender))
	require.NoError(t, err)
	assert.Equal(t, models.TxStateConfirmed, out.State)

	require.Len(t, provider.sent, 2, "expected one original submission plus one fee-bumped resubmission")
	original := provider.sent[0].GasPrice()
	bumped := provider.sent[1].GasPrice()
	assert.Equal(t, mulFloat(original, FeeBumpMultiplier), bumped)
}

func TestManager_Submit_AbandonsAfterExhaustingFeeBumps(t *testing.T) {
	provider := newFakeProvider()
	provider.waitReceiptTimeouts = MaxFeeBumpAttempts + 1
	store, sender := testStore(t)
	defer store.Close()
	oracle := testOracle()
	defer oracle.Close()

	m := New(testNetwork(), sender, provider, store, oracle, logger.New(logger.DefaultConfig()), testMetricsRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	out, err := m.Submit(ctx, testIntent(sender))
	assert.Error(t, err)
	assert.Equal(t, models.TxStateAbandonedAfterBumps, out.State)
	assert.Len(t, provider.sent, MaxFeeBumpAttempts+1, "one original submission plus a resubmission per bump attempt")
}
