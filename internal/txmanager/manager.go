// Package txmanager implements the transaction manager (component E):
// one actor per (network, sender), serializing nonce-sensitive
// submission through a single-consumer mailbox the way
// internal/defi/arbitrage_detector.go serializes opportunity handling
// through its own channel, generalized from a detection loop into a
// submit/confirm/fee-bump state machine grounded on
// internal/transaction/service.go's build-sign-send pipeline.
package txmanager

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"

	"github.com/chainkeeper/chainkeeper/internal/blockchain"
	"github.com/chainkeeper/chainkeeper/internal/gasprice"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/models"
	"github.com/chainkeeper/chainkeeper/internal/secrets"
)

const (
	// FeeBumpMultiplier is the default per-bump fee multiplier.
	FeeBumpMultiplier = 1.1
	// MaxFeeBumpAttempts bounds fee-bump resubmissions per intent.
	MaxFeeBumpAttempts = 3
	// MaxNetworkRetries bounds retryable-error resubmission attempts.
	MaxNetworkRetries = 3
	// NetworkRetryBaseDelay is the base exponential backoff delay.
	NetworkRetryBaseDelay = time.Second
	// DefaultGasLimitFallback is used when estimation fails and no
	// per-network default is configured.
	DefaultGasLimitFallback = uint64(300_000)
)

// Outcome is the terminal result of a submitted intent.
type Outcome struct {
	State       models.TxState
	Receipt     *blockchain.Receipt
	RevertClass RevertClass
	USDCost     float64
	Err         error
}

// job is one pending submission routed through the actor's mailbox.
type job struct {
	intent models.UpdateIntent
	result chan Outcome
}

// Manager is the single-consumer actor for one (network, sender) pair.
type Manager struct {
	network  models.Network
	sender   common.Address
	provider blockchain.Provider
	store    *secrets.Store
	oracle   *gasprice.Oracle
	log      *logger.Logger
	metrics  *metrics.Registry

	mailbox chan job
	stop    chan struct{}
	wg      sync.WaitGroup

	mu         sync.Mutex
	localNonce uint64
	nonceReady bool
}

// New constructs a Manager for network and sender. Call Run to start
// its mailbox loop.
func New(network models.Network, sender common.Address, provider blockchain.Provider, store *secrets.Store, oracle *gasprice.Oracle, log *logger.Logger, m *metrics.Registry) *Manager {
	return &Manager{
		network:  network,
		sender:   sender,
		provider: provider,
		store:    store,
		oracle:   oracle,
		log:      log.Named(fmt.Sprintf("txmanager.%s.%s", network.Name, sender.Hex())),
		metrics:  m,
		mailbox:  make(chan job, 256),
		stop:     make(chan struct{}),
	}
}

// Run drains the mailbox on a single goroutine, guaranteeing the
// one-nonce-at-a-time invariant for this sender (spec.md §4.E).
func (m *Manager) Run(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case j := <-m.mailbox:
			outcome := m.process(ctx, j.intent)
			j.result <- outcome
		}
	}
}

// Close stops accepting new work. Run finishes the job it is processing,
// if any, and then returns; jobs still queued in the mailbox are not
// processed. Use Wait to bound how long that in-flight job may take.
func (m *Manager) Close() { close(m.stop) }

// Wait blocks until Run has fully exited (the in-flight job, if any,
// has finished processing) or ctx is done, whichever comes first. The
// caller is expected to pass a deadline-bounded ctx so an unexpectedly
// slow in-flight submission can't hang shutdown forever.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SenderHex returns the sending address in 0x-prefixed hex, used by
// callers that embed it in UpdateIntent.Sender fields.
func (m *Manager) SenderHex() string { return m.sender.Hex() }

// Submit enqueues an intent and blocks until its terminal Outcome is
// known. Different senders never block each other; intents for the
// same sender are strictly ordered through the mailbox.
func (m *Manager) Submit(ctx context.Context, intent models.UpdateIntent) (Outcome, error) {
	m.metrics.IncTxAttempt(m.network.Name, m.sender.Hex())
	result := make(chan Outcome, 1)
	select {
	case m.mailbox <- job{intent: intent, result: result}:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-m.stop:
		return Outcome{}, fmt.Errorf("transaction manager for %s/%s is closed", m.network.Name, m.sender.Hex())
	}
	select {
	case out := <-result:
		return out, out.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// process runs one intent through build/sign/send/confirm/fee-bump.
func (m *Manager) process(ctx context.Context, intent models.UpdateIntent) Outcome {
	nonce, err := m.nextNonce(ctx)
	if err != nil {
		return Outcome{State: models.TxStateBuilding, Err: fmt.Errorf("resolve nonce: %w", err)}
	}

	pending := &models.PendingTransaction{Intent: intent, Nonce: nonce, State: models.TxStateBuilding}

	tx, fee, tip, err := m.buildAndSign(ctx, intent, nonce)
	if err != nil {
		return Outcome{State: models.TxStateBuilding, Err: fmt.Errorf("build/sign: %w", err)}
	}

	if err := m.sendWithRetry(ctx, tx); err != nil {
		return Outcome{State: models.TxStateBuilding, Err: fmt.Errorf("send: %w", err)}
	}
	pending.State = models.TxStateSubmitted
	pending.Attempts = append(pending.Attempts, models.Attempt{Hash: tx.Hash().Hex(), FeeWei: fee, TipWei: tip, SubmittedAt: time.Now()})
	m.metrics.SetLastGasPriceGwei(m.network.Name, gweiFromWei(fee))

	return m.confirmOrBump(ctx, pending, fee, tip)
}

// confirmOrBump waits for a receipt; on deadline it resubmits with a
// bumped fee at the same nonce, up to MaxFeeBumpAttempts.
func (m *Manager) confirmOrBump(ctx context.Context, pending *models.PendingTransaction, fee, tip *big.Int) Outcome {
	deadline := time.Duration(float64(m.network.ExpectedBlockTime) * confirmationMultiplier(m.network))

	for attempt := 0; ; attempt++ {
		latest := pending.LatestAttempt()
		receipt, err := m.provider.WaitReceipt(ctx, common.HexToHash(latest.Hash), deadline)
		if err == nil {
			return m.finalize(ctx, pending, receipt, fee)
		}

		if attempt >= MaxFeeBumpAttempts {
			pending.State = models.TxStateAbandonedAfterBumps
			m.metrics.IncTxAbandoned(m.network.Name, m.sender.Hex())
			if severity, rerr := m.reconcile(ctx); rerr == nil && severity != GapNone {
				m.log.Warn("nonce resynced after fee bump exhaustion", "severity", string(severity))
			}
			return Outcome{State: pending.State, Err: fmt.Errorf("fee bump exhausted after %d attempts: %w", attempt, err)}
		}

		pending.State = models.TxStateBumping
		fee = BumpFee(fee, FeeBumpMultiplier)
		if tip != nil {
			tip = BumpFee(tip, FeeBumpMultiplier)
		}
		m.metrics.IncTxBumped(m.network.Name, m.sender.Hex())

		tx, err := m.rebuild(ctx, pending.Intent, pending.Nonce, fee, tip)
		if err != nil {
			return Outcome{State: pending.State, Err: fmt.Errorf("rebuild for fee bump: %w", err)}
		}
		if err := m.sendWithRetry(ctx, tx); err != nil {
			return Outcome{State: pending.State, Err: fmt.Errorf("resubmit for fee bump: %w", err)}
		}
		pending.Attempts = append(pending.Attempts, models.Attempt{Hash: tx.Hash().Hex(), FeeWei: fee, TipWei: tip, SubmittedAt: time.Now()})
		pending.State = models.TxStateSubmitted
	}
}

func confirmationMultiplier(n models.Network) float64 {
	if n.ConfirmationWaitMx <= 0 {
		return 3.0
	}
	return n.ConfirmationWaitMx
}

func (m *Manager) finalize(ctx context.Context, pending *models.PendingTransaction, receipt *blockchain.Receipt, fee *big.Int) Outcome {
	if receipt.Status == 1 {
		pending.State = models.TxStateConfirmed
		m.metrics.IncTxConfirmed(m.network.Name, m.sender.Hex())

		usd, ok := m.oracle.USDCost(receipt.GasUsed, decimalFromWei(fee), m.network.Name)
		out := Outcome{State: pending.State, Receipt: receipt}
		if ok {
			f, _ := usd.Float64()
			out.USDCost = f
			m.metrics.AddTxCostUSD(m.network.Name, m.sender.Hex(), f)
		}
		return out
	}

	reason := m.revertReason(ctx, pending.Intent, receipt.BlockNumber)
	class := ClassifyRevert(reason)
	pending.State = models.TxStateReverted
	m.metrics.IncTxReverted(m.network.Name, m.sender.Hex(), string(class))
	return Outcome{State: pending.State, Receipt: receipt, RevertClass: class, Err: fmt.Errorf("transaction reverted: %s", class)}
}

// revertReason replays the intent's call at the block the failing
// transaction was mined in and decodes the Solidity revert payload,
// the way an explorer recovers a human-readable reason for a failed
// transaction rather than just reporting status == 0. Falls back to an
// empty string (classified as RevertOther) if the node's eth_call
// doesn't actually revert at that block (e.g. state already moved on)
// or returns no structured data.
func (m *Manager) revertReason(ctx context.Context, intent models.UpdateIntent, blockNumber uint64) string {
	callMsg := ethereum.CallMsg{From: m.sender, To: addrPtr(intent.Contract), Data: intent.Calldata, Value: valueOrZero(intent.Value)}
	_, err := m.provider.CallAtBlock(ctx, callMsg, new(big.Int).SetUint64(blockNumber))
	if err == nil {
		return ""
	}
	return blockchain.DecodeRevertReason(err)
}

// sendWithRetry retries transient provider failures (timeout, rate
// limit, connection) with bounded exponential backoff, matching the
// avast/retry-go usage in smartcontractkit/seth's resubmission helper.
func (m *Manager) sendWithRetry(ctx context.Context, tx *types.Transaction) error {
	return retry.Do(
		func() error { return m.provider.SendRaw(ctx, tx) },
		retry.Context(ctx),
		retry.Attempts(uint(MaxNetworkRetries+1)),
		retry.Delay(NetworkRetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return blockchain.Classify(err).Retryable() }),
		retry.OnRetry(func(n uint, err error) {
			m.log.Warn("retrying transaction send", "attempt", n, "error", err.Error())
		}),
		retry.LastErrorOnly(true),
	)
}

func (m *Manager) buildAndSign(ctx context.Context, intent models.UpdateIntent, nonce uint64) (*types.Transaction, *big.Int, *big.Int, error) {
	callMsg := ethereum.CallMsg{From: m.sender, To: addrPtr(intent.Contract), Data: intent.Calldata, Value: valueOrZero(intent.Value)}
	gasLimit := EstimateGasLimit(ctx, m.provider, callMsg, m.network.GasPolicy)

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("chain id: %w", err)
	}

	var txData types.TxData
	var fee, tip *big.Int
	if m.network.TxStyle == models.TxStyleEIP1559 {
		tip, fee, err = EIP1559Fee(ctx, m.provider, m.network.GasPolicy, intent.MaxGasPriceGwei)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("select eip1559 fee: %w", err)
		}
		txData = &types.DynamicFeeTx{
			ChainID: chainID, Nonce: nonce, GasTipCap: tip, GasFeeCap: fee,
			Gas: gasLimit, To: addrPtr(intent.Contract), Value: valueOrZero(intent.Value), Data: intent.Calldata,
		}
	} else {
		fee, err = LegacyFee(ctx, m.provider, m.network.GasPolicy, intent.MaxGasPriceGwei)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("select legacy fee: %w", err)
		}
		txData = &types.LegacyTx{Nonce: nonce, GasPrice: fee, Gas: gasLimit, To: addrPtr(intent.Contract), Value: valueOrZero(intent.Value), Data: intent.Calldata}
	}

	tx, err := m.sign(ctx, chainID, txData)
	if err != nil {
		return nil, nil, nil, err
	}
	return tx, fee, tip, nil
}

func (m *Manager) rebuild(ctx context.Context, intent models.UpdateIntent, nonce uint64, fee, tip *big.Int) (*types.Transaction, error) {
	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	callMsg := ethereum.CallMsg{From: m.sender, To: addrPtr(intent.Contract), Data: intent.Calldata, Value: valueOrZero(intent.Value)}
	gasLimit := EstimateGasLimit(ctx, m.provider, callMsg, m.network.GasPolicy)

	var txData types.TxData
	if m.network.TxStyle == models.TxStyleEIP1559 {
		txData = &types.DynamicFeeTx{ChainID: chainID, Nonce: nonce, GasTipCap: tip, GasFeeCap: fee, Gas: gasLimit, To: addrPtr(intent.Contract), Value: valueOrZero(intent.Value), Data: intent.Calldata}
	} else {
		txData = &types.LegacyTx{Nonce: nonce, GasPrice: fee, Gas: gasLimit, To: addrPtr(intent.Contract), Value: valueOrZero(intent.Value), Data: intent.Calldata}
	}
	return m.sign(ctx, chainID, txData)
}

func (m *Manager) sign(ctx context.Context, chainID *big.Int, txData types.TxData) (*types.Transaction, error) {
	secret, err := m.store.Get(ctx, m.network.Name)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignNewTx(secret.PrivateKey(), signer, txData)
}

// nextNonce reads the provider's pending nonce on first use, then
// increments locally in steady state. It does not compare against the
// provider itself; gaps are classified only when reconcile resyncs.
func (m *Manager) nextNonce(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.nonceReady {
		n, err := m.provider.Nonce(ctx, m.sender, blockchain.NoncePending)
		if err != nil {
			return 0, err
		}
		m.localNonce = n
		m.nonceReady = true
	}

	n := m.localNonce
	m.localNonce++
	return n, nil
}

// reconcile resyncs local nonce tracking from the provider after an
// AbandonedAfterBumps event, reporting the gap severity that
// triggered the resync (spec.md §4.E/§8).
func (m *Manager) reconcile(ctx context.Context) (NonceGapSeverity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	actual, err := m.provider.Nonce(ctx, m.sender, blockchain.NoncePending)
	if err != nil {
		return GapNone, err
	}
	gap := int64(actual) - int64(m.localNonce)
	m.localNonce = actual
	m.nonceReady = true
	return ClassifyGap(gap), nil
}

func addrPtr(hex string) *common.Address {
	a := common.HexToAddress(hex)
	return &a
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func gweiFromWei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, new(big.Float).SetInt(gweiFactor))
	out, _ := f.Float64()
	return out
}

func decimalFromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0)
}
