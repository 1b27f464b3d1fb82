// Package feed implements the feed loop (component F): one ticker per
// configured datafeed that fetches an off-chain value, reads the
// on-chain aggregator round, decides whether an update is warranted,
// and dispatches an UpdateIntent to the transaction manager. Grounded
// on internal/defi/chainlink_client.go's GetLatestRoundData shape and
// internal/defi/arbitrage_detector.go's ticker-driven detectionLoop
// with its skip-if-busy running flag.
package feed

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/chainkeeper/chainkeeper/internal/abi"
	"github.com/chainkeeper/chainkeeper/internal/blockchain"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/models"
	"github.com/chainkeeper/chainkeeper/internal/txmanager"
)

// FeedTimestampApproximationSecs is used when a feed has no
// feed_json_path_timestamp configured.
const FeedTimestampApproximationSecs = 5

// UpdateReason explains why a feed cycle decided to submit an update.
type UpdateReason string

const (
	ReasonDeviation     UpdateReason = "Deviation"
	ReasonTime          UpdateReason = "Time"
	ReasonBoth          UpdateReason = "Both"
	ReasonInitialUpdate UpdateReason = "InitialUpdate"
)

// SkipReason explains why a feed cycle decided not to submit an update.
type SkipReason string

const (
	SkipNoDeviation SkipReason = "NoDeviation"
	SkipTooSoon     SkipReason = "TooSoon"
	SkipNoChange    SkipReason = "NoChange"
)

// Decision is the outcome of evaluating a feed cycle against its
// deviation and staleness thresholds.
type Decision struct {
	Update bool
	Reason UpdateReason
	Skip   SkipReason
}

// Dispatcher is the subset of the transaction manager the feed loop
// depends on.
type Dispatcher interface {
	Submit(ctx context.Context, intent models.UpdateIntent) (txmanager.Outcome, error)
}

// Feed runs one datafeed's check/update cycle on its own ticker.
type Feed struct {
	def      models.Datafeed
	provider blockchain.Provider
	dispatch Dispatcher
	sender   string
	log      *logger.Logger
	metrics  *metrics.Registry
	client   *http.Client

	submit   *abi.Definition
	roundDef *abi.Definition

	running      int32
	everObserved bool
}

// New constructs a Feed. sender is the address the manager will submit
// updates from for this feed's network.
func New(def models.Datafeed, provider blockchain.Provider, dispatch Dispatcher, sender string, log *logger.Logger, m *metrics.Registry) (*Feed, error) {
	submitDef, err := abi.Parse("submit(uint256)")
	if err != nil {
		return nil, err
	}
	roundDef, err := abi.Parse("latestRoundData(uint80,int256,uint256,uint256,uint80)")
	if err != nil {
		return nil, err
	}
	return &Feed{
		def: def, provider: provider, dispatch: dispatch, sender: sender,
		log: log.Named("feed." + def.Name), metrics: m,
		client: &http.Client{Timeout: 10 * time.Second},
		submit: submitDef, roundDef: roundDef,
	}, nil
}

// Run ticks every def.CheckFrequency() until ctx is cancelled, skipping
// a tick if the previous cycle is still running (spec.md §4.F scheduling
// guarantee).
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.def.CheckFrequency())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&f.running, 0, 1) {
				f.metrics.IncFeedSkip(f.def.Name, "cycle_overlap")
				continue
			}
			f.cycle(ctx)
			atomic.StoreInt32(&f.running, 0)
		}
	}
}

func (f *Feed) cycle(ctx context.Context) {
	f.metrics.IncFeedCheck(f.def.Name)

	obs, err := f.fetch(ctx)
	if err != nil {
		f.log.Warn("feed fetch failed", "error", err.Error())
		f.metrics.IncFeedSkip(f.def.Name, "fetch_error")
		return
	}
	if !validValue(obs.Value, f.def.MinValue, f.def.MaxValue) {
		f.log.Error("invalid feed value", "value", obs.Value)
		f.metrics.IncFeedSkip(f.def.Name, "invalid_value")
		return
	}

	contract, err := f.readRound(ctx)
	if err != nil {
		f.log.Warn("on-chain round read failed", "error", err.Error())
		f.metrics.IncFeedSkip(f.def.Name, "round_read_error")
		return
	}

	decision := f.decide(obs, contract)
	f.metrics.SetFeedStaleness(f.def.Name, time.Since(contract.UpdatedAt).Seconds())

	if !decision.Update {
		f.log.Debug("skipping feed update", "reason", string(decision.Skip))
		f.metrics.IncFeedSkip(f.def.Name, string(decision.Skip))
		return
	}

	f.everObserved = true
	if err := f.submitUpdate(ctx, obs, decision.Reason); err != nil {
		f.log.Error("feed update submission failed", "error", err.Error())
	}
}

func (f *Feed) fetch(ctx context.Context) (models.FeedObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.def.FeedURL, nil)
	if err != nil {
		return models.FeedObservation{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return models.FeedObservation{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.FeedObservation{}, err
	}

	value := gjson.GetBytes(body, f.def.FeedJSONPath)
	if !value.Exists() {
		return models.FeedObservation{}, fmt.Errorf("json path %q not found in feed response", f.def.FeedJSONPath)
	}

	obs := models.FeedObservation{Value: value.Float()}
	if f.def.FeedJSONPathTimestamp != "" {
		ts := gjson.GetBytes(body, f.def.FeedJSONPathTimestamp)
		if ts.Exists() {
			obs.SourceTimestamp = time.Unix(ts.Int(), 0)
			return obs, nil
		}
	}
	obs.SourceTimestamp = time.Now().Add(-FeedTimestampApproximationSecs * time.Second)
	obs.TimestampApprox = true
	return obs, nil
}

func validValue(v float64, min, max *float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

func (f *Feed) readRound(ctx context.Context) (models.ContractState, error) {
	calldata, err := f.roundDef.Encode()
	if err != nil {
		return models.ContractState{}, err
	}

	out, err := f.provider.Call(ctx, common.HexToAddress(f.def.ContractAddress), calldata)
	if err != nil {
		return models.ContractState{}, err
	}
	values, err := f.roundDef.Decode(out)
	if err != nil {
		return models.ContractState{}, err
	}
	if len(values) != 5 {
		return models.ContractState{}, fmt.Errorf("latestRoundData: expected 5 return values, got %d", len(values))
	}
	roundID, _ := values[0].(*big.Int)
	answer, _ := values[1].(*big.Int)
	updatedAt, _ := values[3].(*big.Int)
	answeredInRound, _ := values[4].(*big.Int)

	return models.ContractState{
		RoundID: roundID, Answer: answer,
		UpdatedAt:       time.Unix(updatedAt.Int64(), 0),
		AnsweredInRound: answeredInRound,
		Decimals:        f.def.Decimals,
	}, nil
}

// decide implements spec.md §4.F.4's deviation/staleness decision.
func (f *Feed) decide(obs models.FeedObservation, contract models.ContractState) Decision {
	if !f.everObserved {
		return Decision{Update: true, Reason: ReasonInitialUpdate}
	}

	contractValue := contract.ScaledAnswer()
	deviationMet := deviationMet(obs.Value, contractValue, f.def.DeviationThresholdPct)
	timeMet := time.Since(contract.UpdatedAt) >= f.def.MinimumUpdateFrequency()

	switch {
	case deviationMet && timeMet:
		return Decision{Update: true, Reason: ReasonBoth}
	case deviationMet:
		return Decision{Update: true, Reason: ReasonDeviation}
	case timeMet:
		return Decision{Update: true, Reason: ReasonTime}
	case obs.Value == contractValue:
		return Decision{Update: false, Skip: SkipNoChange}
	case f.def.DeviationThresholdPct > 0:
		return Decision{Update: false, Skip: SkipNoDeviation}
	default:
		return Decision{Update: false, Skip: SkipTooSoon}
	}
}

func deviationMet(feedValue, contractValue, thresholdPct float64) bool {
	if contractValue == 0 {
		return feedValue != 0
	}
	deviation := math.Abs(feedValue-contractValue) / math.Abs(contractValue) * 100
	return deviation >= thresholdPct
}

func (f *Feed) submitUpdate(ctx context.Context, obs models.FeedObservation, reason UpdateReason) error {
	scaled := scaleToInt(obs.Value, f.def.Decimals)
	calldata, err := f.submit.Encode(scaled)
	if err != nil {
		return fmt.Errorf("encode submit call: %w", err)
	}

	intent := models.UpdateIntent{
		Network: f.def.Network, Sender: f.sender, Contract: f.def.ContractAddress,
		Calldata: calldata, OriginatorKind: "feed", OriginatorName: f.def.Name,
		CorrelationID: uuid.New().String(), CreatedAt: time.Now(),
	}

	outcome, err := f.dispatch.Submit(ctx, intent)
	if err != nil {
		f.metrics.IncFeedUpdate(f.def.Name, string(reason)+"_failed")
		return err
	}
	f.metrics.IncFeedUpdate(f.def.Name, string(reason))
	f.log.Info("feed update submitted", "reason", string(reason), "state", string(outcome.State))
	return nil
}

func scaleToInt(v float64, decimals uint8) *big.Int {
	factor := new(big.Float).SetFloat64(math.Pow(10, float64(decimals)))
	scaled := new(big.Float).Mul(big.NewFloat(v), factor)
	out, _ := scaled.Int(nil)
	return out
}

