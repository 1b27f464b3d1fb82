// Package scheduler implements the cron-driven, predicate-guarded
// scheduled-task engine (component G), using robfig/cron/v3 for fire
// time computation the way a production Go service reaches for a real
// cron library rather than hand-rolling next-fire-time arithmetic, and
// following internal/defi/arbitrage_detector.go's worker shape for the
// per-task goroutine.
package scheduler

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/chainkeeper/chainkeeper/internal/abi"
	"github.com/chainkeeper/chainkeeper/internal/blockchain"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/models"
	"github.com/chainkeeper/chainkeeper/internal/txmanager"
)

// Dispatcher is the subset of the transaction manager the scheduler
// depends on.
type Dispatcher interface {
	Submit(ctx context.Context, intent models.UpdateIntent) (txmanager.Outcome, error)
}

// Scheduler drives every configured task's cron schedule.
type Scheduler struct {
	cronEngine *cron.Cron
	provider   blockchain.Provider
	dispatch   Dispatcher
	sender     string
	log        *logger.Logger
	metrics    *metrics.Registry
}

// New builds a Scheduler whose cron parser accepts both 5-field
// expressions and 6-field ones with a leading seconds field
// (robfig/cron/v3's SecondOptional), plus descriptors such as @hourly.
func New(provider blockchain.Provider, dispatch Dispatcher, sender string, log *logger.Logger, m *metrics.Registry) *Scheduler {
	return &Scheduler{
		cronEngine: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		provider: provider, dispatch: dispatch, sender: sender,
		log: log.Named("scheduler"), metrics: m,
	}
}

// Add registers a task's cron expression; errors surface malformed
// expressions at startup (configuration errors are fatal per spec.md §7).
func (s *Scheduler) Add(task models.ScheduledTaskDef) error {
	_, err := s.cronEngine.AddFunc(task.CronExpr, func() { s.fire(context.Background(), task) })
	if err != nil {
		return fmt.Errorf("scheduled task %s: invalid cron expression %q: %w", task.Name, task.CronExpr, err)
	}
	return nil
}

// Start begins firing registered tasks.
func (s *Scheduler) Start() { s.cronEngine.Start() }

// Stop stops firing new task runs and returns a context that is done
// once in-flight runs have finished; it does not wait itself.
func (s *Scheduler) Stop() context.Context { return s.cronEngine.Stop() }

func (s *Scheduler) fire(ctx context.Context, task models.ScheduledTaskDef) {
	if task.CheckCondition != nil {
		met, err := s.evaluateCondition(ctx, *task.CheckCondition)
		if err != nil {
			s.log.Error("scheduled task condition check failed", "task", task.Name, "error", err.Error())
			s.metrics.IncSchedulerRun(task.Name, "condition_error")
			return
		}
		if !met {
			s.log.Debug("scheduled task condition unmet", "task", task.Name)
			s.metrics.IncSchedulerRun(task.Name, "condition_unmet")
			return
		}
	}

	if err := s.submitTargetCall(ctx, task); err != nil {
		s.log.Error("scheduled task submission failed", "task", task.Name, "error", err.Error())
		s.metrics.IncSchedulerRun(task.Name, "submit_error")
		return
	}
	s.metrics.IncSchedulerRun(task.Name, "fired")
}

// evaluateCondition calls the configured read-only predicate and
// compares it to the expected value with type-directed comparison
// (spec.md §4.G).
func (s *Scheduler) evaluateCondition(ctx context.Context, cond models.CheckCondition) (bool, error) {
	switch {
	case cond.Property != nil:
		return s.evalCall(ctx, cond.Property.Address, cond.Property.PropertyName+"()", cond.Property.ExpectedValue)
	case cond.Function != nil:
		return s.evalCall(ctx, cond.Function.Address, cond.Function.Signature, cond.Function.ExpectedReturn)
	default:
		return true, nil
	}
}

func (s *Scheduler) evalCall(ctx context.Context, address, signature, expected string) (bool, error) {
	def, err := abi.Parse(signature)
	if err != nil {
		return false, err
	}
	calldata, err := def.Encode()
	if err != nil {
		return false, err
	}
	out, err := s.provider.Call(ctx, common.HexToAddress(address), calldata)
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, fmt.Errorf("predicate %s returned no data", signature)
	}
	// A read-only predicate is expected to return a single value;
	// compareReturn picks the comparison from the expected literal.
	return compareReturn(out, expected), nil
}

// compareReturn does type-directed comparison of a single ABI-encoded
// return word against an expected string literal: boolean, then
// address, then numeric equality. The word is read as an unsigned
// integer, so negative int256 returns do not match negative literals.
func compareReturn(word []byte, expected string) bool {
	if len(word) < 32 {
		return false
	}
	last := word[len(word)-32:]

	switch strings.ToLower(strings.TrimSpace(expected)) {
	case "true":
		return last[31] == 1
	case "false":
		return last[31] == 0
	}

	if strings.HasPrefix(expected, "0x") && len(expected) == 42 {
		return common.BytesToAddress(last).Hex() == common.HexToAddress(expected).Hex()
	}

	got := new(big.Int).SetBytes(last)
	want, ok := new(big.Int).SetString(strings.TrimSpace(expected), 10)
	if !ok {
		return false
	}
	return got.Cmp(want) == 0
}

func (s *Scheduler) submitTargetCall(ctx context.Context, task models.ScheduledTaskDef) error {
	def, err := abi.Parse(task.TargetCall.Signature)
	if err != nil {
		return fmt.Errorf("parse target call signature: %w", err)
	}
	params, err := resolveParams(def.Types, task.TargetCall.Params)
	if err != nil {
		return fmt.Errorf("resolve target call params: %w", err)
	}
	calldata, err := def.Encode(params...)
	if err != nil {
		return fmt.Errorf("encode target call: %w", err)
	}

	intent := models.UpdateIntent{
		Network: task.Network, Sender: s.sender, Contract: task.TargetCall.Address,
		Calldata: calldata, MaxGasPriceGwei: task.MaxGasPriceGwei,
		OriginatorKind: "task", OriginatorName: task.Name,
		CorrelationID: uuid.New().String(),
	}
	_, err = s.dispatch.Submit(ctx, intent)
	return err
}

// resolveParams converts config-level string literals to the Go types
// ethabi.Arguments.PackValues expects, by declared type.
func resolveParams(types []string, literals []string) ([]interface{}, error) {
	if len(types) != len(literals) {
		return nil, fmt.Errorf("expected %d parameters, got %d", len(types), len(literals))
	}
	out := make([]interface{}, len(literals))
	for i, lit := range literals {
		v, err := resolveParam(types[i], lit)
		if err != nil {
			return nil, fmt.Errorf("parameter %d (%s): %w", i, types[i], err)
		}
		out[i] = v
	}
	return out, nil
}

func resolveParam(typ, literal string) (interface{}, error) {
	switch {
	case typ == "address":
		return common.HexToAddress(literal), nil
	case typ == "bool":
		return strconv.ParseBool(literal)
	case strings.HasPrefix(typ, "uint") || strings.HasPrefix(typ, "int"):
		v, ok := new(big.Int).SetString(literal, 10)
		if !ok {
			return nil, fmt.Errorf("not an integer literal: %q", literal)
		}
		return v, nil
	case typ == "string":
		return literal, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type for scheduled-task literal resolution: %s", typ)
	}
}
