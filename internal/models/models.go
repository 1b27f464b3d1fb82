// Package models holds the shared data shapes passed between chainkeeper's
// components: network/feed/task/monitor configuration, and the runtime
// records (observations, intents, pending transactions, prices) that flow
// between them.
package models

import (
	"math/big"
	"time"
)

// TxStyle is the transaction envelope a network expects.
type TxStyle string

const (
	TxStyleLegacy  TxStyle = "legacy"
	TxStyleEIP1559 TxStyle = "eip1559"
)

// GasToken identifies the symbolic native token used for USD costing.
type GasToken struct {
	ID     string `yaml:"id" json:"id"`
	Symbol string `yaml:"symbol" json:"symbol"`
}

// GasPolicy bounds and multipliers used by the transaction manager's fee
// selection for a network.
type GasPolicy struct {
	MaxGasPriceGwei    float64 `yaml:"max_gas_price_gwei" json:"max_gas_price_gwei"`
	GasPriceMultiplier float64 `yaml:"gas_price_multiplier" json:"gas_price_multiplier"`
	MinPriorityFeeGwei float64 `yaml:"min_priority_fee_gwei" json:"min_priority_fee_gwei"`
	MaxPriorityFeeGwei float64 `yaml:"max_priority_fee_gwei" json:"max_priority_fee_gwei"`
	DefaultGasLimit    uint64  `yaml:"default_gas_limit" json:"default_gas_limit"`
	GasLimitMultiplier float64 `yaml:"gas_limit_multiplier" json:"gas_limit_multiplier"`
}

// Network is a stable chain identifier plus its RPC and gas policy.
type Network struct {
	Name               string        `yaml:"name" json:"name"`
	RPCURL             string        `yaml:"rpc_url" json:"rpc_url"`
	TxStyle            TxStyle       `yaml:"transaction_type" json:"transaction_type"`
	GasPolicy          GasPolicy     `yaml:"gas" json:"gas"`
	GasToken           GasToken      `yaml:"gas_token" json:"gas_token"`
	ExpectedBlockTime  time.Duration `yaml:"expected_block_time" json:"expected_block_time"`
	ConfirmationWaitMx float64       `yaml:"confirmation_wait_multiplier" json:"confirmation_wait_multiplier"`
}

// ContractType enumerates the supported on-chain aggregator shapes.
type ContractType string

const (
	ContractTypeFluxmon ContractType = "fluxmon"
)

// Datafeed describes one off-chain-to-on-chain oracle feed.
type Datafeed struct {
	Name                       string        `yaml:"name" json:"name"`
	Network                    string        `yaml:"network" json:"network"`
	ContractAddress            string        `yaml:"contract_address" json:"contract_address"`
	ContractType               ContractType  `yaml:"contract_type" json:"contract_type"`
	Decimals                   uint8         `yaml:"decimals" json:"decimals"`
	MinValue                   *float64      `yaml:"min_value,omitempty" json:"min_value,omitempty"`
	MaxValue                   *float64      `yaml:"max_value,omitempty" json:"max_value,omitempty"`
	CheckFrequencySecs         int           `yaml:"check_frequency_secs" json:"check_frequency_secs"`
	MinimumUpdateFrequencySecs int           `yaml:"minimum_update_frequency_secs" json:"minimum_update_frequency_secs"`
	DeviationThresholdPct      float64       `yaml:"deviation_threshold_pct" json:"deviation_threshold_pct"`
	FeedURL                    string        `yaml:"feed_url" json:"feed_url"`
	FeedJSONPath               string        `yaml:"feed_json_path" json:"feed_json_path"`
	FeedJSONPathTimestamp      string        `yaml:"feed_json_path_timestamp,omitempty" json:"feed_json_path_timestamp,omitempty"`
	RetentionHorizon           time.Duration `yaml:"retention_horizon,omitempty" json:"retention_horizon,omitempty"`
}

// CheckFrequency returns the configured check interval as a duration.
func (d Datafeed) CheckFrequency() time.Duration {
	return time.Duration(d.CheckFrequencySecs) * time.Second
}

// MinimumUpdateFrequency returns the staleness bound as a duration.
func (d Datafeed) MinimumUpdateFrequency() time.Duration {
	return time.Duration(d.MinimumUpdateFrequencySecs) * time.Second
}

// Validate enforces the invariants from spec.md §3.
func (d Datafeed) Validate() error {
	switch {
	case d.DeviationThresholdPct < 0 || d.DeviationThresholdPct > 100:
		return fieldErr("datafeed", d.Name, "deviation_threshold_pct must be within [0,100]")
	case d.Decimals > 18:
		return fieldErr("datafeed", d.Name, "decimals must be <= 18")
	case d.CheckFrequencySecs <= 0:
		return fieldErr("datafeed", d.Name, "check_frequency_secs must be > 0")
	case d.MinimumUpdateFrequencySecs < d.CheckFrequencySecs:
		return fieldErr("datafeed", d.Name, "minimum_update_frequency_secs must be >= check_frequency_secs")
	}
	return nil
}

func fieldErr(kind, name, msg string) error {
	return &ValidationError{Kind: kind, Name: name, Msg: msg}
}

// ValidationError reports an invalid configuration entry by kind and name.
type ValidationError struct {
	Kind string
	Name string
	Msg  string
}

func (e *ValidationError) Error() string {
	return e.Kind + " " + e.Name + ": " + e.Msg
}

// FeedObservation is one fetched value from a feed cycle.
type FeedObservation struct {
	Value             float64
	SourceTimestamp   time.Time
	TimestampApprox   bool
	CycleID           uint64
}

// ContractState is the latest on-chain round observed for a feed.
type ContractState struct {
	RoundID         *big.Int
	Answer          *big.Int
	UpdatedAt       time.Time
	AnsweredInRound *big.Int
	Decimals        uint8
}

// ScaledAnswer returns the on-chain answer scaled to a float by decimals.
func (c ContractState) ScaledAnswer() float64 {
	if c.Answer == nil {
		return 0
	}
	f := new(big.Float).SetInt(c.Answer)
	divisor := new(big.Float).SetFloat64(pow10(c.Decimals))
	f.Quo(f, divisor)
	out, _ := f.Float64()
	return out
}

func pow10(n uint8) float64 {
	out := 1.0
	for i := uint8(0); i < n; i++ {
		out *= 10
	}
	return out
}

// UpdateIntent is an immutable description of a desired on-chain action,
// handed from a producer (feed, task, or monitor) to the transaction
// manager.
type UpdateIntent struct {
	Network          string
	Sender           string
	Contract         string
	Calldata         []byte
	Value            *big.Int
	MaxGasPriceGwei  *float64
	OriginatorKind   string // "feed", "task", "monitor"
	OriginatorName   string
	CorrelationID    string
	CreatedAt        time.Time
}

// TxState is a PendingTransaction's position in the submission state
// machine (spec.md §4.E).
type TxState string

const (
	TxStateBuilding            TxState = "building"
	TxStateSubmitted           TxState = "submitted"
	TxStateConfirmed           TxState = "confirmed"
	TxStateReverted            TxState = "reverted"
	TxStateBumping             TxState = "bumping"
	TxStateDropped             TxState = "dropped"
	TxStateAbandonedAfterBumps TxState = "abandoned_after_bumps"
)

// Attempt records one submission (original or fee-bumped) of a logical
// transaction.
type Attempt struct {
	Hash        string
	FeeWei      *big.Int
	TipWei      *big.Int
	SubmittedAt time.Time
}

// PendingTransaction tracks one logical transaction through its lifecycle,
// including every fee-bump attempt made for it.
type PendingTransaction struct {
	Intent   UpdateIntent
	Nonce    uint64
	Attempts []Attempt
	State    TxState
}

// LatestAttempt returns the most recent submission, or the zero value if
// none have been made yet.
func (p *PendingTransaction) LatestAttempt() Attempt {
	if len(p.Attempts) == 0 {
		return Attempt{}
	}
	return p.Attempts[len(p.Attempts)-1]
}

// PriceEntry is a cached USD price for a symbolic gas token.
type PriceEntry struct {
	TokenID   string
	USD       float64
	FetchedAt time.Time
}

// Stale reports whether the entry has outlived the given TTL as of now.
func (p PriceEntry) Stale(ttl time.Duration, now time.Time) bool {
	return now.Sub(p.FetchedAt) > ttl
}

// CheckCondition is a predicate a scheduled task evaluates before firing.
type CheckCondition struct {
	Property *PropertyCheck
	Function *FunctionCheck
}

// PropertyCheck reads a contract property and compares it to an expected
// value.
type PropertyCheck struct {
	Address       string
	PropertyName  string
	ExpectedValue string
}

// FunctionCheck calls a read-only contract function and compares its
// return value to an expected value.
type FunctionCheck struct {
	Address        string
	Signature      string
	ExpectedReturn string
}

// TargetCall is the contract call a scheduled task submits when its
// condition (if any) is satisfied.
type TargetCall struct {
	Address   string
	Signature string
	Params    []string
}

// ScheduledTaskDef describes a cron-driven, predicate-guarded contract
// call.
type ScheduledTaskDef struct {
	Name           string          `yaml:"name" json:"name"`
	Network        string          `yaml:"network" json:"network"`
	CronExpr       string          `yaml:"cron_expr" json:"cron_expr"`
	CheckCondition *CheckCondition `yaml:"-" json:"-"`
	TargetCall     TargetCall      `yaml:"target_call" json:"target_call"`
	MaxGasPriceGwei *float64       `yaml:"max_gas_price_gwei,omitempty" json:"max_gas_price_gwei,omitempty"`
}

// WebhookMethod is the HTTP verb an event monitor uses to deliver a
// payload.
type WebhookMethod string

const (
	WebhookGET    WebhookMethod = "GET"
	WebhookPOST   WebhookMethod = "POST"
	WebhookPUT    WebhookMethod = "PUT"
	WebhookPATCH  WebhookMethod = "PATCH"
	WebhookDELETE WebhookMethod = "DELETE"
)

// WebhookConfig describes where and how an event monitor delivers its
// payload.
type WebhookConfig struct {
	URL         string            `yaml:"url" json:"url"`
	Method      WebhookMethod     `yaml:"method" json:"method"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout     time.Duration     `yaml:"timeout" json:"timeout"`
	Retries     int               `yaml:"retries" json:"retries"`
	RetryDelay  time.Duration     `yaml:"retry_delay" json:"retry_delay"`
}

// ResponseType selects which handler processes a webhook's response.
type ResponseType string

const (
	ResponseLogOnly      ResponseType = "LogOnly"
	ResponseContractCall ResponseType = "ContractCall"
	ResponseStoreDb      ResponseType = "StoreDb"
	ResponseMultiAction  ResponseType = "MultiAction"
)

// ContractCallConfig parameterizes the ContractCall response handler.
type ContractCallConfig struct {
	Network string `yaml:"network" json:"network"`
	Sender  string `yaml:"sender" json:"sender"`
}

// ValidationConfig guards webhook responses that must be signed.
type ValidationConfig struct {
	RequireSignature bool     `yaml:"require_signature" json:"require_signature"`
	AllowedSigners   []string `yaml:"allowed_signers,omitempty" json:"allowed_signers,omitempty"`
}

// ResponseConfig describes how a webhook's response is handled.
type ResponseConfig struct {
	Type        ResponseType         `yaml:"type" json:"type"`
	ContractCall *ContractCallConfig `yaml:"contract_call,omitempty" json:"contract_call,omitempty"`
	Validation   *ValidationConfig   `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// EventParam names one parameter of an event for ABI decoding, mirroring
// the upstream smart contract engine's ParameterDef{Name, Type, Indexed}
// shape. event_signature alone (a bare type list) carries no indexed or
// name information and is used only for the topic0 hash match;
// event_params supplies what's needed to decode topics and data back
// into named values.
type EventParam struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Indexed bool   `yaml:"indexed" json:"indexed"`
}

// EventMonitorDef describes a (contract, event) subscription that fans
// out to a webhook.
type EventMonitorDef struct {
	Name            string         `yaml:"name" json:"name"`
	Network         string         `yaml:"network" json:"network"`
	ContractAddress string         `yaml:"contract_address" json:"contract_address"`
	EventSignature  string         `yaml:"event_signature" json:"event_signature"`
	EventParams     []EventParam   `yaml:"event_params,omitempty" json:"event_params,omitempty"`
	Webhook         WebhookConfig  `yaml:"webhook" json:"webhook"`
	Response        ResponseConfig `yaml:"response" json:"response"`
}

// Validate enforces the invariants from spec.md §3.
func (m EventMonitorDef) Validate() error {
	if m.Webhook.Timeout <= 0 {
		return fieldErr("event_monitor", m.Name, "webhook.timeout must be > 0")
	}
	if m.Webhook.Retries > 0 && m.Webhook.RetryDelay <= 0 {
		return fieldErr("event_monitor", m.Name, "webhook.retry_delay must be > 0 when retries > 0")
	}
	if m.Response.Type == ResponseContractCall && m.Response.ContractCall == nil {
		return fieldErr("event_monitor", m.Name, "response.contract_call is required when response.type is ContractCall")
	}
	if m.Response.Validation != nil && m.Response.Validation.RequireSignature && len(m.Response.Validation.AllowedSigners) == 0 {
		return fieldErr("event_monitor", m.Name, "response.validation.allowed_signers must be non-empty when require_signature is set")
	}
	for _, p := range m.EventParams {
		if p.Name == "" || p.Type == "" {
			return fieldErr("event_monitor", m.Name, "event_params entries require both name and type")
		}
	}
	return nil
}

// Log is a decoded chain event matching a monitor's (contract, topic0).
type Log struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Removed     bool
	Topics      []string
	Data        []byte
	DecodedArgs map[string]interface{}
}

// WebhookPayload is the JSON object an event monitor POSTs to its
// webhook (spec.md §4.H).
type WebhookPayload struct {
	MonitorName     string                 `json:"monitor_name"`
	EventName       string                 `json:"event_name"`
	ContractAddress string                 `json:"contract_address"`
	TxHash          string                 `json:"tx_hash"`
	BlockNumber     uint64                 `json:"block_number"`
	LogIndex        uint                   `json:"log_index"`
	Removed         bool                   `json:"removed"`
	Topics          []string               `json:"topics"`
	Data            string                 `json:"data"`
	DecodedArgs     map[string]interface{} `json:"decoded_args"`
	Network         string                 `json:"network"`
	Timestamp       time.Time              `json:"timestamp"`
}

// WebhookCall is one contract call requested by a webhook response.
type WebhookCall struct {
	Contract        string        `json:"contract"`
	Signature       string        `json:"signature"`
	Params          []string      `json:"params"`
	MaxGasPriceGwei *float64      `json:"max_gas_price_gwei,omitempty"`
	ValueWei        *string       `json:"value_wei,omitempty"`
}

// WebhookResponse is the expected shape of a webhook's reply body.
type WebhookResponse struct {
	Action   string                 `json:"action"`
	Calls    []WebhookCall          `json:"calls,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Signature string                `json:"signature,omitempty"`
}
