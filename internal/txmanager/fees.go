package txmanager

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"

	"github.com/chainkeeper/chainkeeper/internal/blockchain"
	"github.com/chainkeeper/chainkeeper/internal/models"
)

var (
	gweiFactor = big.NewInt(1_000_000_000)
)

func gweiToWei(gwei float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(gwei), new(big.Float).SetInt(gweiFactor))
	out, _ := scaled.Int(nil)
	return out
}

func mulFloat(v *big.Int, factor float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(factor))
	out, _ := scaled.Int(nil)
	return out
}

func clampBig(v, min, max *big.Int) *big.Int {
	if min != nil && v.Cmp(min) < 0 {
		return new(big.Int).Set(min)
	}
	if max != nil && v.Cmp(max) > 0 {
		return new(big.Int).Set(max)
	}
	return v
}

// LegacyFee selects gas_price = min(max_gas_price, provider.gas_price()
// * multiplier) (spec.md §4.E).
func LegacyFee(ctx context.Context, provider blockchain.Provider, policy models.GasPolicy, maxGasPriceGweiOverride *float64) (*big.Int, error) {
	base, err := provider.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	multiplier := policy.GasPriceMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}
	price := mulFloat(base, multiplier)

	maxGwei := policy.MaxGasPriceGwei
	if maxGasPriceGweiOverride != nil {
		maxGwei = *maxGasPriceGweiOverride
	}
	if maxGwei > 0 {
		max := gweiToWei(maxGwei)
		if price.Cmp(max) > 0 {
			return max, nil
		}
	}
	return price, nil
}

// EIP1559Fee is the (maxPriorityFee, maxFee) pair selected for an
// EIP-1559 transaction: max_priority_fee = clamp(provider-suggested
// tip, min, max); max_fee = base_fee * multiplier + max_priority_fee;
// capped by max_gas_price (spec.md §4.E). There is no configured
// priority fee: the starting tip always comes from the provider.
func EIP1559Fee(ctx context.Context, provider blockchain.Provider, policy models.GasPolicy, maxGasPriceGweiOverride *float64) (maxPriorityFee, maxFee *big.Int, err error) {
	baseFee, err := provider.BaseFee(ctx)
	if err != nil {
		return nil, nil, err
	}
	suggestedTip, err := provider.SuggestPriorityFee(ctx)
	if err != nil {
		return nil, nil, err
	}

	minTip := gweiToWei(policy.MinPriorityFeeGwei)
	maxTip := gweiToWei(policy.MaxPriorityFeeGwei)
	if policy.MaxPriorityFeeGwei <= 0 {
		maxTip = nil
	}
	tip := clampBig(suggestedTip, minTip, maxTip)

	multiplier := policy.GasPriceMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	fee := new(big.Int).Add(mulFloat(baseFee, multiplier), tip)

	maxGwei := policy.MaxGasPriceGwei
	if maxGasPriceGweiOverride != nil {
		maxGwei = *maxGasPriceGweiOverride
	}
	if maxGwei > 0 {
		ceiling := gweiToWei(maxGwei)
		if fee.Cmp(ceiling) > 0 {
			fee = ceiling
		}
	}
	return tip, fee, nil
}

// BumpFee multiplies a previously used fee by the fee-bump multiplier
// for a resubmission with the same nonce.
func BumpFee(fee *big.Int, multiplier float64) *big.Int {
	if multiplier <= 1.0 {
		multiplier = FeeBumpMultiplier
	}
	return mulFloat(fee, multiplier)
}

// EstimateGasLimit applies estimate_gas(tx) * multiplier, falling back
// to DefaultGasLimit if estimation fails (spec.md §4.E).
func EstimateGasLimit(ctx context.Context, provider blockchain.Provider, msg ethereum.CallMsg, policy models.GasPolicy) uint64 {
	multiplier := policy.GasLimitMultiplier
	if multiplier <= 0 {
		multiplier = 1.2
	}
	estimated, err := provider.EstimateGas(ctx, msg)
	if err != nil {
		if policy.DefaultGasLimit > 0 {
			return policy.DefaultGasLimit
		}
		return DefaultGasLimitFallback
	}
	return uint64(float64(estimated) * multiplier)
}
