package feed

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chainkeeper/chainkeeper/internal/models"
)

func contractState(answer int64, decimals uint8, updatedAt time.Time) models.ContractState {
	return models.ContractState{Answer: big.NewInt(answer), Decimals: decimals, UpdatedAt: updatedAt}
}

func TestFeed_Decide_DeviationTrigger(t *testing.T) {
	f := &Feed{
		def:          models.Datafeed{DeviationThresholdPct: 0.5, MinimumUpdateFrequencySecs: 3600},
		everObserved: true,
	}
	obs := models.FeedObservation{Value: 1005.01}
	contract := contractState(100000, 2, time.Now().Add(-60*time.Second))

	d := f.decide(obs, contract)
	assert.True(t, d.Update)
	assert.Equal(t, ReasonDeviation, d.Reason)
}

func TestFeed_Decide_StalenessTrigger(t *testing.T) {
	f := &Feed{
		def:          models.Datafeed{DeviationThresholdPct: 10, MinimumUpdateFrequencySecs: 10},
		everObserved: true,
	}
	obs := models.FeedObservation{Value: 1000.00}
	contract := contractState(100000, 2, time.Now().Add(-1*time.Hour))

	d := f.decide(obs, contract)
	assert.True(t, d.Update)
	assert.Equal(t, ReasonTime, d.Reason)
}

func TestFeed_Decide_SkipNoDeviation(t *testing.T) {
	f := &Feed{
		def:          models.Datafeed{DeviationThresholdPct: 0.5, MinimumUpdateFrequencySecs: 3600},
		everObserved: true,
	}
	obs := models.FeedObservation{Value: 1000.10}
	contract := contractState(100000, 2, time.Now().Add(-300*time.Second))

	d := f.decide(obs, contract)
	assert.False(t, d.Update)
	assert.Equal(t, SkipNoDeviation, d.Skip)
}

func TestFeed_Decide_InitialUpdate(t *testing.T) {
	f := &Feed{def: models.Datafeed{DeviationThresholdPct: 5, MinimumUpdateFrequencySecs: 3600}}
	d := f.decide(models.FeedObservation{Value: 1000}, contractState(100000, 2, time.Now()))
	assert.True(t, d.Update)
	assert.Equal(t, ReasonInitialUpdate, d.Reason)
}

func TestFeed_Decide_BoundaryZeroThresholdZeroContract(t *testing.T) {
	f := &Feed{
		def:          models.Datafeed{DeviationThresholdPct: 0, MinimumUpdateFrequencySecs: 3600},
		everObserved: true,
	}
	d := f.decide(models.FeedObservation{Value: 5}, contractState(0, 2, time.Now()))
	assert.True(t, d.Update)
}

func TestFeed_Decide_BoundaryHundredPercentThreshold(t *testing.T) {
	f := &Feed{
		def:          models.Datafeed{DeviationThresholdPct: 100, MinimumUpdateFrequencySecs: 3600},
		everObserved: true,
	}
	// contract = 1000.00, feed = 2 * contract
	d := f.decide(models.FeedObservation{Value: 2000}, contractState(100000, 2, time.Now()))
	assert.True(t, d.Update)
}

func TestValidValue_RejectsNaNAndInf(t *testing.T) {
	assert.False(t, validValue(nan(), nil, nil))
	assert.False(t, validValue(inf(), nil, nil))
}

func TestValidValue_ClampsRange(t *testing.T) {
	min, max := 0.0, 100.0
	assert.False(t, validValue(-1, &min, &max))
	assert.False(t, validValue(101, &min, &max))
	assert.True(t, validValue(50, &min, &max))
}

func nan() float64 { var z float64; return z / z }
func inf() float64 { var z float64; return 1 / z }
