package returns

import (
	"github.com/bobmcallan/pfreturns/internal/common"
	"github.com/bobmcallan/pfreturns/internal/models"
)

// Acceptance thresholds. These are fixed, not configurable per call.
const (
	MinMonths          = 12
	ExtremeLow         = -0.5
	ExtremeHigh        = 1.0
	MaxExtremeFraction = 0.10
	MaxMissingFraction = 0.05
)

// Rejection reasons.
const (
	ReasonInsufficientHistory = "insufficient history"
	ReasonExtremeReturns      = "too many extreme returns"
	ReasonMissingData         = "too much missing data"
)

// Validator implements interfaces.SeriesValidator.
type Validator struct {
	logger *common.Logger
}

// NewValidator creates a Validator
func NewValidator(logger *common.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate applies the rules in order and stops at the first violation.
func (v *Validator) Validate(ticker string, records []models.ReturnRecord) models.ValidationVerdict {
	n := len(records)
	if n < MinMonths {
		v.logger.Warn().Str("ticker", ticker).Int("months", n).Msg("Insufficient history")
		return reject(ReasonInsufficientHistory)
	}

	extreme, missing := 0, 0
	for _, r := range records {
		if !r.MonthlyReturn.Valid {
			missing++
			continue
		}
		if r.MonthlyReturn.Float64 < ExtremeLow || r.MonthlyReturn.Float64 > ExtremeHigh {
			extreme++
		}
	}

	if float64(extreme) > float64(n)*MaxExtremeFraction {
		v.logger.Warn().Str("ticker", ticker).Int("extreme", extreme).Int("months", n).Msg("Too many extreme returns")
		return reject(ReasonExtremeReturns)
	}

	if float64(missing) > float64(n)*MaxMissingFraction {
		v.logger.Warn().Str("ticker", ticker).Int("missing", missing).Int("months", n).Msg("Too much missing data")
		return reject(ReasonMissingData)
	}

	return models.ValidationVerdict{Accepted: true}
}

func reject(reason string) models.ValidationVerdict {
	return models.ValidationVerdict{Accepted: false, Reasons: []string{reason}}
}
