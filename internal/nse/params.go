package nse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"jdata/internal/fetcher"
)

// Instrument types accepted by the derivatives history endpoint.
const (
	InstrumentOptionIndex = "OPTIDX"
	InstrumentOptionStock = "OPTSTK"
	InstrumentFutureIndex = "FUTIDX"
	InstrumentFutureStock = "FUTSTK"
)

// DefaultSeries is the equity series requested when none is given.
const DefaultSeries = "EQ"

// StockParams selects an equity price history.
type StockParams struct {
	Symbol string    `validate:"required"`
	From   time.Time `validate:"required"`
	To     time.Time `validate:"required"`
	Series string
}

// DerivativesParams selects a futures or options contract history.
type DerivativesParams struct {
	Symbol         string    `validate:"required"`
	From           time.Time `validate:"required"`
	To             time.Time `validate:"required"`
	Expiry         time.Time `validate:"required"`
	InstrumentType string    `validate:"required,oneof=OPTIDX OPTSTK FUTIDX FUTSTK"`
	StrikePrice    float64   `validate:"gte=0"`
	OptionType     string    `validate:"omitempty,oneof=CE PE"`
}

// IsOption reports whether the instrument is an option contract.
func (p DerivativesParams) IsOption() bool {
	return strings.HasPrefix(p.InstrumentType, "OPT")
}

// IndexParams selects a NiftyIndices history.
type IndexParams struct {
	Symbol string    `validate:"required"`
	From   time.Time `validate:"required"`
	To     time.Time `validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkParams validates p and the from/to ordering. Failures are
// InvalidArgument errors raised before any request is made.
func checkParams(p any, from, to time.Time) error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fetcher.NewInvalidArgumentError(err.Error())
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			switch fe.Tag() {
			case "required":
				msgs = append(msgs, fe.Field()+" is required")
			case "oneof":
				msgs = append(msgs, fmt.Sprintf("%s should be one of %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
			default:
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			}
		}
		return fetcher.NewInvalidArgumentError(strings.Join(msgs, "; "))
	}
	if to.Before(from) {
		return fetcher.NewInvalidArgumentError(fmt.Sprintf("to date %s is before from date %s",
			to.Format("2006-01-02"), from.Format("2006-01-02")))
	}
	return nil
}

func checkDerivatives(p DerivativesParams) error {
	if err := checkParams(p, p.From, p.To); err != nil {
		return err
	}
	if p.IsOption() && (p.StrikePrice == 0 || p.OptionType == "") {
		return fetcher.NewInvalidArgumentError("missing argument for OPTIDX or OPTSTK, require both strike price and option type")
	}
	return nil
}
