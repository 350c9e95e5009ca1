package payment

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// flexAmount decodes an amount sent either as a JSON number or a string.
type flexAmount struct {
	decimal.Decimal
	Set bool
}

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	d, err := decimal.NewFromString(strings.Trim(s, `"`))
	if err != nil {
		return err
	}
	f.Decimal, f.Set = d, true
	return nil
}

// jsonAmount renders an amount as a JSON number with the currency's precision.
func jsonAmount(a decimal.Decimal, exp int32) json.Number {
	return json.Number(a.StringFixed(exp))
}
