package event

import (
	"fmt"
	"math/big"
)

// Amount carries a base-unit integer through JSON as a decimal string.
// Values routinely exceed float64's exact range at 18-decimal scale, so
// the default numeric encoding is not safe for consumers.
type Amount struct {
	*big.Int
}

// NewAmount copies v into an Amount
func NewAmount(v *big.Int) Amount {
	return Amount{new(big.Int).Set(v)}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`"0"`), nil
	}
	return []byte(`"` + a.Int.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", s)
	}
	a.Int = v
	return nil
}
