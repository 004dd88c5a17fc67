package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amount counts the smallest denomination of the native currency.
type Amount int64

const (
	unitDecimals = 9
	// Unit is one whole unit of native currency.
	Unit Amount = 1_000_000_000
)

var ErrInvalidAmount = errors.New("invalid amount")

// Units builds an amount from a whole number of units.
func Units(n int64) Amount { return Amount(n) * Unit }

// ParseAmount parses a decimal string such as "10", "0.5" or "1.25".
func ParseAmount(raw string) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	neg := false
	if strings.HasPrefix(raw, "-") {
		neg = true
		raw = raw[1:]
	}
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !digits(whole) || !digits(frac) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if len(frac) > unitDecimals {
		return 0, fmt.Errorf("%w: more than %d decimals", ErrInvalidAmount, unitDecimals)
	}
	var w int64
	if whole != "" {
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
		w = v
	}
	var f int64
	if frac != "" {
		v, err := strconv.ParseInt(frac+strings.Repeat("0", unitDecimals-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
		f = v
	}
	if w > int64(^uint64(0)>>1)/int64(Unit)-1 {
		return 0, fmt.Errorf("%w: overflow", ErrInvalidAmount)
	}
	a := Amount(w)*Unit + Amount(f)
	if neg {
		a = -a
	}
	return a, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustAmount is ParseAmount for constants in tests and templates.
func MustAmount(raw string) Amount {
	a, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / int64(Unit)
	frac := v % int64(Unit)
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10)
	}
	fs := fmt.Sprintf("%09d", frac)
	return sign + strconv.FormatInt(whole, 10) + "." + strings.TrimRight(fs, "0")
}

// MulRatio scales the amount by num/den, truncating toward zero.
func (a Amount) MulRatio(num, den int64) Amount {
	if den == 0 {
		return 0
	}
	return Amount(int64(a) * num / den)
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(b []byte) error {
	v, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
