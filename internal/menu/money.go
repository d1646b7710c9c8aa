package menu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Money is an amount in integer cents.
type Money int64

var decimalPrice = regexp.MustCompile(`(\d[\d,]*)\.(\d{1,2})\b`)

// ParseMoney reads a currency-formatted string such as "$12.50", "+$1.00" or
// "12". Text with an explicit decimal part is read as units and cents; text
// without one is read as whole units with every non-digit stripped.
func ParseMoney(text string) (Money, error) {
	text = strings.TrimSpace(text)
	if m := decimalPrice.FindStringSubmatch(text); m != nil {
		units, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid price %q: %w", text, err)
		}
		frac := m[2]
		if len(frac) == 1 {
			frac += "0"
		}
		cents, _ := strconv.ParseInt(frac, 10, 64)
		return Money(units*100 + cents), nil
	}

	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, fmt.Errorf("no digits in price %q", text)
	}
	units, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", text, err)
	}
	return Money(units * 100), nil
}

func (m Money) String() string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s$%d.%02d", sign, int64(m)/100, int64(m)%100)
}
