package wizard

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxDelayMinutes bounds typed delays to one year.
const MaxDelayMinutes = 60 * 24 * 365

var nameRe = regexp.MustCompile(`^[а-яёА-ЯЁa-zA-Z0-9 \-_.,!?()]+$`)

// ParseName trims s and accepts it if it only contains Cyrillic or Latin
// letters, digits, spaces and - _ . , ! ? ( ).
func ParseName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || !nameRe.MatchString(s) {
		return "", ErrInvalidName
	}
	return s, nil
}

// ParsePrice reads a loosely formatted positive price.
//
// Everything except digits, '.', ',' and spaces is dropped, spaces are
// removed and ',' becomes '.'. With several dots the leading ones are
// thousands separators. The last one is a decimal point too, unless the
// trailing group has exactly three digits:
//
//	"1 000 000"  -> 1000000
//	"1.500.000"  -> 1500000
//	"1.500.50"   -> 1500.5
//	"1500,50"    -> 1500.5
func ParsePrice(s string) (float64, error) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',':
			b.WriteByte('.')
		}
	}
	cleaned := b.String()

	if strings.Count(cleaned, ".") > 1 {
		parts := strings.Split(cleaned, ".")
		last := parts[len(parts)-1]
		head := strings.Join(parts[:len(parts)-1], "")
		if len(last) == 3 {
			cleaned = head + last
		} else {
			cleaned = head + "." + last
		}
	}
	if cleaned == "" {
		return 0, ErrInvalidPrice
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v <= 0 {
		return 0, ErrInvalidPrice
	}
	return v, nil
}

// ParseDelay reads a positive whole number of minutes.
func ParseDelay(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 || n > MaxDelayMinutes {
		return 0, ErrInvalidDelay
	}
	return n, nil
}
