package globals

import (
	"fmt"
	"strconv"
	"strings"
)

// Subscript is one element of a global node's subscript tuple. Numeric
// subscripts are held in canonical numeric form so that 3240115.1030 and
// 3240115.103 address the same node, as they would in a real global.
type Subscript struct {
	numeric bool
	text    string
	value   float64
}

// Str returns a string subscript.
func Str(s string) Subscript {
	return Subscript{text: s}
}

// Int returns an integer subscript.
func Int(n int64) Subscript {
	return Subscript{numeric: true, text: strconv.FormatInt(n, 10), value: float64(n)}
}

// Number parses a decimal literal into a canonical numeric subscript.
func Number(text string) (Subscript, error) {
	canon, err := canonicalNumber(text)
	if err != nil {
		return Subscript{}, err
	}
	v, err := strconv.ParseFloat(canon, 64)
	if err != nil {
		return Subscript{}, fmt.Errorf("globals: numeric subscript %q: %w", text, err)
	}
	return Subscript{numeric: true, text: canon, value: v}, nil
}

// MustNumber is Number for compile-time constants such as file numbers.
func MustNumber(text string) Subscript {
	s, err := Number(text)
	if err != nil {
		panic(err)
	}
	return s
}

// IsNumeric reports whether the subscript collates as a number.
func (s Subscript) IsNumeric() bool { return s.numeric }

// Text returns the raw subscript text without quoting.
func (s Subscript) Text() string { return s.text }

// String renders the subscript as it appears in the serialized store.
func (s Subscript) String() string {
	if s.numeric {
		return s.text
	}
	return `"` + s.text + `"`
}

// Compare orders numeric subscripts before string subscripts, numbers by
// value and strings byte-wise.
func (s Subscript) Compare(o Subscript) int {
	switch {
	case s.numeric && !o.numeric:
		return -1
	case !s.numeric && o.numeric:
		return 1
	case s.numeric:
		switch {
		case s.value < o.value:
			return -1
		case s.value > o.value:
			return 1
		}
		return strings.Compare(s.text, o.text)
	}
	return strings.Compare(s.text, o.text)
}

// canonicalNumber strips redundant zeros: "007" -> "7", "3240115.103000" ->
// "3240115.103", "0.50" -> ".5", "-0" -> "0".
func canonicalNumber(text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("globals: empty numeric subscript")
	}
	neg := false
	body := text
	if body[0] == '-' {
		neg = true
		body = body[1:]
	}
	intPart, fracPart, hasDot := strings.Cut(body, ".")
	if intPart == "" && fracPart == "" {
		return "", fmt.Errorf("globals: invalid numeric subscript %q", text)
	}
	if hasDot && fracPart == "" {
		return "", fmt.Errorf("globals: invalid numeric subscript %q", text)
	}
	for _, part := range []string{intPart, fracPart} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return "", fmt.Errorf("globals: invalid numeric subscript %q", text)
			}
		}
	}
	intPart = strings.TrimLeft(intPart, "0")
	fracPart = strings.TrimRight(fracPart, "0")
	if intPart == "" && fracPart == "" {
		return "0", nil
	}
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}
