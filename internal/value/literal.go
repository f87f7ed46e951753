package value

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Literal renders v in SQLite literal syntax.
//
//	Null        NULL
//	Integer(5)  5
//	Real(1)     1.0
//	Text("it's") 'it''s'
//	Blob{0xAB}  X'AB'
//
// A nil Value renders as NULL. NaN has no literal form and also renders as
// NULL; infinities use SQLite's overflowing 9e999 spelling.
func Literal(v Value) string {
	switch val := v.(type) {
	case Integer:
		return strconv.FormatInt(int64(val), 10)
	case Real:
		f := float64(val)
		switch {
		case math.IsNaN(f):
			return "NULL"
		case math.IsInf(f, 1):
			return "9e999"
		case math.IsInf(f, -1):
			return "-9e999"
		}
		return formatReal(f)
	case Text:
		return "'" + strings.ReplaceAll(string(val), "'", "''") + "'"
	case Blob:
		return "X'" + strings.ToUpper(hex.EncodeToString([]byte(val))) + "'"
	default:
		return "NULL"
	}
}

// ParseLiteral is the inverse of Literal.
func ParseLiteral(lit string) (Value, error) {
	s := strings.TrimSpace(lit)
	if s == "" {
		return nil, fmt.Errorf("parse literal: empty input")
	}

	if strings.EqualFold(s, "NULL") {
		return Null{}, nil
	}

	if (s[0] == 'X' || s[0] == 'x') && len(s) >= 3 && s[1] == '\'' {
		if s[len(s)-1] != '\'' {
			return nil, fmt.Errorf("parse literal %q: unterminated blob", lit)
		}
		b, err := hex.DecodeString(s[2 : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("parse literal %q: %w", lit, err)
		}
		return NewBlob(b), nil
	}

	if s[0] == '\'' {
		text, err := unquoteText(s)
		if err != nil {
			return nil, fmt.Errorf("parse literal %q: %w", lit, err)
		}
		return Text(text), nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Integer(n), nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// 9e999 overflows to ±Inf with ErrRange, which is exactly what SQLite does.
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && numErr.Err == strconv.ErrRange && math.IsInf(f, 0) {
			return Real(f), nil
		}
		return nil, fmt.Errorf("parse literal %q: not a valid SQLite literal", lit)
	}
	return Real(f), nil
}

// formatReal spells f so that it always reads back as a REAL, never as an
// INTEGER: 1 becomes "1.0".
func formatReal(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// unquoteText strips the surrounding quotes and collapses doubled quotes.
// A lone quote inside the body is rejected.
func unquoteText(s string) (string, error) {
	if len(s) < 2 || s[len(s)-1] != '\'' {
		return "", errors.New("unterminated text")
	}
	body := s[1 : len(s)-1]

	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\'' {
			if i+1 >= len(body) || body[i+1] != '\'' {
				return "", errors.New("unescaped quote in text")
			}
			i++
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}
