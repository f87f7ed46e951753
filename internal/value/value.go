package value

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind identifies one of the five SQLite storage classes.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// String returns the storage class name as SQLite spells it.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInteger:
		return "INTEGER"
	case KindReal:
		return "REAL"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a sealed interface over the SQLite storage classes.
// Only Null, Integer, Real, Text and Blob implement it.
//
// Every implementation is comparable with ==, so a Value can be used as a
// map key. This is what lets sets of changed primary keys be plain maps.
type Value interface {
	Kind() Kind
	sqlValue() // Sealed
}

// Null is the SQL NULL value.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) sqlValue()  {}

// Integer is a 64-bit signed SQLite INTEGER.
type Integer int64

func (Integer) Kind() Kind { return KindInteger }
func (Integer) sqlValue()  {}

// Real is a 64-bit IEEE SQLite REAL.
type Real float64

func (Real) Kind() Kind { return KindReal }
func (Real) sqlValue()  {}

// Text is a UTF-8 SQLite TEXT value.
type Text string

func (Text) Kind() Kind { return KindText }
func (Text) sqlValue()  {}

// Blob is a SQLite BLOB. The bytes are held in an immutable string so that
// Blob stays comparable; use NewBlob and Bytes to cross the []byte boundary.
type Blob string

func (Blob) Kind() Kind { return KindBlob }
func (Blob) sqlValue()  {}

// NewBlob copies b into a Blob.
func NewBlob(b []byte) Blob {
	return Blob(b)
}

// Bytes returns a fresh copy of the blob contents.
func (b Blob) Bytes() []byte {
	return []byte(b)
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Int coerces v to an int64.
//
// Reals truncate toward zero. Text and blob contents are parsed best-effort,
// accepting either an integer or a real spelling. ok is false for NULL, for
// unparseable contents, and for reals outside the int64 range.
func Int(v Value) (n int64, ok bool) {
	switch val := v.(type) {
	case Integer:
		return int64(val), true
	case Real:
		f := math.Trunc(float64(val))
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case Text:
		return parseInt(string(val))
	case Blob:
		return parseInt(string(val))
	default:
		return 0, false
	}
}

// Float coerces v to a float64. Integers widen exactly where float64 can
// represent them; text and blobs are parsed best-effort.
func Float(v Value) (f float64, ok bool) {
	switch val := v.(type) {
	case Integer:
		return float64(val), true
	case Real:
		return float64(val), true
	case Text:
		return parseFloat(string(val))
	case Blob:
		return parseFloat(string(val))
	default:
		return 0, false
	}
}

// Bool coerces v to a bool using SQLite's truthiness: any non-zero number is
// true. Text is accepted when it parses as a number or spells true/false.
func Bool(v Value) (b bool, ok bool) {
	switch val := v.(type) {
	case Text:
		switch strings.ToLower(strings.TrimSpace(string(val))) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	f, ok := Float(v)
	if !ok {
		return false, false
	}
	return f != 0, true
}

// String coerces v to text. Blobs are decoded as UTF-8 and fail when they
// are not valid UTF-8. NULL yields ok=false.
func String(v Value) (s string, ok bool) {
	switch val := v.(type) {
	case Integer:
		return strconv.FormatInt(int64(val), 10), true
	case Real:
		return formatReal(float64(val)), true
	case Text:
		return string(val), true
	case Blob:
		if !utf8.ValidString(string(val)) {
			return "", false
		}
		return string(val), true
	default:
		return "", false
	}
}

// Bytes coerces v to a byte slice. Numbers use their text spelling.
func Bytes(v Value) (b []byte, ok bool) {
	switch val := v.(type) {
	case Blob:
		return val.Bytes(), true
	case Null, nil:
		return nil, false
	default:
		s, ok := String(v)
		if !ok {
			return nil, false
		}
		return []byte(s), true
	}
}

// Native returns the Go value that database/sql drivers accept for v:
// nil, int64, float64, string or []byte.
func Native(v Value) any {
	switch val := v.(type) {
	case Integer:
		return int64(val)
	case Real:
		return float64(val)
	case Text:
		return string(val)
	case Blob:
		return val.Bytes()
	default:
		return nil
	}
}

// Compare orders values the way SQLite sorts them: NULL first, then
// numbers by numeric value, then text, then blobs bytewise.
func Compare(a, b Value) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 1:
		ia, aInt := a.(Integer)
		ib, bInt := b.(Integer)
		if aInt && bInt {
			return cmp.Compare(ia, ib)
		}
		fa, _ := Float(a)
		fb, _ := Float(b)
		return cmp.Compare(fa, fb)
	case 2:
		return strings.Compare(string(a.(Text)), string(b.(Text)))
	case 3:
		return bytes.Compare([]byte(a.(Blob)), []byte(b.(Blob)))
	default:
		return 0
	}
}

func sortRank(v Value) int {
	switch v.(type) {
	case Integer, Real:
		return 1
	case Text:
		return 2
	case Blob:
		return 3
	default:
		return 0
	}
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return Int(Real(f))
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
