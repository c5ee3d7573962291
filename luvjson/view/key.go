package view

import (
	"math"
	"strconv"
	"strings"
)

// Symbol is a property key that can never be confused with an index or a
// named property.
type Symbol string

const (
	// SymbolIterator resolves to the view's element iterator.
	SymbolIterator Symbol = "Symbol.iterator"
	// SymbolToStringTag resolves to the type tag, "Array" or "Object".
	SymbolToStringTag Symbol = "Symbol.toStringTag"
	// SymbolInternal resolves to the underlying node.
	SymbolInternal Symbol = "Symbol.internal"
)

// toIndex coerces key into an array index. Integer values of any numeric type
// and trimmed strings that parse to an integral number are indices. Negative
// integers are indices too; they are simply never in range.
func toIndex(key any) (int, bool) {
	switch k := key.(type) {
	case int:
		return k, true
	case int8:
		return int(k), true
	case int16:
		return int(k), true
	case int32:
		return int(k), true
	case int64:
		return int(k), true
	case uint:
		return clampUint(uint64(k)), true
	case uint8:
		return int(k), true
	case uint16:
		return int(k), true
	case uint32:
		return clampUint(uint64(k)), true
	case uint64:
		return clampUint(k), true
	case float32:
		return floatIndex(float64(k))
	case float64:
		return floatIndex(k)
	case string:
		s := strings.TrimSpace(k)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatIndex(f)
	}
	return 0, false
}

func floatIndex(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return clampInt(f), true
}

func clampInt(f float64) int {
	switch {
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

func clampUint(u uint64) int {
	if u > math.MaxInt {
		return math.MaxInt
	}
	return int(u)
}
