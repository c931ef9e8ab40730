package memory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// looseEqual compares two values numerically when both coerce to numbers,
// otherwise by string form. Query-string values arrive as strings while
// stored values keep their native types.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues returns -1/0/1 like strings.Compare. Numbers compare
// numerically, times chronologically, everything else by string form
// (ISO 8601 timestamps order correctly as strings).
func compareValues(a, b interface{}) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// cutDot splits a possibly dotted field path at its first dot.
func cutDot(field string) (string, string, bool) {
	return strings.Cut(field, ".")
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

// matchPattern evaluates a SQL-style pattern where % matches any run of
// characters.
func matchPattern(value, pattern interface{}, foldCase bool) bool {
	v := fmt.Sprint(value)
	p := fmt.Sprint(pattern)
	if foldCase {
		v = strings.ToLower(v)
		p = strings.ToLower(p)
	}
	parts := strings.Split(p, "%")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(v)
}

func inSet(value, set interface{}) bool {
	members, ok := set.([]string)
	if !ok {
		return looseEqual(value, set)
	}
	for _, member := range members {
		if looseEqual(value, member) {
			return true
		}
	}
	return false
}

// matchFullText is the in-memory stand-in for a text-vector search: a
// case-insensitive substring match.
func matchFullText(value, term interface{}) bool {
	return strings.Contains(
		strings.ToLower(fmt.Sprint(value)),
		strings.ToLower(fmt.Sprint(term)),
	)
}
