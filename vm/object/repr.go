package object

import (
	"math"
	"strconv"
	"strings"

	"github.com/chazu/rvm/vm"
)

// Repr renders v the way it appears inside a container listing.
func Repr(v vm.Value) string {
	var sb strings.Builder
	writeRepr(&sb, v, map[any]bool{})
	return sb.String()
}

// Str renders v for print and str(): strings appear without quotes.
func Str(v vm.Value) string {
	switch x := v.(type) {
	case string:
		return x
	case *vm.Exception:
		return x.Message
	}
	return Repr(v)
}

func writeRepr(sb *strings.Builder, v vm.Value, seen map[any]bool) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("<NULL>")
	case vm.NoneType:
		sb.WriteString("None")
	case bool:
		if x {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case int64:
		sb.WriteString(strconv.FormatInt(x, 10))
	case float64:
		sb.WriteString(formatFloat(x))
	case string:
		sb.WriteString(quote(x))
	case *List:
		if seen[x] {
			sb.WriteString("[...]")
			return
		}
		seen[x] = true
		writeItems(sb, "[", "]", x.Items, seen)
		delete(seen, x)
	case *Tuple:
		if len(x.Items) == 1 {
			sb.WriteString("(")
			writeRepr(sb, x.Items[0], seen)
			sb.WriteString(",)")
			return
		}
		writeItems(sb, "(", ")", x.Items, seen)
	case *Set:
		if x.Len() == 0 {
			sb.WriteString("set()")
			return
		}
		writeItems(sb, "{", "}", x.Items(), seen)
	case *Map:
		if seen[x] {
			sb.WriteString("{...}")
			return
		}
		seen[x] = true
		sb.WriteString("{")
		for i, k := range x.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeRepr(sb, k, seen)
			sb.WriteString(": ")
			writeRepr(sb, x.values[i], seen)
		}
		sb.WriteString("}")
		delete(seen, x)
	case *Range:
		sb.WriteString("range(")
		sb.WriteString(strconv.FormatInt(x.Start, 10))
		sb.WriteString(", ")
		sb.WriteString(strconv.FormatInt(x.Stop, 10))
		if x.Step != 1 {
			sb.WriteString(", ")
			sb.WriteString(strconv.FormatInt(x.Step, 10))
		}
		sb.WriteString(")")
	case *vm.Exception:
		sb.WriteString(x.Kind.Name)
		sb.WriteString("(")
		if x.Message != "" {
			sb.WriteString(quote(x.Message))
		}
		sb.WriteString(")")
	case *vm.ExceptionKind:
		sb.WriteString(x.String())
	case interface{ String() string }:
		sb.WriteString(x.String())
	default:
		sb.WriteString("<" + TypeName(v) + " object>")
	}
}

func writeItems(sb *strings.Builder, open, close string, items []vm.Value, seen map[any]bool) {
	sb.WriteString(open)
	for i, it := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeRepr(sb, it, seen)
	}
	sb.WriteString(close)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// quote renders s with single quotes unless it contains one and no double
// quote.
func quote(s string) string {
	q := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		q = '"'
	}
	var sb strings.Builder
	sb.WriteByte(q)
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case rune(q):
			sb.WriteByte('\\')
			sb.WriteByte(q)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(q)
	return sb.String()
}
