package predicate

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Literal renders v as a SQLite literal.
//
// Strings are single-quoted, slices render their elements comma separated
// (for use inside IN lists) and maps or structs render as quoted JSON text.
// Literal never fails and never drops content.
func Literal(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return Quote(t)
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return formatFloat(float64(t), 32)
	case float64:
		return formatFloat(t, 64)
	case json.Number:
		if _, err := strconv.ParseFloat(string(t), 64); err == nil {
			return string(t)
		}
		return Quote(string(t))
	case []byte:
		// Same representation the JSON codec stores.
		return Quote(base64.StdEncoding.EncodeToString(t))
	case []interface{}:
		return joinLiterals(len(t), func(i int) interface{} { return t[i] })
	}
	return reflectLiteral(reflect.ValueOf(v))
}

// Quote renders s as a SQLite string literal. SQLite does not interpret
// backslashes or control characters inside literals, so only the quote is
// doubled. Text with NUL bytes or invalid UTF-8 is rendered from its hex
// form so the statement text can never truncate it.
func Quote(s string) string {
	if !utf8.ValidString(s) || strings.IndexByte(s, 0) >= 0 {
		return "CAST(X'" + strings.ToUpper(hex.EncodeToString([]byte(s))) + "' AS TEXT)"
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdent renders name as a quoted SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// formatFloat prints the shortest text that round-trips at bitSize.
func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "NULL"
	case math.IsInf(f, 1):
		return "9e999"
	case math.IsInf(f, -1):
		return "-9e999"
	}
	return strconv.FormatFloat(f, 'g', -1, bitSize)
}

func joinLiterals(n int, at func(int) interface{}) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = Literal(at(i))
	}
	return strings.Join(parts, ",")
}

func reflectLiteral(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.String:
		return Quote(rv.String())
	case reflect.Bool:
		return Literal(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return Literal(rv.Bytes())
		}
		return joinLiterals(rv.Len(), func(i int) interface{} { return rv.Index(i).Interface() })
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "NULL"
		}
		return Literal(rv.Elem().Interface())
	}
	data, err := json.Marshal(rv.Interface())
	if err != nil {
		return Quote(fmt.Sprintf("%v", rv.Interface()))
	}
	return Quote(string(data))
}
