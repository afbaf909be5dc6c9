package sqlite

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"modernc.org/sqlite"
)

// DefaultRegexCacheSize is used when Options.RegexCacheSize is not set.
const DefaultRegexCacheSize = 128

var (
	registerOnce sync.Once
	registerErr  error
	patterns     *lru.Cache[string, *regexp.Regexp]
)

// registerFunctions installs the host functions on the driver. Driver
// functions are process wide, so the first caller decides the size of the
// compiled pattern cache.
func registerFunctions(cacheSize int) error {
	registerOnce.Do(func() {
		if cacheSize <= 0 {
			cacheSize = DefaultRegexCacheSize
		}
		patterns, registerErr = lru.New[string, *regexp.Regexp](cacheSize)
		if registerErr != nil {
			return
		}
		registerErr = sqlite.RegisterDeterministicScalarFunction("regexp", 2, regexpFunc)
	})
	if registerErr != nil {
		return fmt.Errorf("failed to register regexp function: %w", registerErr)
	}
	return nil
}

// regexpFunc implements "text REGEXP pattern", which SQLite calls as
// regexp(pattern, text). A NULL operand never matches.
func regexpFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil || args[1] == nil {
		return int64(0), nil
	}
	pattern, ok := textOf(args[0])
	if !ok {
		return nil, fmt.Errorf("regexp: pattern must be text, got %T", args[0])
	}
	text, ok := textOf(args[1])
	if !ok {
		return int64(0), nil
	}

	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.MatchString(text) {
		return int64(1), nil
	}
	return int64(0), nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regexp: %w", err)
	}
	patterns.Add(pattern, re)
	return re, nil
}

// textOf converts the driver value of a JSON scalar to the text a pattern
// is matched against.
func textOf(v driver.Value) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case int64:
		return fmt.Sprint(t), true
	case float64:
		return fmt.Sprint(t), true
	}
	return "", false
}
