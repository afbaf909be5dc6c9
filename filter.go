package neboa

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Filter operators understood by (*Query).Filter.
const (
	FilterEq      = "$eq"
	FilterNe      = "$ne"
	FilterGt      = "$gt"
	FilterGte     = "$gte"
	FilterLt      = "$lt"
	FilterLte     = "$lte"
	FilterIn      = "$in"
	FilterNin     = "$nin"
	FilterExists  = "$exists"
	FilterRegex   = "$regex"
	FilterOptions = "$options"
	FilterLike    = "$like"
	FilterAnd     = "$and"
	FilterOr      = "$or"
	FilterNot     = "$not"
)

// Filter ANDs a MongoDB style filter document onto the query:
//
//	{"age": {"$gte": 18}, "name": "ada", "$or": [{"role": "admin"}, {"tags": {"$in": ["ops"]}}]}
//
// A plain value means equality. Field keys are applied in sorted order so
// the same filter always renders the same statement.
func (q *Query) Filter(filter map[string]any) (*Query, error) {
	sub, err := parseFilter(q.collection, filter)
	if err != nil {
		return q, err
	}
	return q.And(sub), nil
}

// FilterJSON is Filter for a filter given as JSON text.
func (q *Query) FilterJSON(text string) (*Query, error) {
	filter, err := unmarshalObject([]byte(text))
	if err != nil {
		return q, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return q.Filter(filter)
}

func parseFilter(c *Collection, filter map[string]any) (*Query, error) {
	q := c.Query()
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := filter[key]
		switch key {
		case FilterAnd, FilterOr:
			subs, err := parseFilterList(c, key, val)
			if err != nil {
				return nil, err
			}
			if key == FilterAnd {
				for _, s := range subs {
					q.And(s)
				}
				continue
			}
			either := subs[0]
			for _, s := range subs[1:] {
				either.Or(s)
			}
			q.And(either)
		case FilterNot:
			m, ok := asObject(val)
			if !ok {
				return nil, fmt.Errorf("%w: value for %s must be an object", ErrInvalidFilter, key)
			}
			sub, err := parseFilter(c, m)
			if err != nil {
				return nil, err
			}
			q.Not(sub)
		default:
			if strings.HasPrefix(key, "$") {
				return nil, fmt.Errorf("%w: unknown operator %s", ErrInvalidFilter, key)
			}
			if err := applyField(q, key, val); err != nil {
				return nil, err
			}
		}
	}
	return q, nil
}

func parseFilterList(c *Collection, key string, val any) ([]*Query, error) {
	list, ok := val.([]any)
	if !ok {
		if docs, isDocs := val.([]map[string]any); isDocs {
			list = make([]any, len(docs))
			for i, d := range docs {
				list[i] = d
			}
		} else {
			return nil, fmt.Errorf("%w: value for %s must be a list", ErrInvalidFilter, key)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one filter", ErrInvalidFilter, key)
	}
	subs := make([]*Query, 0, len(list))
	for _, item := range list {
		m, ok := asObject(item)
		if !ok {
			return nil, fmt.Errorf("%w: element of %s must be an object", ErrInvalidFilter, key)
		}
		sub, err := parseFilter(c, m)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// applyField adds the constraints of one field entry. An object whose keys
// are all operators is an operator set; anything else is an equality.
func applyField(q *Query, field string, val any) error {
	ops, ok := asObject(val)
	if !ok || !isOperatorSet(ops) {
		q.EqualTo(field, val)
		return nil
	}

	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	for _, op := range names {
		arg := ops[op]
		switch op {
		case FilterEq:
			q.EqualTo(field, arg)
		case FilterNe:
			q.NotEqualTo(field, arg)
		case FilterGt:
			q.GreaterThan(field, arg)
		case FilterGte:
			q.GreaterThanOrEqualTo(field, arg)
		case FilterLt:
			q.LessThan(field, arg)
		case FilterLte:
			q.LessThanOrEqualTo(field, arg)
		case FilterIn, FilterNin:
			if !isList(arg) {
				return fmt.Errorf("%w: value for %s.%s must be a list", ErrInvalidFilter, field, op)
			}
			if op == FilterIn {
				q.ContainedIn(field, arg)
			} else {
				q.NotContainedIn(field, arg)
			}
		case FilterExists:
			present, ok := arg.(bool)
			if !ok {
				return fmt.Errorf("%w: value for %s.%s must be a boolean", ErrInvalidFilter, field, op)
			}
			if present {
				q.Exists(field)
			} else {
				q.NotExists(field)
			}
		case FilterRegex:
			re, err := compileFilterRegex(field, arg, ops[FilterOptions])
			if err != nil {
				return err
			}
			q.Matches(field, re)
		case FilterOptions:
			if _, ok := ops[FilterRegex]; !ok {
				return fmt.Errorf("%w: %s.%s without %s", ErrInvalidFilter, field, op, FilterRegex)
			}
		case FilterLike:
			s, ok := arg.(string)
			if !ok {
				return fmt.Errorf("%w: value for %s.%s must be a string", ErrInvalidFilter, field, op)
			}
			q.Like(field, s)
		default:
			return fmt.Errorf("%w: unknown operator %s", ErrInvalidFilter, op)
		}
	}
	return nil
}

func isOperatorSet(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// compileFilterRegex builds a pattern from $regex and the i, m and s
// flags of $options.
func compileFilterRegex(field string, pattern, options any) (*regexp.Regexp, error) {
	p, ok := pattern.(string)
	if !ok {
		return nil, fmt.Errorf("%w: value for %s.%s must be a string", ErrInvalidFilter, field, FilterRegex)
	}
	if options != nil {
		flags, ok := options.(string)
		if !ok {
			return nil, fmt.Errorf("%w: value for %s.%s must be a string", ErrInvalidFilter, field, FilterOptions)
		}
		for _, f := range flags {
			if !strings.ContainsRune("ims", f) {
				return nil, fmt.Errorf("%w: unsupported regex option %q", ErrInvalidFilter, f)
			}
		}
		if flags != "" {
			p = "(?" + flags + ")" + p
		}
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return re, nil
}
