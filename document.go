package neboa

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/xid"
)

// IDField is the document field holding the identifier.
const IDField = "_id"

// Document is a schemaless JSON object. Every stored document carries a
// string identifier under IDField. Numbers read back as float64, except
// integers beyond 2^53 which read back as json.Number so no digit is lost.
type Document map[string]any

// ID returns the document identifier, or "" when absent.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Get returns the value at a dotted field path.
func (d Document) Get(field string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(field, ".") {
		m, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Decode unmarshals the document into v, typically a struct pointer.
func (d Document) Decode(v any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]any:
		return m, true
	}
	return nil, false
}

// NewID returns a 12-byte globally ordered identifier in hex form.
func NewID() string {
	id := xid.New()
	return hex.EncodeToString(id.Bytes())
}

// ToDocument converts a struct or map into a Document through its JSON
// encoding. Values that do not encode to a JSON object are rejected with
// ErrInvalidDocument.
func ToDocument(v any) (Document, error) {
	m, err := toObject(v)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// toObject converts a caller payload into a fresh map that can be owned
// by the store. Structs and maps are accepted; anything that does not
// encode to a JSON object is rejected.
func toObject(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, ErrInvalidDocument
	case Document:
		if t == nil {
			return nil, ErrInvalidDocument
		}
	case map[string]any:
		if t == nil {
			return nil, ErrInvalidDocument
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrInvalidDocument
	}
	m, err := unmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return m, nil
}

func decode(data []byte) (Document, error) {
	m, err := unmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return m, nil
}

// maxExactInt is the largest magnitude up to which every integer has an
// exact float64 representation.
const maxExactInt = 1 << 53

// unmarshalObject decodes a JSON object. Numbers become float64 unless
// they are integers float64 cannot hold exactly; those are kept as
// json.Number with their original digits.
func unmarshalObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level object")
	}
	return normalizeNumbers(m).(map[string]any), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	case json.Number:
		return numberValue(t)
	}
	return v
}

func numberValue(n json.Number) any {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil || i > maxExactInt || i < -maxExactInt {
			return n
		}
		return float64(i)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return n
	}
	return f
}
