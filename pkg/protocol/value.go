package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the shape of a Value. The wire protocol is closed over
// exactly these kinds; anything else is rejected at encode/decode time.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged wire value. Both codecs encode and decode Values, so
// payload handling never depends on runtime shape inspection.
type Value struct {
	Kind Kind
	Bool bool
	Int  int64
	Str  string
	List []Value
	Map  map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{Kind: KindNull} }

// B wraps a bool.
func B(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// I wraps an int64.
func I(i int64) Value { return Value{Kind: KindInt, Int: i} }

// S wraps a string.
func S(s string) Value { return Value{Kind: KindString, Str: s} }

// L wraps a list of Values.
func L(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, List: items}
}

// M wraps a map of Values.
func M(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindMap, Map: m}
}

// StringList wraps a []string as a list Value.
func StringList(items []string) Value {
	list := make([]Value, len(items))
	for i, s := range items {
		list[i] = S(s)
	}
	return Value{Kind: KindList, List: list}
}

// GetString returns the string at key, if the Value is a map holding a
// string there.
func (v Value) GetString(key string) (string, bool) {
	if v.Kind != KindMap {
		return "", false
	}
	item, ok := v.Map[key]
	if !ok || item.Kind != KindString {
		return "", false
	}
	return item.Str, true
}

// GetInt returns the int64 at key.
func (v Value) GetInt(key string) (int64, bool) {
	if v.Kind != KindMap {
		return 0, false
	}
	item, ok := v.Map[key]
	if !ok || item.Kind != KindInt {
		return 0, false
	}
	return item.Int, true
}

// GetBool returns the bool at key.
func (v Value) GetBool(key string) (bool, bool) {
	if v.Kind != KindMap {
		return false, false
	}
	item, ok := v.Map[key]
	if !ok || item.Kind != KindBool {
		return false, false
	}
	return item.Bool, true
}

// GetList returns the list at key.
func (v Value) GetList(key string) ([]Value, bool) {
	if v.Kind != KindMap {
		return nil, false
	}
	item, ok := v.Map[key]
	if !ok || item.Kind != KindList {
		return nil, false
	}
	return item.List, true
}

// GetMap returns the map at key.
func (v Value) GetMap(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	item, ok := v.Map[key]
	if !ok || item.Kind != KindMap {
		return Value{}, false
	}
	return item, true
}

// Equal reports deep equality of two Values. Empty and nil lists/maps
// compare equal.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindInt:
		return v.Int == other.Int
	case KindString:
		return v.Str == other.Str
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for key, item := range v.Map {
			otherItem, ok := other.Map[key]
			if !ok || !item.Equal(otherItem) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// sortedKeys returns map keys in sorted order so encoders are deterministic.
func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.Map))
	for key := range v.Map {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON implements json.Marshaler. Map keys are emitted in sorted
// order so equal Values produce identical bytes.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.Bool {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindInt:
		return json.Marshal(v.Int)
	case KindString:
		return json.Marshal(v.Str)
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, key := range v.sortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.Map[key].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("cannot marshal %s", v.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Numbers must be integers;
// floats are outside the supported value kinds.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromJSON(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromJSON(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return B(t), nil
	case string:
		return S(t), nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("non-integer number %q", t.String())
		}
		return I(i), nil
	case []interface{}:
		list := make([]Value, len(t))
		for i, item := range t {
			parsed, err := fromJSON(item)
			if err != nil {
				return Value{}, err
			}
			list[i] = parsed
		}
		return Value{Kind: KindList, List: list}, nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for key, item := range t {
			parsed, err := fromJSON(item)
			if err != nil {
				return Value{}, err
			}
			m[key] = parsed
		}
		return Value{Kind: KindMap, Map: m}, nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value %T", raw)
	}
}
