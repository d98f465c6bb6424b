package protocol

import (
	"bytes"
	"strconv"
)

// The compact codec is a recursive grammar over the four supported value
// kinds. Each compound value carries a type tag and a child count:
//
//	m<count>,<key><value>...   map (keys are string values, sorted)
//	l<count>,<value>...        list
//	s<escaped>;                string, with ';' and '\' escaped by '\'
//	i<decimal>;                integer
//	t / f                      booleans
//	z                          null
//
// There is no self-describing metadata beyond the tags, which is why the
// frame header for this codec omits a content-encoding field.
type compactCodec struct{}

func (compactCodec) Name() string { return "compact" }

func (compactCodec) Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := compactEncode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compactEncode(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindNull:
		buf.WriteByte('z')
	case KindBool:
		if v.Bool {
			buf.WriteByte('t')
		} else {
			buf.WriteByte('f')
		}
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte(';')
	case KindString:
		buf.WriteByte('s')
		compactEscape(buf, v.Str)
		buf.WriteByte(';')
	case KindList:
		buf.WriteByte('l')
		buf.WriteString(strconv.Itoa(len(v.List)))
		buf.WriteByte(',')
		for _, item := range v.List {
			if err := compactEncode(buf, item); err != nil {
				return err
			}
		}
	case KindMap:
		buf.WriteByte('m')
		buf.WriteString(strconv.Itoa(len(v.Map)))
		buf.WriteByte(',')
		for _, key := range v.sortedKeys() {
			buf.WriteByte('s')
			compactEscape(buf, key)
			buf.WriteByte(';')
			if err := compactEncode(buf, v.Map[key]); err != nil {
				return err
			}
		}
	default:
		return decodeErrf("compact", "cannot encode %s", v.Kind)
	}
	return nil
}

func compactEscape(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ';' || c == '\\' {
			buf.WriteByte('\\')
		}
		buf.WriteByte(c)
	}
}

func (compactCodec) Decode(data []byte) (Value, error) {
	p := &compactParser{data: data}
	v, err := p.parseValue(0)
	if err != nil {
		return Value{}, err
	}
	if p.pos != len(p.data) {
		return Value{}, decodeErrf("compact", "%d trailing bytes after value", len(p.data)-p.pos)
	}
	return v, nil
}

// maxCompactDepth bounds recursion so a hostile payload cannot exhaust the
// stack before the frame size limit stops it.
const maxCompactDepth = 128

type compactParser struct {
	data []byte
	pos  int
}

func (p *compactParser) parseValue(depth int) (Value, error) {
	if depth > maxCompactDepth {
		return Value{}, decodeErrf("compact", "nesting deeper than %d", maxCompactDepth)
	}
	if p.pos >= len(p.data) {
		return Value{}, decodeErrf("compact", "unexpected end of payload at offset %d", p.pos)
	}
	tag := p.data[p.pos]
	p.pos++

	switch tag {
	case 'z':
		return Null(), nil
	case 't':
		return B(true), nil
	case 'f':
		return B(false), nil
	case 'i':
		text, err := p.readUntilSemicolon()
		if err != nil {
			return Value{}, err
		}
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, decodeErrf("compact", "bad integer %q", text)
		}
		return I(i), nil
	case 's':
		s, err := p.readString()
		if err != nil {
			return Value{}, err
		}
		return S(s), nil
	case 'l':
		count, err := p.readCount()
		if err != nil {
			return Value{}, err
		}
		list := make([]Value, 0, count)
		for i := 0; i < count; i++ {
			item, err := p.parseValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
			list = append(list, item)
		}
		return Value{Kind: KindList, List: list}, nil
	case 'm':
		count, err := p.readCount()
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, count)
		for i := 0; i < count; i++ {
			if p.pos >= len(p.data) || p.data[p.pos] != 's' {
				return Value{}, decodeErrf("compact", "map key must be a string at offset %d", p.pos)
			}
			p.pos++
			key, err := p.readString()
			if err != nil {
				return Value{}, err
			}
			item, err := p.parseValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
			m[key] = item
		}
		return Value{Kind: KindMap, Map: m}, nil
	default:
		return Value{}, decodeErrf("compact", "unknown tag %q at offset %d", tag, p.pos-1)
	}
}

// readCount parses the child count of a compound value. A count that could
// not possibly fit in the remaining bytes is rejected up front instead of
// being discovered child by child.
func (p *compactParser) readCount() (int, error) {
	start := p.pos
	for p.pos < len(p.data) && p.data[p.pos] != ',' {
		p.pos++
	}
	if p.pos >= len(p.data) {
		return 0, decodeErrf("compact", "unterminated count at offset %d", start)
	}
	count, err := strconv.Atoi(string(p.data[start:p.pos]))
	if err != nil || count < 0 {
		return 0, decodeErrf("compact", "bad count %q", p.data[start:p.pos])
	}
	p.pos++ // consume ','
	if count > len(p.data)-p.pos {
		return 0, decodeErrf("compact", "count %d exceeds remaining payload", count)
	}
	return count, nil
}

func (p *compactParser) readUntilSemicolon() (string, error) {
	start := p.pos
	for p.pos < len(p.data) && p.data[p.pos] != ';' {
		p.pos++
	}
	if p.pos >= len(p.data) {
		return "", decodeErrf("compact", "unterminated value at offset %d", start)
	}
	text := string(p.data[start:p.pos])
	p.pos++ // consume ';'
	return text, nil
}

func (p *compactParser) readString() (string, error) {
	var buf bytes.Buffer
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.data) {
				return "", decodeErrf("compact", "dangling escape at offset %d", p.pos)
			}
			buf.WriteByte(p.data[p.pos+1])
			p.pos += 2
		case ';':
			p.pos++
			return buf.String(), nil
		default:
			buf.WriteByte(c)
			p.pos++
		}
	}
	return "", decodeErrf("compact", "unterminated string at offset %d", p.pos)
}
