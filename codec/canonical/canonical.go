// Package canonical is a reference implementation of the encoding
// described in spec section 6. It is not the binding external format —
// the core only depends on codec.Encoder — but it gives tests something
// concrete to round-trip against and is the default wired into the demo
// command.
//
// Shapes:
//
//	integer   -> "i" sign digits "e"          e.g. "i+42e", "i-7e"
//	bytes     -> "{len}:{raw bytes}"          e.g. "4:\xde\xad\xbe\xef"
//	text      -> "t{len}:{utf8 bytes}"        e.g. "t5:hello"
//	list      -> "l" encode(each)... "e"
//	dict      -> "d" (sorted by key) encode(textkey) encode(value)... "e"
package canonical

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gocuria/codec"
)

type Codec struct{}

func New() *Codec { return &Codec{} }

var _ codec.Encoder = (*Codec)(nil)

func (c *Codec) Encode(v codec.Value) ([]byte, error) {
	var sb strings.Builder
	if err := encodeValue(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func encodeValue(sb *strings.Builder, v codec.Value) error {
	switch x := v.(type) {
	case int64:
		return encodeInt(sb, x)
	case int:
		return encodeInt(sb, int64(x))
	case []byte:
		fmt.Fprintf(sb, "%d:", len(x))
		sb.Write(x)
		return nil
	case string:
		fmt.Fprintf(sb, "t%d:", len([]byte(x)))
		sb.WriteString(x)
		return nil
	case codec.List:
		sb.WriteByte('l')
		for _, item := range x {
			if err := encodeValue(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte('e')
		return nil
	case codec.Dict:
		sb.WriteByte('d')
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeValue(sb, k); err != nil {
				return err
			}
			if err := encodeValue(sb, x[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('e')
		return nil
	case nil:
		sb.WriteString("n")
		return nil
	default:
		return fmt.Errorf("canonical: unsupported value type %T", v)
	}
}

func encodeInt(sb *strings.Builder, n int64) error {
	sb.WriteByte('i')
	if n < 0 {
		sb.WriteByte('-')
		fmt.Fprintf(sb, "%d", -n)
	} else {
		sb.WriteByte('+')
		fmt.Fprintf(sb, "%d", n)
	}
	sb.WriteByte('e')
	return nil
}

func (c *Codec) Decode(data []byte) (codec.Value, error) {
	v, rest, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("canonical: trailing bytes after decode")
	}
	return v, nil
}

func decodeValue(data []byte) (codec.Value, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("canonical: empty input")
	}
	switch data[0] {
	case 'n':
		return nil, data[1:], nil
	case 'i':
		end := indexByte(data, 'e')
		if end < 0 {
			return nil, nil, fmt.Errorf("canonical: unterminated integer")
		}
		sign := data[1]
		digits := string(data[2:end])
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("canonical: bad integer %q: %w", digits, err)
		}
		if sign == '-' {
			n = -n
		}
		return n, data[end+1:], nil
	case 't':
		colon := indexByte(data, ':')
		if colon < 0 {
			return nil, nil, fmt.Errorf("canonical: malformed text length")
		}
		n, err := strconv.Atoi(string(data[1:colon]))
		if err != nil {
			return nil, nil, fmt.Errorf("canonical: bad text length: %w", err)
		}
		start := colon + 1
		if start+n > len(data) {
			return nil, nil, fmt.Errorf("canonical: text overruns input")
		}
		return string(data[start : start+n]), data[start+n:], nil
	case 'l':
		rest := data[1:]
		var out codec.List
		for len(rest) > 0 && rest[0] != 'e' {
			v, next, err := decodeValue(rest)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, v)
			rest = next
		}
		if len(rest) == 0 {
			return nil, nil, fmt.Errorf("canonical: unterminated list")
		}
		return out, rest[1:], nil
	case 'd':
		rest := data[1:]
		out := codec.Dict{}
		for len(rest) > 0 && rest[0] != 'e' {
			kv, next, err := decodeValue(rest)
			if err != nil {
				return nil, nil, err
			}
			key, ok := kv.(string)
			if !ok {
				return nil, nil, fmt.Errorf("canonical: dict key is not text")
			}
			val, next2, err := decodeValue(next)
			if err != nil {
				return nil, nil, err
			}
			out[key] = val
			rest = next2
		}
		if len(rest) == 0 {
			return nil, nil, fmt.Errorf("canonical: unterminated dict")
		}
		return out, rest[1:], nil
	default:
		colon := indexByte(data, ':')
		if colon < 0 {
			return nil, nil, fmt.Errorf("canonical: unrecognized value tag %q", data[0])
		}
		n, err := strconv.Atoi(string(data[:colon]))
		if err != nil {
			return nil, nil, fmt.Errorf("canonical: bad bytes length: %w", err)
		}
		start := colon + 1
		if start+n > len(data) {
			return nil, nil, fmt.Errorf("canonical: bytes overrun input")
		}
		b := make([]byte, n)
		copy(b, data[start:start+n])
		return b, data[start+n:], nil
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
