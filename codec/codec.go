// Package codec describes the canonical, order-preserving value encoding
// the chain engine treats as an opaque external contract. The core never
// hardcodes a concrete wire format; it depends only on the Encoder
// interface below so that a host application can swap in its own codec
// without touching the engine, store, or renderer packages.
package codec

// Value is one of int64, []byte, string, List, or Dict. It mirrors the shapes
// named in spec section 6: integers, byte strings, UTF-8 text, ordered
// lists, and ASCII-key-sorted dictionaries.
type Value interface{}

// List is an ordered sequence of Values.
type List []Value

// Dict is a string-keyed map of Values. Encoders are required to sort
// keys ASCII-ascending before emitting a Dict so that two logically equal
// dictionaries always encode identically regardless of construction order.
type Dict map[string]Value

// Encoder is the contract the chain engine consumes for hashing and
// signing. Two logically equal Values must Encode to identical bytes.
type Encoder interface {
	Encode(v Value) ([]byte, error)
	Decode(data []byte) (Value, error)
}
