package btree

import "encoding/binary"

// KeyCodec describes how to encode/decode a fixed-size key of type K.
type KeyCodec[K any] interface {
	Size() int
	Encode(k K, buf []byte)
	Decode(buf []byte) K
}

// ValueCodec describes how to encode/decode a fixed-size value of type V.
// B+-tree values are record ids (spec.md §4.5 "values = record ids"), so in
// practice V is almost always a uint64, but the codec keeps the tree
// generic.
type ValueCodec[V any] interface {
	Size() int
	Encode(v V, buf []byte)
	Decode(buf []byte) V
}

// Uint64Codec is the ValueCodec (and, for uint64 keys, KeyCodec) used for
// record ids throughout the graph store and secondary indices.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }
func (Uint64Codec) Encode(v uint64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, v)
}
func (Uint64Codec) Decode(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

// Int64Codec is a KeyCodec for signed integer keys (spec.md §4.5 "scalar
// type").
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }
func (Int64Codec) Encode(v int64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(v))
}
func (Int64Codec) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// FixedStringCodec is a KeyCodec for strings truncated/padded to a fixed
// width — used when indexing string-valued properties, which in the graph
// store are dictionary codes (uint64) rather than raw strings, but some
// indices (e.g. over a node's external key) may still want fixed-width text.
type FixedStringCodec struct {
	Width int
}

func (c FixedStringCodec) Size() int { return c.Width }

func (c FixedStringCodec) Encode(s string, buf []byte) {
	for i := 0; i < c.Width; i++ {
		if i < len(s) {
			buf[i] = s[i]
		} else {
			buf[i] = 0
		}
	}
}

func (c FixedStringCodec) Decode(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}
