package graph

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/dbis-ilm/poseidon/internal/poserr"
	"github.com/dbis-ilm/poseidon/internal/strdict"
)

// Value is a property's in-memory value, tagged by Kind. It is the bridge
// between user-supplied property data and the fixed 8-byte PropItem
// encoding.
type Value struct {
	Kind      PropKind
	Int       int64
	Double    float64
	Uint64    uint64
	Str       string
	Timestamp time.Time
}

func IntValue(v int64) Value         { return Value{Kind: PropInt, Int: v} }
func DoubleValue(v float64) Value    { return Value{Kind: PropDouble, Double: v} }
func Uint64Value(v uint64) Value     { return Value{Kind: PropUint64, Uint64: v} }
func StringValue(s string) Value     { return Value{Kind: PropString, Str: s} }
func TimestampValue(t time.Time) Value { return Value{Kind: PropTimestamp, Timestamp: t} }

// Property is one named (key, value) pair as supplied by a caller building a
// node or relationship.
type Property struct {
	Name  string
	Value Value
}

// encodeValue packs v's payload into an 8-byte PropItem.Value, interning
// strings into code via dict.
func (s *Store) encodeValue(v Value) ([8]byte, error) {
	var buf [8]byte
	switch v.Kind {
	case PropInt:
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Int))
	case PropDouble:
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Double))
	case PropUint64:
		binary.LittleEndian.PutUint64(buf[:], v.Uint64)
	case PropString:
		code, err := s.dict.Insert(v.Str)
		if err != nil {
			return buf, err
		}
		binary.LittleEndian.PutUint64(buf[:], uint64(code))
	case PropTimestamp:
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Timestamp.UnixNano()))
	default:
		return buf, poserr.New(poserr.KindQueryProcessing, "graph: unknown property kind")
	}
	return buf, nil
}

// decodeValue reverses encodeValue, resolving interned strings via dict.
func (s *Store) decodeValue(kind PropKind, raw [8]byte) (Value, error) {
	switch kind {
	case PropInt:
		return Value{Kind: PropInt, Int: int64(binary.LittleEndian.Uint64(raw[:]))}, nil
	case PropDouble:
		return Value{Kind: PropDouble, Double: math.Float64frombits(binary.LittleEndian.Uint64(raw[:]))}, nil
	case PropUint64:
		return Value{Kind: PropUint64, Uint64: binary.LittleEndian.Uint64(raw[:])}, nil
	case PropString:
		code := strdict.Code(binary.LittleEndian.Uint64(raw[:]))
		str, err := s.dict.LookupCode(code)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: PropString, Str: str}, nil
	case PropTimestamp:
		ns := int64(binary.LittleEndian.Uint64(raw[:]))
		return Value{Kind: PropTimestamp, Timestamp: time.Unix(0, ns).UTC()}, nil
	default:
		return Value{}, poserr.New(poserr.KindQueryProcessing, "graph: unknown property kind")
	}
}

// canonicalUint64 maps v onto a uint64 domain preserving equality (and, for
// numeric kinds, ordering) so secondary indices can key on it. String
// equality is keyed by dictionary code: codes are stable but not in
// lexicographic string order, so string-keyed indices support equality
// lookups only, not range scans (documented limitation).
func canonicalUint64(v Value) uint64 {
	switch v.Kind {
	case PropInt:
		return uint64(v.Int) ^ (uint64(1) << 63)
	case PropDouble:
		bits := math.Float64bits(v.Double)
		if bits&(uint64(1)<<63) != 0 {
			return ^bits
		}
		return bits | (uint64(1) << 63)
	case PropUint64:
		return v.Uint64
	case PropTimestamp:
		return uint64(v.Timestamp.UnixNano()) ^ (uint64(1) << 63)
	default:
		return 0
	}
}
