// Package tuple implements Poseidon's query-pipeline tuple: a heterogeneous
// ordered list of typed cells passed between operators (spec.md §4.8/§6.3).
//
// The original design's dynamically-typed cell is reimplemented here as a
// tagged sum type over the eleven cell kinds per spec.md §9's explicit
// redesign guidance, rather than as a `map[string]any` or `interface{}`
// grab-bag.
package tuple

import (
	"fmt"
	"time"

	"github.com/ncruces/go-strftime"
)

// Kind discriminates which field of a Cell is meaningful.
type Kind uint8

const (
	KindNull Kind = iota
	KindNodeID
	KindRelID
	KindInt
	KindDouble
	KindUint64
	KindString
	KindTimestamp
	KindNodeDesc
	KindRelDesc
	KindArrayIDs
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNodeID:
		return "node_id"
	case KindRelID:
		return "rship_id"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindUint64:
		return "uint64"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindNodeDesc:
		return "node"
	case KindRelDesc:
		return "rship"
	case KindArrayIDs:
		return "array"
	default:
		return "unknown"
	}
}

// NodeDesc is the printable/projectable description of a node: its id, its
// label text (already resolved from the dictionary) and a snapshot of its
// properties as display strings.
type NodeDesc struct {
	ID         uint64
	Label      string
	Properties map[string]string
}

// RelDesc is the printable/projectable description of a relationship.
type RelDesc struct {
	ID         uint64
	Label      string
	Src, Dst   uint64
	Properties map[string]string
}

// Cell is one tagged slot of a Tuple. Exactly the field named by Kind is
// meaningful; the others are zero.
type Cell struct {
	Kind   Kind
	NodeID uint64
	RelID  uint64
	Int    int64
	Double float64
	Uint64 uint64
	Str    string
	Time   time.Time
	Node   NodeDesc
	Rel    RelDesc
	IDs    []uint64
}

// NullCell is the canonical null value.
func NullCell() Cell { return Cell{Kind: KindNull} }

func NodeIDCell(id uint64) Cell    { return Cell{Kind: KindNodeID, NodeID: id} }
func RelIDCell(id uint64) Cell     { return Cell{Kind: KindRelID, RelID: id} }
func IntCell(v int64) Cell         { return Cell{Kind: KindInt, Int: v} }
func DoubleCell(v float64) Cell    { return Cell{Kind: KindDouble, Double: v} }
func Uint64Cell(v uint64) Cell     { return Cell{Kind: KindUint64, Uint64: v} }
func StringCell(s string) Cell     { return Cell{Kind: KindString, Str: s} }
func TimestampCell(t time.Time) Cell { return Cell{Kind: KindTimestamp, Time: t} }
func NodeDescCell(d NodeDesc) Cell  { return Cell{Kind: KindNodeDesc, Node: d} }
func RelDescCell(d RelDesc) Cell    { return Cell{Kind: KindRelDesc, Rel: d} }
func ArrayIDsCell(ids []uint64) Cell { return Cell{Kind: KindArrayIDs, IDs: ids} }

// IsNull reports whether c holds the null cell.
func (c Cell) IsNull() bool { return c.Kind == KindNull }

// isoFormat is the ISO-8601 layout strftime formats timestamps with.
const isoFormat = "%Y-%m-%dT%H:%M:%SZ"

// Canonical renders c using spec.md §6.3's canonical formatting: ISO-8601
// for timestamps, decimal for numbers, "NULL" for nulls.
func (c Cell) Canonical() string {
	switch c.Kind {
	case KindNull:
		return "NULL"
	case KindNodeID:
		return fmt.Sprintf("n%d", c.NodeID)
	case KindRelID:
		return fmt.Sprintf("r%d", c.RelID)
	case KindInt:
		return fmt.Sprintf("%d", c.Int)
	case KindDouble:
		return fmt.Sprintf("%g", c.Double)
	case KindUint64:
		return fmt.Sprintf("%d", c.Uint64)
	case KindString:
		return c.Str
	case KindTimestamp:
		return strftime.Format(isoFormat, c.Time.UTC())
	case KindNodeDesc:
		return fmt.Sprintf("(n%d:%s)", c.Node.ID, c.Node.Label)
	case KindRelDesc:
		return fmt.Sprintf("[r%d:%s]", c.Rel.ID, c.Rel.Label)
	case KindArrayIDs:
		return fmt.Sprintf("%v", c.IDs)
	default:
		return "NULL"
	}
}
