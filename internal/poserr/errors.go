// Package poserr defines the error kinds shared by every layer of Poseidon,
// from the paged file up through the query pipeline.
//
// What: a small set of sentinel errors (one per kind named in spec.md §7)
// plus a Classify() function so callers can switch on failure category without
// string matching.
// How: each layer wraps the relevant sentinel with github.com/pkg/errors so
// that a failure deep in the buffer pool still carries a stack trace when it
// surfaces at the query operator that triggered it.
// Why: storage errors are fatal and must abort the current transaction;
// per-record visibility misses are not (they're swallowed during iteration).
// Centralizing the kinds here lets every layer apply that policy uniformly.
package poserr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a Poseidon error into one of the categories from spec.md §7.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidPageID
	KindNoFreeFrame
	KindIOFailure
	KindUnknownID
	KindUnknownProperty
	KindUnknownLabel
	KindUnknownIndex
	KindNodeHasRelationships
	KindVersionConflict
	KindQueryProcessing
	KindUDFNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPageID:
		return "InvalidPageId"
	case KindNoFreeFrame:
		return "NoFreeFrame"
	case KindIOFailure:
		return "IoFailure"
	case KindUnknownID:
		return "UnknownId"
	case KindUnknownProperty:
		return "UnknownProperty"
	case KindUnknownLabel:
		return "UnknownLabel"
	case KindUnknownIndex:
		return "UnknownIndex"
	case KindNodeHasRelationships:
		return "NodeHasRelationships"
	case KindVersionConflict:
		return "VersionConflict"
	case KindQueryProcessing:
		return "QueryProcessingError"
	case KindUDFNotFound:
		return "UdfNotFound"
	default:
		return "None"
	}
}

// Sentinel errors. Use errors.Is against these, or classify with Classify().
var (
	ErrInvalidPageID       = errors.New("poseidon: invalid page id")
	ErrNoFreeFrame         = errors.New("poseidon: no free buffer frame")
	ErrIOFailure           = errors.New("poseidon: io failure")
	ErrUnknownID           = errors.New("poseidon: unknown record id")
	ErrUnknownProperty     = errors.New("poseidon: unknown property")
	ErrUnknownLabel        = errors.New("poseidon: unknown label")
	ErrUnknownIndex        = errors.New("poseidon: unknown index")
	ErrNodeHasRelationships = errors.New("poseidon: node has live relationships")
	ErrVersionConflict     = errors.New("poseidon: no visible version")
	ErrQueryProcessing     = errors.New("poseidon: query processing error")
	ErrUDFNotFound         = errors.New("poseidon: user-defined function not found")
)

var sentinels = map[Kind]error{
	KindInvalidPageID:        ErrInvalidPageID,
	KindNoFreeFrame:          ErrNoFreeFrame,
	KindIOFailure:            ErrIOFailure,
	KindUnknownID:            ErrUnknownID,
	KindUnknownProperty:      ErrUnknownProperty,
	KindUnknownLabel:         ErrUnknownLabel,
	KindUnknownIndex:         ErrUnknownIndex,
	KindNodeHasRelationships: ErrNodeHasRelationships,
	KindVersionConflict:      ErrVersionConflict,
	KindQueryProcessing:      ErrQueryProcessing,
	KindUDFNotFound:          ErrUDFNotFound,
}

// Wrap attaches a stack trace and an operation label to the sentinel for
// kind, so the caller can log or propagate it without losing where it
// originated.
func Wrap(kind Kind, op string, cause error) error {
	sentinel, ok := sentinels[kind]
	if !ok {
		sentinel = errors.New("poseidon: error")
	}
	if cause == nil {
		return pkgerrors.WithStack(fmt.Errorf("%s: %w", op, sentinel))
	}
	return pkgerrors.WithStack(fmt.Errorf("%s: %w: %s", op, sentinel, cause))
}

// New builds a fresh error of the given kind without an underlying cause.
func New(kind Kind, op string) error {
	return Wrap(kind, op, nil)
}

// Classify returns the Kind of err, walking the error chain. It returns
// KindNone if err doesn't wrap one of the sentinels above.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindNone
}

// IsFatal reports whether an error of this kind should abort the current
// transaction (storage-layer failures) as opposed to being swallowed during
// iteration (visibility misses) or converted to null/false by an operator
// (query-time failures). See spec.md §7 "Propagation policy".
func IsFatal(err error) bool {
	switch Classify(err) {
	case KindInvalidPageID, KindNoFreeFrame, KindIOFailure:
		return true
	default:
		return false
	}
}
