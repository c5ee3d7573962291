package common

import (
	"fmt"
)

// ErrInvalidNodeType is returned when an invalid node type is encountered.
type ErrInvalidNodeType struct {
	Type string
}

func (e ErrInvalidNodeType) Error() string {
	return fmt.Sprintf("invalid node type: %s", e.Type)
}

// ErrInvalidOperationType is returned when an invalid operation type is encountered.
type ErrInvalidOperationType struct {
	Type string
}

func (e ErrInvalidOperationType) Error() string {
	return fmt.Sprintf("invalid operation type: %s", e.Type)
}

// ErrNodeNotFound is returned when a node with the specified ID is not found.
type ErrNodeNotFound struct {
	ID LogicalTimestamp
}

func (e ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node not found: %v", e.ID)
}

// ErrInvalidOperation is returned when an operation is invalid.
type ErrInvalidOperation struct {
	Message string
}

func (e ErrInvalidOperation) Error() string {
	return fmt.Sprintf("invalid operation: %s", e.Message)
}

// ErrIndexOutOfRange is returned when a positional operation addresses an
// index outside of the sequence.
type ErrIndexOutOfRange struct {
	Index  int
	Length int
}

func (e ErrIndexOutOfRange) Error() string {
	return fmt.Sprintf("index %d out of range [0,%d]", e.Index, e.Length)
}

// ErrNotFound is returned when a resource is not found.
type ErrNotFound struct {
	Message string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.Message)
}

// ErrMissingDependency is returned when an operation references a node or
// element that has not been integrated yet. The operation can be retried
// once the operation that creates ID arrives.
type ErrMissingDependency struct {
	ID LogicalTimestamp
}

func (e ErrMissingDependency) Error() string {
	return fmt.Sprintf("missing dependency: %v", e.ID)
}
