package common

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SessionID represents a unique identifier for a session.
// It is implemented as a UUID v7 which provides time-ordered values.
type SessionID uuid.UUID

// NilSessionID is the zero value for SessionID.
var NilSessionID SessionID

// RootID is the fixed LogicalTimestamp used for the root node.
var RootID = LogicalTimestamp{SID: NilSessionID, Counter: 0}

// NilID is the zero value for LogicalTimestamp.
var NilID = LogicalTimestamp{SID: NilSessionID, Counter: 0}

// namedSpace is the UUID namespace for ids derived from root type names.
var namedSpace = uuid.MustParse("6f1c1c38-3b0e-4f0c-9d4e-7a52b3f0c9a1")

// NewSessionID creates a new SessionID using UUID v7.
// It panics if the UUID cannot be created.
func NewSessionID() SessionID {
	const retry = 3

	var lastErr error
	for i := 0; i < retry; i++ {
		id, err := uuid.NewV7()
		if err == nil {
			return SessionID(id)
		}
		lastErr = err
	}

	panic(lastErr)
}

// NamedSessionID returns a deterministic SessionID for a name.
// Every replica derives the same id for the same name, which is what lets
// named root types be created independently on each replica.
func NamedSessionID(name string) SessionID {
	return SessionID(uuid.NewSHA1(namedSpace, []byte(name)))
}

// ParseSessionID parses the string form of a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilSessionID, fmt.Errorf("invalid UUID format: %w", err)
	}
	return SessionID(u), nil
}

// String returns the string representation of the SessionID.
func (s SessionID) String() string {
	return uuid.UUID(s).String()
}

// Compare compares two SessionIDs.
// Returns:
//
//	-1 if s < other
//	 0 if s == other
//	 1 if s > other
func (s SessionID) Compare(other SessionID) int {
	for i := 0; i < len(s); i++ {
		if s[i] < other[i] {
			return -1
		}
		if s[i] > other[i] {
			return 1
		}
	}
	return 0
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s SessionID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(s).String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *SessionID) UnmarshalText(text []byte) error {
	parsed, err := ParseSessionID(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// LogicalTimestamp represents a globally unique identifier that can be totally ordered.
// It consists of a session ID (UUID v7) and a Lamport counter.
type LogicalTimestamp struct {
	SID     SessionID `json:"sid"`
	Counter uint64    `json:"cnt"`
}

// Compare compares two logical timestamps in Lamport order: counters first,
// session ids break ties.
// Returns:
//
//	-1 if t < other
//	 0 if t == other
//	 1 if t > other
func (t LogicalTimestamp) Compare(other LogicalTimestamp) int {
	if t.Counter < other.Counter {
		return -1
	}
	if t.Counter > other.Counter {
		return 1
	}
	return t.SID.Compare(other.SID)
}

// IsZero reports whether t is the zero timestamp.
func (t LogicalTimestamp) IsZero() bool {
	return t == NilID
}

// Next returns the next logical timestamp in the sequence.
func (t LogicalTimestamp) Next() LogicalTimestamp {
	return LogicalTimestamp{
		SID:     t.SID,
		Counter: t.Counter + 1,
	}
}

// Increment increments the counter by the given amount.
func (t LogicalTimestamp) Increment(amount uint64) LogicalTimestamp {
	return LogicalTimestamp{
		SID:     t.SID,
		Counter: t.Counter + amount,
	}
}

// String returns a string representation of the logical timestamp.
func (t LogicalTimestamp) String() string {
	data, _ := json.Marshal(t)
	return string(data)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *LogicalTimestamp) UnmarshalJSON(data []byte) error {
	var raw struct {
		SID     *SessionID   `json:"sid"`
		Counter *json.Number `json:"cnt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.SID == nil {
		return ErrInvalidOperation{Message: "missing sid field"}
	}
	if raw.Counter == nil {
		return ErrInvalidOperation{Message: "missing cnt field"}
	}

	counter, err := raw.Counter.Int64()
	if err != nil || counter < 0 {
		return ErrInvalidOperation{Message: "cnt must be a non-negative integer"}
	}

	t.SID = *raw.SID
	t.Counter = uint64(counter)
	return nil
}

// NodeType represents the type of a CRDT node.
type NodeType string

const (
	// NodeTypeCon represents a constant (leaf) value.
	NodeTypeCon NodeType = "con"
	// NodeTypeObj represents a LWW-Object.
	NodeTypeObj NodeType = "obj"
	// NodeTypeStr represents an RGA-String.
	NodeTypeStr NodeType = "str"
	// NodeTypeArr represents an RGA-Array.
	NodeTypeArr NodeType = "arr"
)

// Valid reports whether the node type is known.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeCon, NodeTypeObj, NodeTypeStr, NodeTypeArr:
		return true
	}
	return false
}

// OperationType represents the type of a CRDT patch operation.
type OperationType string

const (
	// OperationTypeNew creates a new CRDT node.
	OperationTypeNew OperationType = "new"
	// OperationTypeIns inserts into an existing CRDT node.
	OperationTypeIns OperationType = "ins"
	// OperationTypeDel deletes contents from an existing CRDT node.
	OperationTypeDel OperationType = "del"
	// OperationTypeNop is a no-op operation.
	OperationTypeNop OperationType = "nop"
)
