package common

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogicalTimestamp(t *testing.T) {
	sid1 := NewSessionID()
	sid2 := NewSessionID()

	ts1 := LogicalTimestamp{SID: sid1, Counter: 2}
	ts2 := LogicalTimestamp{SID: sid1, Counter: 3}
	ts3 := LogicalTimestamp{SID: sid2, Counter: 1}
	ts4 := LogicalTimestamp{SID: sid1, Counter: 2}

	// Counter decides first
	assert.Equal(t, -1, ts1.Compare(ts2))
	assert.Equal(t, 1, ts2.Compare(ts1))
	assert.Equal(t, 1, ts1.Compare(ts3))
	assert.Equal(t, -1, ts3.Compare(ts1))

	// Same timestamp
	assert.Equal(t, 0, ts1.Compare(ts4))

	// Session breaks ties
	tie := LogicalTimestamp{SID: sid2, Counter: 2}
	assert.Equal(t, sid1.Compare(sid2), ts1.Compare(tie))

	next := ts1.Next()
	assert.Equal(t, ts1.SID, next.SID)
	assert.Equal(t, ts1.Counter+1, next.Counter)

	incremented := ts1.Increment(5)
	assert.Equal(t, ts1.Counter+5, incremented.Counter)

	str := ts1.String()
	assert.Contains(t, str, "sid")
	assert.Contains(t, str, "cnt")

	assert.True(t, NilID.IsZero())
	assert.False(t, ts1.IsZero())
}

func TestLogicalTimestampJSON(t *testing.T) {
	ts := LogicalTimestamp{SID: NewSessionID(), Counter: 42}

	data, err := json.Marshal(ts)
	require.NoError(t, err)

	var decoded LogicalTimestamp
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ts, decoded)

	err = json.Unmarshal([]byte(`{"cnt":1}`), &decoded)
	var invalid ErrInvalidOperation
	assert.True(t, errors.As(err, &invalid))

	err = json.Unmarshal([]byte(`{"sid":"not-a-uuid","cnt":1}`), &decoded)
	assert.Error(t, err)
}

func TestNamedSessionID(t *testing.T) {
	assert.Equal(t, NamedSessionID("todos"), NamedSessionID("todos"))
	assert.NotEqual(t, NamedSessionID("todos"), NamedSessionID("items"))

	parsed, err := ParseSessionID(NamedSessionID("todos").String())
	require.NoError(t, err)
	assert.Equal(t, NamedSessionID("todos"), parsed)
}

func TestNodeType(t *testing.T) {
	assert.Equal(t, NodeType("obj"), NodeTypeObj)
	assert.Equal(t, NodeType("con"), NodeTypeCon)
	assert.Equal(t, NodeType("str"), NodeTypeStr)
	assert.Equal(t, NodeType("arr"), NodeTypeArr)
	assert.True(t, NodeTypeArr.Valid())
	assert.False(t, NodeType("vec").Valid())
}

func TestOperationType(t *testing.T) {
	assert.Equal(t, OperationType("new"), OperationTypeNew)
	assert.Equal(t, OperationType("ins"), OperationTypeIns)
	assert.Equal(t, OperationType("del"), OperationTypeDel)
	assert.Equal(t, OperationType("nop"), OperationTypeNop)
}

func TestErrors(t *testing.T) {
	assert.Equal(t, "invalid node type: vec", ErrInvalidNodeType{Type: "vec"}.Error())
	assert.Equal(t, "index 5 out of range [0,2]", ErrIndexOutOfRange{Index: 5, Length: 2}.Error())
	assert.Contains(t, ErrNodeNotFound{ID: RootID}.Error(), "node not found")
}
