package crdt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactivecrdt/luvjson/common"
)

// link forwards every local update of from into to.
func link(t *testing.T, from, to *Document) func() {
	return from.OnUpdate(func(u Update) {
		if u.Local {
			require.NoError(t, to.Integrate(u.Ops...))
		}
	})
}

// collect records local operations of doc for manual delivery.
func collect(doc *Document) *[]Op {
	var ops []Op
	doc.OnUpdate(func(u Update) {
		if u.Local {
			ops = append(ops, u.Ops...)
		}
	})
	return &ops
}

func TestNewDocument(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	assert.NotNil(t, doc.Root())
	assert.Equal(t, common.RootID, doc.Root().ID())
	assert.Equal(t, sid, doc.SessionID())
	assert.Equal(t, uint64(0), doc.Clock())
	assert.Equal(t, map[string]any{}, doc.View())
}

func TestGetNode(t *testing.T) {
	doc := NewDocument(common.NewSessionID())

	node, err := doc.GetNode(common.RootID)
	require.NoError(t, err)
	assert.Equal(t, Node(doc.Root()), node)

	_, err = doc.GetNode(common.LogicalTimestamp{SID: common.NewSessionID(), Counter: 1})
	var notFound common.ErrNodeNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestNamedRoots(t *testing.T) {
	doc := NewDocument(common.NewSessionID())

	todos, err := doc.GetArray("todos")
	require.NoError(t, err)
	again, err := doc.GetArray("todos")
	require.NoError(t, err)
	assert.Same(t, todos, again)
	assert.Equal(t, NamedID("todos"), todos.ID())
	assert.Equal(t, Node(doc.Root()), todos.Parent())

	_, err = doc.GetObject("todos")
	var invalid common.ErrInvalidNodeType
	assert.True(t, errors.As(err, &invalid))

	settings, err := doc.GetObject("settings")
	require.NoError(t, err)
	require.NoError(t, settings.Set("theme", "dark"))

	title, err := doc.GetText("title")
	require.NoError(t, err)
	require.NoError(t, title.Insert(0, "hi"))

	assert.Equal(t, map[string]any{
		"todos":    []any{},
		"settings": map[string]any{"theme": "dark"},
		"title":    "hi",
	}, doc.View())
}

func TestArrayMutations(t *testing.T) {
	doc := NewDocument(common.NewSessionID())
	arr, err := doc.GetArray("items")
	require.NoError(t, err)

	require.NoError(t, arr.Push(1, "a", true))
	require.NoError(t, arr.Unshift(0))
	require.NoError(t, arr.Insert(2, map[string]any{"k": "v"}))
	assert.Equal(t, 5, arr.Length())
	assert.Equal(t, []any{float64(0), float64(1), map[string]any{"k": "v"}, "a", true}, arr.Value())

	require.NoError(t, arr.Delete(1, 2))
	assert.Equal(t, []any{float64(0), "a", true}, arr.Value())

	err = arr.Delete(2, 2)
	var outOfRange common.ErrIndexOutOfRange
	assert.True(t, errors.As(err, &outOfRange))

	child, err := arr.Get(1)
	require.NoError(t, err)
	assert.Same(t, doc, child.Document())
	assert.Equal(t, Node(arr), child.Parent())
}

func TestDetachedNodeIntegration(t *testing.T) {
	doc := NewDocument(common.NewSessionID())
	arr, err := doc.GetArray("items")
	require.NoError(t, err)

	inner, err := NewArray("x")
	require.NoError(t, err)
	obj, err := NewObject(map[string]any{"list": inner})
	require.NoError(t, err)

	require.NoError(t, arr.Push(obj))
	assert.Same(t, doc, obj.Document())
	assert.Same(t, doc, inner.Document())
	assert.False(t, obj.ID().IsZero())

	// mutations after insertion go through the document
	require.NoError(t, inner.Push("y"))
	assert.Equal(t, []any{map[string]any{"list": []any{"x", "y"}}}, arr.Value())

	// a node cannot live in two places
	var invalid common.ErrInvalidOperation
	assert.True(t, errors.As(arr.Push(inner), &invalid))

	other := NewDocument(common.NewSessionID())
	otherArr, err := other.GetArray("items")
	require.NoError(t, err)
	foreign, err := NewArray()
	require.NoError(t, err)
	require.NoError(t, otherArr.Push(foreign))
	foreign.base().parent = nil
	assert.True(t, errors.As(arr.Push(foreign), &invalid))
}

func TestTransactNotifiesOnce(t *testing.T) {
	doc := NewDocument(common.NewSessionID())
	arr, err := doc.GetArray("items")
	require.NoError(t, err)

	counter := &changeCounter{}
	arr.Listen(counter)

	var updates []Update
	cancel := doc.OnUpdate(func(u Update) {
		updates = append(updates, u)
	})

	require.NoError(t, doc.Transact(func() error {
		if err := arr.Push(1); err != nil {
			return err
		}
		return arr.Push(2)
	}))

	assert.Equal(t, 1, counter.count)
	assert.Equal(t, Node(arr), counter.last)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Local)
	assert.Len(t, updates[0].Ops, 4)

	cancel()
	require.NoError(t, arr.Push(3))
	assert.Len(t, updates, 1)
	assert.Equal(t, 2, counter.count)
}

func TestClockAndStateVector(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)
	text, err := doc.GetText("t")
	require.NoError(t, err)

	require.NoError(t, text.Insert(0, "abc"))
	assert.Equal(t, uint64(3), doc.Clock())
	assert.Equal(t, map[string]uint64{sid.String(): 3}, doc.StateVector())
}

func TestIntegrate_ConcurrentArrayInserts(t *testing.T) {
	doc1 := NewDocument(common.NewSessionID())
	doc2 := NewDocument(common.NewSessionID())
	ops1 := collect(doc1)
	ops2 := collect(doc2)

	arr1, err := doc1.GetArray("items")
	require.NoError(t, err)
	arr2, err := doc2.GetArray("items")
	require.NoError(t, err)

	require.NoError(t, arr1.Push("a1", "a2"))
	require.NoError(t, arr2.Push("b1"))

	require.NoError(t, doc1.Integrate(*ops2...))
	require.NoError(t, doc2.Integrate(*ops1...))

	assert.Equal(t, 3, arr1.Length())
	assert.Equal(t, arr1.Value(), arr2.Value())
	assert.Equal(t, doc1.View(), doc2.View())
	assert.Equal(t, doc1.Clock(), doc2.Clock())
}

func TestIntegrate_Idempotent(t *testing.T) {
	doc1 := NewDocument(common.NewSessionID())
	doc2 := NewDocument(common.NewSessionID())
	ops1 := collect(doc1)

	arr1, err := doc1.GetArray("items")
	require.NoError(t, err)
	require.NoError(t, arr1.Push("a", map[string]any{"n": 1}))
	require.NoError(t, arr1.Delete(0, 1))

	require.NoError(t, doc2.Integrate(*ops1...))
	require.NoError(t, doc2.Integrate(*ops1...))

	arr2, err := doc2.GetArray("items")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"n": float64(1)}}, arr2.Value())
}

func TestIntegrate_RemoteUpdateNotifiesListeners(t *testing.T) {
	doc1 := NewDocument(common.NewSessionID())
	doc2 := NewDocument(common.NewSessionID())
	defer link(t, doc1, doc2)()

	arr1, err := doc1.GetArray("items")
	require.NoError(t, err)
	arr2, err := doc2.GetArray("items")
	require.NoError(t, err)

	counter := &changeCounter{}
	arr2.Listen(counter)

	var remote []Update
	doc2.OnUpdate(func(u Update) {
		if !u.Local {
			remote = append(remote, u)
		}
	})

	require.NoError(t, arr1.Push("x", "y"))
	assert.Equal(t, 1, counter.count)
	assert.Equal(t, []any{"x", "y"}, arr2.Value())
	require.Len(t, remote, 1)
	assert.Len(t, remote[0].Ops, 4)
}

func TestIntegrate_Errors(t *testing.T) {
	doc := NewDocument(common.NewSessionID())
	sid := common.NewSessionID()

	err := doc.Integrate(Op{
		Type:   common.OperationTypeIns,
		ID:     common.LogicalTimestamp{SID: sid, Counter: 2},
		Target: common.LogicalTimestamp{SID: sid, Counter: 1},
	})
	var missing common.ErrMissingDependency
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, common.LogicalTimestamp{SID: sid, Counter: 1}, missing.ID)

	err = doc.Integrate(Op{Type: "bogus"})
	var invalidType common.ErrInvalidOperationType
	assert.True(t, errors.As(err, &invalidType))

	err = doc.Integrate(Op{Type: common.OperationTypeNew, ID: common.LogicalTimestamp{SID: sid, Counter: 3}, NodeType: "vec"})
	var invalidNode common.ErrInvalidNodeType
	assert.True(t, errors.As(err, &invalidNode))

	arr, err := doc.GetArray("items")
	require.NoError(t, err)
	child := common.LogicalTimestamp{SID: sid, Counter: 5}
	require.NoError(t, doc.Integrate(Op{Type: common.OperationTypeNew, ID: child, NodeType: common.NodeTypeCon, Value: "v"}))
	err = doc.Integrate(Op{
		Type:   common.OperationTypeIns,
		ID:     child.Next(),
		Target: arr.ID(),
		Ref:    common.LogicalTimestamp{SID: sid, Counter: 99},
		Child:  child,
	})
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, common.LogicalTimestamp{SID: sid, Counter: 99}, missing.ID)
	assert.Equal(t, uint64(5), doc.Clock())
}

func TestIntegrate_RejectedOpsLeaveNoTrace(t *testing.T) {
	doc := NewDocument(common.NewSessionID())
	arr, err := doc.GetArray("items")
	require.NoError(t, err)
	sid := common.NewSessionID()
	id := func(c uint64) common.LogicalTimestamp { return common.LogicalTimestamp{SID: sid, Counter: c} }

	var updates int
	doc.OnUpdate(func(Update) { updates++ })

	// the new op would be applied first, the insert reference is unknown
	ops := []Op{
		{Type: common.OperationTypeNew, ID: id(6), NodeType: common.NodeTypeCon, Value: "z"},
		{Type: common.OperationTypeIns, ID: id(7), Target: arr.ID(), Ref: id(5), Child: id(6)},
	}
	err = doc.Integrate(ops...)
	var missing common.ErrMissingDependency
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, id(5), missing.ID)

	_, err = doc.GetNode(id(6))
	assert.Error(t, err)
	assert.Equal(t, uint64(0), doc.StateVector()[sid.String()])
	assert.Equal(t, 0, updates)

	// once the referenced element exists the same ops apply
	require.NoError(t, doc.Integrate(
		Op{Type: common.OperationTypeNew, ID: id(4), NodeType: common.NodeTypeCon, Value: "y"},
		Op{Type: common.OperationTypeIns, ID: id(5), Target: arr.ID(), Child: id(4)},
	))
	require.NoError(t, doc.Integrate(ops...))
	assert.Equal(t, []any{"y", "z"}, arr.Value())
	assert.Equal(t, uint64(7), doc.StateVector()[sid.String()])
}

func TestIntegrate_DeleteBeforeInsert(t *testing.T) {
	doc := NewDocument(common.NewSessionID())
	arr, err := doc.GetArray("items")
	require.NoError(t, err)
	text, err := doc.GetText("title")
	require.NoError(t, err)
	sid := common.NewSessionID()
	id := func(c uint64) common.LogicalTimestamp { return common.LogicalTimestamp{SID: sid, Counter: c} }

	del := Op{Type: common.OperationTypeDel, ID: id(10), Target: arr.ID(), IDs: []common.LogicalTimestamp{id(2)}}
	var missing common.ErrMissingDependency
	require.True(t, errors.As(doc.Integrate(del), &missing))
	assert.Equal(t, id(2), missing.ID)

	textDel := Op{Type: common.OperationTypeDel, ID: id(11), Target: text.ID(), IDs: []common.LogicalTimestamp{id(4)}}
	require.True(t, errors.As(doc.Integrate(textDel), &missing))

	require.NoError(t, doc.Integrate(
		Op{Type: common.OperationTypeNew, ID: id(1), NodeType: common.NodeTypeCon, Value: "x"},
		Op{Type: common.OperationTypeIns, ID: id(2), Target: arr.ID(), Child: id(1)},
		Op{Type: common.OperationTypeIns, ID: id(3), Target: text.ID(), Text: "ab"},
	))
	require.NoError(t, doc.Integrate(del))
	require.NoError(t, doc.Integrate(textDel))
	assert.Equal(t, []any{}, arr.Value())
	assert.Equal(t, "a", text.String())

	// ops may depend on earlier ops of the same batch
	require.NoError(t, doc.Integrate(
		Op{Type: common.OperationTypeNew, ID: id(12), NodeType: common.NodeTypeArr},
		Op{Type: common.OperationTypeNew, ID: id(13), NodeType: common.NodeTypeCon, Value: 1.0},
		Op{Type: common.OperationTypeIns, ID: id(14), Target: id(12), Child: id(13)},
		Op{Type: common.OperationTypeDel, ID: id(15), Target: id(12), IDs: []common.LogicalTimestamp{id(14)}},
		Op{Type: common.OperationTypeIns, ID: id(16), Target: arr.ID(), Ref: id(2), Child: id(12)},
	))
	assert.Equal(t, []any{[]any{}}, arr.Value())
}

func TestIntegrate_ObjectLastWriterWins(t *testing.T) {
	doc1 := NewDocument(common.NewSessionID())
	doc2 := NewDocument(common.NewSessionID())
	ops1 := collect(doc1)
	ops2 := collect(doc2)

	obj1, err := doc1.GetObject("cfg")
	require.NoError(t, err)
	obj2, err := doc2.GetObject("cfg")
	require.NoError(t, err)

	require.NoError(t, obj1.Set("color", "red"))
	require.NoError(t, obj2.Set("size", 3))
	require.NoError(t, obj2.Set("color", "blue"))

	require.NoError(t, doc1.Integrate(*ops2...))
	require.NoError(t, doc2.Integrate(*ops1...))

	assert.Equal(t, obj1.Value(), obj2.Value())
	// doc2 wrote "color" with a higher counter
	assert.Equal(t, "blue", obj1.Get("color").Value())

	*ops1 = nil
	ok, err := obj1.Delete("size")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, doc2.Integrate(*ops1...))
	assert.False(t, obj2.Has("size"))
}

func TestIntegrate_Text(t *testing.T) {
	doc1 := NewDocument(common.NewSessionID())
	doc2 := NewDocument(common.NewSessionID())
	defer link(t, doc1, doc2)()

	text1, err := doc1.GetText("title")
	require.NoError(t, err)
	require.NoError(t, text1.Insert(0, "hello"))
	require.NoError(t, text1.Insert(5, " world"))
	require.NoError(t, text1.Delete(0, 1))

	text2, err := doc2.GetText("title")
	require.NoError(t, err)
	assert.Equal(t, "ello world", text2.String())
}

func TestSnapshotRoundTrip(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)
	arr, err := doc.GetArray("items")
	require.NoError(t, err)
	require.NoError(t, arr.Push("a", map[string]any{"n": 1, "tags": []any{"x"}}, Box{Value: "opaque"}))
	require.NoError(t, arr.Delete(0, 1))
	text, err := doc.GetText("title")
	require.NoError(t, err)
	require.NoError(t, text.Insert(0, "héllo"))
	obj, err := doc.GetObject("cfg")
	require.NoError(t, err)
	require.NoError(t, obj.Set("gone", true))
	_, err = obj.Delete("gone")
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	restored, err := NewDocumentFromSnapshot(data, common.NewSessionID())
	require.NoError(t, err)
	assert.Equal(t, doc.View(), restored.View())
	assert.Equal(t, doc.Clock(), restored.Clock())
	assert.Equal(t, doc.StateVector(), restored.StateVector())

	restoredArr, err := restored.GetArray("items")
	require.NoError(t, err)
	assert.Len(t, restoredArr.Elements(), 3)
	boxed, err := restoredArr.Get(1)
	require.NoError(t, err)
	assert.True(t, boxed.(*ConstantNode).Boxed())

	// the restored replica keeps working and stays compatible
	ops := collect(restored)
	require.NoError(t, restoredArr.Push("b"))
	assert.Greater(t, restored.Clock(), doc.Clock())
	require.NoError(t, doc.Integrate(*ops...))
	assert.Equal(t, doc.View(), restored.View())

	_, err = NewDocumentFromSnapshot([]byte(`{"root":{"type":"arr","id":{"sid":"00000000-0000-0000-0000-000000000000","cnt":0},"elements":[]}}`), sid)
	assert.Error(t, err)
}
