package crdtpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdt"
)

func TestPatchBuilder_Next(t *testing.T) {
	sid := common.NewSessionID()
	doc := crdt.NewDocument(sid)
	builder := NewPatchBuilder(doc)
	defer builder.Close()

	p, err := builder.Next()
	require.NoError(t, err)
	assert.Nil(t, p)

	obj, err := doc.GetObject("cfg")
	require.NoError(t, err)
	require.NoError(t, obj.Set("theme", "dark"))
	assert.Equal(t, 2, builder.Pending())
	assert.True(t, builder.Ready())

	// the named root creation has no local counter
	first, err := builder.Next()
	require.NoError(t, err)
	assert.Equal(t, common.LogicalTimestamp{SID: sid}, first.ID())
	require.Len(t, first.Operations(), 1)
	assert.Equal(t, "cfg", first.Operations()[0].(*NewOperation).Name)

	second, err := builder.Next()
	require.NoError(t, err)
	assert.Equal(t, common.LogicalTimestamp{SID: sid, Counter: 1}, second.ID())
	assert.Len(t, second.Operations(), 2)
	assert.Equal(t, 0, builder.Pending())
}

func TestPatchBuilder_Flush(t *testing.T) {
	doc := crdt.NewDocument(common.NewSessionID())
	builder := NewPatchBuilder(doc)

	text, err := doc.GetText("title")
	require.NoError(t, err)
	assert.False(t, builder.Ready())
	require.NoError(t, text.Insert(0, "abc"))
	require.NoError(t, text.Delete(1, 1))

	p, err := builder.Flush()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, p.Operations(), 3)
	assert.Equal(t, 0, builder.Pending())

	// remote updates are not collected
	other := crdt.NewDocument(common.NewSessionID())
	otherBuilder := NewPatchBuilder(other)
	require.NoError(t, p.Apply(other))
	assert.Equal(t, 0, otherBuilder.Pending())
	assert.Equal(t, "ac", other.View().(map[string]any)["title"])

	builder.Close()
	require.NoError(t, text.Insert(0, "z"))
	assert.Equal(t, 0, builder.Pending())
}

func TestPatchBuilder_Collaborative(t *testing.T) {
	doc1 := crdt.NewDocument(common.NewSessionID())
	doc2 := crdt.NewDocument(common.NewSessionID())
	b1 := NewPatchBuilder(doc1)
	b2 := NewPatchBuilder(doc2)

	arr1, err := doc1.GetArray("items")
	require.NoError(t, err)
	arr2, err := doc2.GetArray("items")
	require.NoError(t, err)
	require.NoError(t, arr1.Push("one"))
	require.NoError(t, arr2.Push("two"))

	p1, err := b1.Flush()
	require.NoError(t, err)
	p2, err := b2.Flush()
	require.NoError(t, err)

	require.NoError(t, p2.Apply(doc1))
	require.NoError(t, p1.Apply(doc2))

	assert.Equal(t, doc1.View(), doc2.View())
	assert.Equal(t, 2, arr1.Length())
}
