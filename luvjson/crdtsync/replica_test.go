package crdtsync

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdt"
	"reactivecrdt/luvjson/crdtpatch"
	"reactivecrdt/luvjson/crdtpubsub"
)

const topic = "documents/test"

func newPubSub(t *testing.T) *crdtpubsub.MemoryPubSub {
	ps, err := crdtpubsub.NewMemoryPubSub(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func newReplica(t *testing.T, ps crdtpubsub.PubSub, options ReplicaOptions) *Replica {
	if options.Topic == "" {
		options.Topic = topic
	}
	r, err := NewReplica(crdt.NewDocument(common.NewSessionID()), ps, options)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// viewOf는 잠금 아래에서 문서의 JSON 뷰를 읽습니다.
func viewOf(r *Replica) any {
	var view any
	_ = r.Do(func(doc *crdt.Document) error {
		view = doc.View()
		return nil
	})
	return view
}

func push(t *testing.T, r *Replica, values ...any) {
	require.NoError(t, r.Do(func(doc *crdt.Document) error {
		arr, err := doc.GetArray("items")
		if err != nil {
			return err
		}
		return arr.Push(values...)
	}))
}

func TestNewReplica_Validation(t *testing.T) {
	ps := newPubSub(t)
	doc := crdt.NewDocument(common.NewSessionID())

	_, err := NewReplica(nil, ps, ReplicaOptions{Topic: topic})
	assert.Error(t, err)
	_, err = NewReplica(doc, nil, ReplicaOptions{Topic: topic})
	assert.Error(t, err)
	_, err = NewReplica(doc, ps, ReplicaOptions{})
	assert.Error(t, err)
	_, err = NewReplica(doc, ps, ReplicaOptions{Topic: topic, Format: "xml"})
	assert.Error(t, err)
}

func TestReplica_StartTwice(t *testing.T) {
	r := newReplica(t, newPubSub(t), ReplicaOptions{})
	assert.ErrorIs(t, r.Start(context.Background()), ErrReplicaRunning)
}

func TestReplica_PropagatesChanges(t *testing.T) {
	ps := newPubSub(t)
	a := newReplica(t, ps, ReplicaOptions{})
	b := newReplica(t, ps, ReplicaOptions{})

	push(t, a, "from-a")
	push(t, b, "from-b")

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(viewOf(a), viewOf(b))
	}, time.Second, 10*time.Millisecond)

	items := viewOf(a).(map[string]any)["items"].([]any)
	assert.ElementsMatch(t, []any{"from-a", "from-b"}, items)
}

func TestReplica_Metrics(t *testing.T) {
	ps := newPubSub(t)
	reg := prometheus.NewRegistry()
	a := newReplica(t, ps, ReplicaOptions{Registerer: reg})
	b := newReplica(t, ps, ReplicaOptions{Registerer: reg})

	push(t, a, 1)
	push(t, a, 2)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(b.Metrics().Applied) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(a.Metrics().Published) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(a.Metrics().Applied))

	// 디코딩할 수 없는 메시지는 거부됨
	require.NoError(t, ps.PublishRaw(context.Background(), topic, []byte("garbage"), crdtpubsub.EncodingFormatJSON))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(b.Metrics().Rejected) == 1
	}, time.Second, 10*time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "reactivecrdt_sync_patches_applied_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReplica_StateVector(t *testing.T) {
	ps := newPubSub(t)
	a := newReplica(t, ps, ReplicaOptions{})
	b := newReplica(t, ps, ReplicaOptions{})

	push(t, a, "x", "y")

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(a.StateVector(), b.StateVector())
	}, time.Second, 10*time.Millisecond)
	assert.False(t, b.vector.HasUpdates(a.StateVector()))
}

func TestReplica_Catchup(t *testing.T) {
	ps := newPubSub(t)
	store := NewMemoryPatchStore()
	a := newReplica(t, ps, ReplicaOptions{Store: store})

	push(t, a, "one")
	push(t, a, "two")
	require.NoError(t, a.Do(func(doc *crdt.Document) error {
		obj, err := doc.GetObject("meta")
		if err != nil {
			return err
		}
		return obj.Set("owner", "a")
	}))
	assert.Equal(t, 3, store.Len())

	// 늦게 합류한 복제본은 저장소에서 따라잡음
	late, err := NewReplica(crdt.NewDocument(common.NewSessionID()), ps, ReplicaOptions{Topic: topic, Store: store})
	require.NoError(t, err)
	defer late.Close()

	applied, err := late.Catchup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	assert.Equal(t, viewOf(a), viewOf(late))

	// 이미 반영된 패치는 다시 가져오지 않음
	applied, err = late.Catchup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestReplica_CatchupWithoutStore(t *testing.T) {
	r := newReplica(t, newPubSub(t), ReplicaOptions{})
	_, err := r.Catchup(context.Background())
	assert.ErrorIs(t, err, ErrNoPatchStore)
}

func TestReplica_PublishesPendingOnStart(t *testing.T) {
	ps := newPubSub(t)
	b := newReplica(t, ps, ReplicaOptions{})

	a, err := NewReplica(crdt.NewDocument(common.NewSessionID()), ps, ReplicaOptions{Topic: topic})
	require.NoError(t, err)
	push(t, a, "queued")

	require.NoError(t, a.Start(context.Background()))
	defer a.Close()

	assert.Eventually(t, func() bool {
		view := viewOf(b).(map[string]any)
		items, ok := view["items"].([]any)
		return ok && len(items) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestReplica_FlushPicksUpDirectChanges(t *testing.T) {
	ps := newPubSub(t)
	a := newReplica(t, ps, ReplicaOptions{})
	b := newReplica(t, ps, ReplicaOptions{})

	text, err := a.Document().GetText("title")
	require.NoError(t, err)
	require.NoError(t, text.Insert(0, "hi"))
	a.Flush()

	assert.Eventually(t, func() bool {
		return viewOf(b).(map[string]any)["title"] == "hi"
	}, time.Second, 10*time.Millisecond)
}

// newIdleReplica는 시작하지 않은 복제본을 만듭니다. 발행할 패치는 outbox에
// 남으므로 테스트가 원하는 순서로 직접 전달할 수 있습니다.
func newIdleReplica(t *testing.T) *Replica {
	r, err := NewReplica(crdt.NewDocument(common.NewSessionID()), newPubSub(t), ReplicaOptions{
		Topic:      topic,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func deliver(t *testing.T, r *Replica, patches ...*crdtpatch.Patch) {
	ed, err := crdtpubsub.GetEncoderDecoder(crdtpubsub.EncodingFormatJSON)
	require.NoError(t, err)
	for _, patch := range patches {
		data, err := ed.Encode(patch)
		require.NoError(t, err)
		require.NoError(t, r.receive(context.Background(), topic, data, crdtpubsub.EncodingFormatJSON))
	}
}

func TestReplica_DeleteBeforeInsert(t *testing.T) {
	a := newIdleReplica(t)
	b := newIdleReplica(t)
	c := newIdleReplica(t)

	push(t, a, "x")
	insert := a.dequeue()
	require.Len(t, insert, 1)

	deliver(t, b, insert...)
	require.NoError(t, b.Do(func(doc *crdt.Document) error {
		arr, err := doc.GetArray("items")
		if err != nil {
			return err
		}
		return arr.Delete(0, 1)
	}))
	remove := b.dequeue()
	require.Len(t, remove, 1)

	// c receives the delete before the insert it removes
	deliver(t, c, remove...)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, map[string]any{}, viewOf(c))

	deliver(t, c, insert...)
	deliver(t, a, remove...)
	assert.Equal(t, 0, c.Pending())

	want := map[string]any{"items": []any{}}
	assert.Equal(t, want, viewOf(a))
	assert.Equal(t, want, viewOf(b))
	assert.Equal(t, want, viewOf(c))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.Metrics().Applied))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().Deferred))
}

func TestReplica_InsertsOutOfOrder(t *testing.T) {
	a := newIdleReplica(t)
	b := newIdleReplica(t)

	push(t, a, "y")
	push(t, a, "z")
	patches := a.dequeue()
	require.Len(t, patches, 2)

	require.NoError(t, b.Do(func(doc *crdt.Document) error {
		_, err := doc.GetArray("items")
		return err
	}))

	// the second insert references the element of the first
	deliver(t, b, patches[1])
	assert.Equal(t, 1, b.Pending())
	assert.Equal(t, map[string]any{"items": []any{}}, viewOf(b))
	assert.Zero(t, b.Document().StateVector()[a.Document().SessionID().String()])

	// delivering it again does not queue it twice
	deliver(t, b, patches[1])
	assert.Equal(t, 1, b.Pending())

	deliver(t, b, patches[0])
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, viewOf(a), viewOf(b))
	assert.Equal(t, map[string]any{"items": []any{"y", "z"}}, viewOf(b))
	assert.Equal(t, a.StateVector(), b.StateVector())
}

func TestReplica_CatchupFillsGap(t *testing.T) {
	store := NewMemoryPatchStore()
	a := newIdleReplica(t)
	a.options.Store = store
	b := newIdleReplica(t)
	b.options.Store = store

	push(t, a, "y")
	push(t, a, "z")
	patches := a.dequeue()
	require.Len(t, patches, 2)
	require.Equal(t, 2, store.Len())

	// only the later patch arrives live; the earlier one comes from the store
	deliver(t, b, patches[1])
	assert.Equal(t, 1, b.Pending())

	applied, err := b.Catchup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, viewOf(a), viewOf(b))
}
