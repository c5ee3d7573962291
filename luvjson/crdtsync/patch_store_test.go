package crdtsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdtpatch"
)

func TestMemoryPatchStore_StorePatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPatchStore()

	patchID := common.LogicalTimestamp{SID: common.NewSessionID(), Counter: 1}
	require.NoError(t, store.StorePatch(ctx, crdtpatch.NewPatch(patchID)))

	retrieved, err := store.GetPatch(ctx, patchID)
	require.NoError(t, err)
	assert.Equal(t, patchID, retrieved.ID())

	// 같은 패치는 한 번만 저장
	require.NoError(t, store.StorePatch(ctx, crdtpatch.NewPatch(patchID)))
	assert.Equal(t, 1, store.Len())

	_, err = store.GetPatch(ctx, common.LogicalTimestamp{SID: patchID.SID, Counter: 9})
	var notFound common.ErrNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestMemoryPatchStore_GetPatches(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPatchStore()

	sid1 := common.NewSessionID()
	sid2 := common.NewSessionID()
	ids := []common.LogicalTimestamp{
		{SID: sid1, Counter: 3},
		{SID: sid2, Counter: 2},
		{SID: sid1, Counter: 1},
		{SID: sid2, Counter: 1},
		{SID: sid1, Counter: 2},
	}
	for _, id := range ids {
		require.NoError(t, store.StorePatch(ctx, crdtpatch.NewPatch(id)))
	}

	patches, err := store.GetPatches(ctx, map[string]uint64{sid1.String(): 1})
	require.NoError(t, err)

	got := make([]common.LogicalTimestamp, len(patches))
	for i, p := range patches {
		got[i] = p.ID()
	}
	// Lamport 순서: 카운터가 먼저, 같으면 세션 ID
	want := []common.LogicalTimestamp{{SID: sid2, Counter: 1}}
	if sid1.Compare(sid2) < 0 {
		want = append(want, common.LogicalTimestamp{SID: sid1, Counter: 2}, common.LogicalTimestamp{SID: sid2, Counter: 2})
	} else {
		want = append(want, common.LogicalTimestamp{SID: sid2, Counter: 2}, common.LogicalTimestamp{SID: sid1, Counter: 2})
	}
	want = append(want, common.LogicalTimestamp{SID: sid1, Counter: 3})
	assert.Equal(t, want, got)
}

func TestMemoryPatchStore_RootOnlyPatchesAlwaysReturned(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPatchStore()

	sid := common.NewSessionID()
	require.NoError(t, store.StorePatch(ctx, crdtpatch.NewPatch(common.LogicalTimestamp{SID: sid})))

	patches, err := store.GetPatches(ctx, map[string]uint64{sid.String(): 10})
	require.NoError(t, err)
	assert.Len(t, patches, 1)
}

func TestMemoryPatchStore_Close(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPatchStore()
	require.NoError(t, store.StorePatch(ctx, crdtpatch.NewPatch(common.LogicalTimestamp{SID: common.NewSessionID(), Counter: 1})))

	require.NoError(t, store.Close())
	assert.Equal(t, 0, store.Len())
}

func TestMemoryPatchStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryPatchStore()
	assert.ErrorIs(t, store.StorePatch(ctx, crdtpatch.NewPatch(common.LogicalTimestamp{SID: common.NewSessionID(), Counter: 1})), context.Canceled)
	_, err := store.GetPatches(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
