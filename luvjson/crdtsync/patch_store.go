package crdtsync

import (
	"context"
	"slices"
	"sync"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdtpatch"
)

// MemoryPatchStore는 메모리 기반 패치 저장소입니다.
type MemoryPatchStore struct {
	// patches는 패치 ID 문자열에서 패치로의 맵입니다.
	patches map[string]*crdtpatch.Patch

	// order는 저장된 순서대로의 패치 ID 목록입니다.
	order []common.LogicalTimestamp

	mutex sync.RWMutex
}

// NewMemoryPatchStore는 새 메모리 패치 저장소를 생성합니다.
func NewMemoryPatchStore() *MemoryPatchStore {
	return &MemoryPatchStore{
		patches: make(map[string]*crdtpatch.Patch),
	}
}

// StorePatch는 패치의 복사본을 저장합니다.
func (ps *MemoryPatchStore) StorePatch(ctx context.Context, patch *crdtpatch.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	key := patch.ID().String()
	if _, exists := ps.patches[key]; exists {
		return nil
	}
	ps.patches[key] = patch.Clone()
	ps.order = append(ps.order, patch.ID())
	return nil
}

// GetPatches는 상태 벡터 이후의 패치를 Lamport 순서로 반환합니다.
func (ps *MemoryPatchStore) GetPatches(ctx context.Context, stateVector map[string]uint64) ([]*crdtpatch.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	var result []*crdtpatch.Patch
	for _, id := range ps.order {
		if missing(id, stateVector) {
			result = append(result, ps.patches[id.String()].Clone())
		}
	}
	sortPatches(result)
	return result, nil
}

// GetPatch는 특정 ID의 패치를 반환합니다.
func (ps *MemoryPatchStore) GetPatch(ctx context.Context, id common.LogicalTimestamp) (*crdtpatch.Patch, error) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if patch, exists := ps.patches[id.String()]; exists {
		return patch.Clone(), nil
	}
	return nil, common.ErrNotFound{Message: "patch " + id.String()}
}

// Len은 저장된 패치 수를 반환합니다.
func (ps *MemoryPatchStore) Len() int {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()
	return len(ps.order)
}

// Close는 저장된 패치를 모두 비웁니다.
func (ps *MemoryPatchStore) Close() error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	ps.patches = make(map[string]*crdtpatch.Patch)
	ps.order = nil
	return nil
}

// sortPatches는 패치를 ID의 Lamport 순서로 정렬합니다. 한 패치가 참조하는
// 노드는 항상 더 작은 카운터를 가지므로 이 순서로 적용하면 인과 관계가 지켜집니다.
func sortPatches(patches []*crdtpatch.Patch) {
	slices.SortStableFunc(patches, func(a, b *crdtpatch.Patch) int {
		return a.ID().Compare(b.ID())
	})
}
