package crdtsync

import (
	"context"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdtpatch"
)

// PatchStore는 복제본이 주고받은 패치를 보관하는 저장소입니다.
// 늦게 합류한 복제본은 상태 벡터를 넘겨 누락된 패치를 받아 갑니다.
type PatchStore interface {
	// StorePatch는 패치를 저장합니다. 같은 ID의 패치는 한 번만 저장됩니다.
	StorePatch(ctx context.Context, patch *crdtpatch.Patch) error

	// GetPatches는 상태 벡터에 아직 반영되지 않은 패치를 Lamport 순서로 반환합니다.
	GetPatches(ctx context.Context, stateVector map[string]uint64) ([]*crdtpatch.Patch, error)

	// GetPatch는 특정 ID의 패치를 반환합니다.
	GetPatch(ctx context.Context, id common.LogicalTimestamp) (*crdtpatch.Patch, error)

	// Close는 저장소를 종료합니다.
	Close() error
}

// missing은 상태 벡터 기준으로 패치가 아직 적용되지 않았는지 판단합니다.
// 카운터가 0인 패치는 이름 있는 루트만 만들므로 항상 다시 전달합니다.
func missing(id common.LogicalTimestamp, stateVector map[string]uint64) bool {
	if id.Counter == 0 {
		return true
	}
	return id.Counter > stateVector[id.SID.String()]
}
