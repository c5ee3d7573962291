package crdtsync

import (
	"sync"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdtpatch"
)

// StateVector는 세션별로 적용된 마지막 카운터를 추적합니다.
// 여러 고루틴에서 동시에 사용할 수 있습니다.
type StateVector struct {
	// vector는 세션 ID 문자열에서 카운터 값으로의 맵입니다.
	vector map[string]uint64

	mutex sync.RWMutex
}

// NewStateVector는 빈 상태 벡터를 생성합니다.
func NewStateVector() *StateVector {
	return &StateVector{
		vector: make(map[string]uint64),
	}
}

// Update는 타임스탬프가 더 앞선 경우에만 해당 세션의 카운터를 올립니다.
func (sv *StateVector) Update(ts common.LogicalTimestamp) {
	sv.mutex.Lock()
	defer sv.mutex.Unlock()

	sidStr := ts.SID.String()
	if ts.Counter > sv.vector[sidStr] {
		sv.vector[sidStr] = ts.Counter
	}
}

// UpdatePatch는 패치를 만든 세션의 연산 중 가장 늦은 카운터까지 벡터를 올립니다.
func (sv *StateVector) UpdatePatch(patch *crdtpatch.Patch) {
	sid := patch.SessionID()
	var last uint64
	for _, op := range patch.Ops() {
		if op.ID.SID != sid || op.ID.Counter == 0 {
			continue
		}
		if end := op.ID.Counter + op.Span() - 1; end > last {
			last = end
		}
	}
	if last > 0 {
		sv.Update(common.LogicalTimestamp{SID: sid, Counter: last})
	}
}

// UpdateFromMap은 맵의 각 항목으로 벡터를 갱신합니다.
func (sv *StateVector) UpdateFromMap(vector map[string]uint64) {
	sv.mutex.Lock()
	defer sv.mutex.Unlock()

	for sidStr, counter := range vector {
		if counter > sv.vector[sidStr] {
			sv.vector[sidStr] = counter
		}
	}
}

// Get은 상태 벡터의 복사본을 반환합니다.
func (sv *StateVector) Get() map[string]uint64 {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()

	result := make(map[string]uint64, len(sv.vector))
	for sidStr, counter := range sv.vector {
		result[sidStr] = counter
	}
	return result
}

// GetCounter는 세션의 카운터를 반환합니다. 모르는 세션은 0입니다.
func (sv *StateVector) GetCounter(sessionID common.SessionID) uint64 {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()

	return sv.vector[sessionID.String()]
}

// HasUpdates는 이 벡터에 other가 모르는 변경이 있는지 확인합니다.
func (sv *StateVector) HasUpdates(other map[string]uint64) bool {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()

	for sidStr, counter := range sv.vector {
		if counter > other[sidStr] {
			return true
		}
	}
	return false
}

// IsCausallyBefore는 이 벡터가 other보다 인과적으로 앞서는지 확인합니다.
// 모든 카운터가 other 이하이고 적어도 하나가 엄격하게 작아야 합니다.
func (sv *StateVector) IsCausallyBefore(other map[string]uint64) bool {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()

	for sidStr, counter := range sv.vector {
		if counter > other[sidStr] {
			return false
		}
	}
	for sidStr, otherCounter := range other {
		if sv.vector[sidStr] < otherCounter {
			return true
		}
	}
	return false
}

// Merge는 other의 각 세션에 대해 더 큰 카운터를 취합니다.
func (sv *StateVector) Merge(other map[string]uint64) {
	sv.UpdateFromMap(other)
}
