package crdtsync

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/core/lvlog"
	"reactivecrdt/luvjson/crdt"
	"reactivecrdt/luvjson/crdtpatch"
	"reactivecrdt/luvjson/crdtpubsub"
)

var (
	// ErrNoPatchStore는 저장소 없이 Catchup을 호출했을 때 반환됩니다.
	ErrNoPatchStore = errors.New("replica has no patch store")

	// ErrReplicaRunning은 이미 시작된 복제본을 다시 시작할 때 반환됩니다.
	ErrReplicaRunning = errors.New("replica is already running")
)

// ReplicaOptions는 복제본 설정입니다.
type ReplicaOptions struct {
	// Topic은 패치를 주고받는 토픽입니다.
	Topic string

	// Format은 발행할 때 쓰는 인코딩 형식입니다. 비어 있으면 JSON입니다.
	Format crdtpubsub.EncodingFormat

	// Store가 있으면 주고받은 패치를 모두 저장하고 Catchup에 사용합니다.
	Store PatchStore

	// Registerer가 있으면 메트릭을 등록합니다.
	Registerer prometheus.Registerer
}

// Replica는 문서 하나를 PubSub 토픽에 연결합니다.
//
// 로컬 변경은 Do 안에서 이루어져야 하며, Do가 끝나면 쌓인 트랜잭션이 하나의
// 패치로 묶여 발행됩니다. 원격 패치는 같은 잠금 아래에서 적용되므로 문서는
// 한 번에 한 고루틴만 만집니다. 발행은 별도 고루틴에서 일어나 잠금을 쥔 채
// 브로커를 기다리지 않습니다.
type Replica struct {
	doc       *crdt.Document
	sessionID common.SessionID
	pubsub    crdtpubsub.PubSub
	options   ReplicaOptions
	builder   *crdtpatch.PatchBuilder
	vector    *StateVector
	metrics   *Metrics
	log       *zap.Logger

	// mutex는 문서와 빌더를 보호합니다.
	mutex sync.Mutex

	// pending은 의존하는 노드나 요소가 아직 도착하지 않아 보류된 원격
	// 패치입니다. mutex로 보호됩니다.
	pending []*crdtpatch.Patch

	outboxMutex sync.Mutex
	outbox      []*crdtpatch.Patch
	wake        chan struct{}

	stateMutex   sync.Mutex
	running      bool
	subscriberID string
	stop         chan struct{}
	done         chan struct{}
}

// NewReplica는 doc과 pubsub을 잇는 복제본을 생성합니다. Start를 호출하기
// 전까지는 패치를 주고받지 않습니다.
func NewReplica(doc *crdt.Document, pubsub crdtpubsub.PubSub, options ReplicaOptions) (*Replica, error) {
	if doc == nil {
		return nil, errors.New("document cannot be nil")
	}
	if pubsub == nil {
		return nil, errors.New("pubsub cannot be nil")
	}
	if options.Topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if options.Format == "" {
		options.Format = crdtpubsub.EncodingFormatJSON
	}
	if _, err := crdtpubsub.GetEncoderDecoder(options.Format); err != nil {
		return nil, err
	}

	sid := doc.SessionID()
	return &Replica{
		doc:       doc,
		sessionID: sid,
		pubsub:    pubsub,
		options:   options,
		builder:   crdtpatch.NewPatchBuilder(doc),
		vector:    NewStateVector(),
		metrics:   NewMetrics(options.Registerer, sid.String()),
		log:       lvlog.Named("replica").With(zap.String("sid", sid.String()), zap.String("topic", options.Topic)),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Document는 복제본의 문서를 반환합니다. 문서를 변경할 때는 Do를 사용합니다.
func (r *Replica) Document() *crdt.Document {
	return r.doc
}

// Metrics는 복제본의 카운터를 반환합니다.
func (r *Replica) Metrics() *Metrics {
	return r.metrics
}

// StateVector는 이 복제본이 보내거나 받은 패치의 상태 벡터를 반환합니다.
func (r *Replica) StateVector() map[string]uint64 {
	return r.vector.Get()
}

// Start는 토픽을 구독하고 발행 고루틴을 띄웁니다.
func (r *Replica) Start(ctx context.Context) error {
	r.stateMutex.Lock()
	defer r.stateMutex.Unlock()

	if r.running {
		return ErrReplicaRunning
	}

	subscriberID := "replica-" + r.sessionID.String()
	if err := r.pubsub.Subscribe(ctx, r.options.Topic, subscriberID, r.receive); err != nil {
		return errors.Wrap(err, "failed to subscribe")
	}

	r.subscriberID = subscriberID
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true
	go r.publishLoop(r.stop, r.done)

	r.log.Debug("replica started")
	return nil
}

// Do는 잠금을 쥐고 fn을 실행한 뒤 그 사이 쌓인 로컬 변경을 발행합니다.
// fn이 오류를 반환해도 이미 커밋된 변경은 발행됩니다.
func (r *Replica) Do(fn func(doc *crdt.Document) error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := fn(r.doc)
	r.drain(context.Background())
	return err
}

// Flush는 Do 밖에서 일어난 로컬 변경을 발행 대기열로 옮깁니다.
func (r *Replica) Flush() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.drain(context.Background())
}

// Pending은 의존성을 기다리며 보류 중인 원격 패치 수를 반환합니다.
func (r *Replica) Pending() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.pending)
}

// Catchup은 저장소에서 문서에 아직 반영되지 않은 패치를 가져와 적용하고,
// 적용한 패치 수를 반환합니다. 보류되었다가 함께 적용된 패치도 셉니다.
func (r *Replica) Catchup(ctx context.Context) (int, error) {
	if r.options.Store == nil {
		return 0, ErrNoPatchStore
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	patches, err := r.options.Store.GetPatches(ctx, r.doc.StateVector())
	if err != nil {
		return 0, errors.Wrap(err, "failed to load patches")
	}

	applied := 0
	for _, patch := range patches {
		// 앞선 패치와 함께 풀려난 보류 패치는 이미 반영되어 있음
		if patch.SessionID() == r.sessionID || !missing(patch.ID(), r.doc.StateVector()) {
			continue
		}
		n, err := r.apply(ctx, patch)
		applied += n
		if err != nil {
			return applied, err
		}
	}
	r.drain(ctx)
	return applied, nil
}

// Close는 구독을 해제하고 대기 중인 패치를 모두 발행한 뒤 반환합니다.
func (r *Replica) Close() error {
	r.Flush()

	r.stateMutex.Lock()
	defer r.stateMutex.Unlock()

	r.builder.Close()
	if !r.running {
		return nil
	}
	r.running = false

	err := r.pubsub.Unsubscribe(context.Background(), r.options.Topic, r.subscriberID)
	if errors.Is(err, crdtpubsub.ErrClosed) {
		err = nil
	}
	close(r.stop)
	<-r.done

	r.log.Debug("replica closed")
	return err
}

// receive는 구독으로 들어온 패치를 처리합니다. 자신이 보낸 패치는 잠금을
// 잡기 전에 걸러 냅니다.
func (r *Replica) receive(ctx context.Context, topic string, data []byte, format crdtpubsub.EncodingFormat) error {
	patch, err := crdtpubsub.DecodePatch(data, format)
	if err != nil {
		r.metrics.Rejected.Inc()
		return err
	}
	if patch.SessionID() == r.sessionID {
		return nil
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.apply(ctx, patch); err != nil {
		return err
	}
	r.drain(ctx)
	return nil
}

// apply는 원격 패치를 적용하고 적용된 패치 수를 반환합니다. 아직 모르는
// 노드나 요소를 참조하는 패치는 문서를 건드리지 않은 채 보류되고, 패치가
// 하나 적용될 때마다 보류된 패치를 다시 시도합니다. 호출자가 mutex를 쥐고
// 있어야 합니다.
func (r *Replica) apply(ctx context.Context, patch *crdtpatch.Patch) (int, error) {
	ok, err := r.integrate(ctx, patch)
	if err != nil {
		return 0, err
	}
	if !ok {
		r.hold(patch)
		return 0, nil
	}
	return 1 + r.retryPending(ctx), nil
}

// integrate는 패치 하나를 적용합니다. 의존성이 아직 없으면 문서는 그대로
// 두고 false를 반환합니다.
func (r *Replica) integrate(ctx context.Context, patch *crdtpatch.Patch) (bool, error) {
	err := patch.Apply(r.doc)
	var dep common.ErrMissingDependency
	switch {
	case errors.As(err, &dep):
		r.log.Debug("patch not ready", zap.Stringer("patch", patch.ID()), zap.Stringer("missing", dep.ID))
		return false, nil
	case err != nil:
		r.metrics.Rejected.Inc()
		r.log.Warn("failed to apply patch", zap.Stringer("patch", patch.ID()), zap.Error(err))
		return false, err
	}
	r.metrics.Applied.Inc()
	r.vector.UpdatePatch(patch)
	r.store(ctx, patch)
	return true, nil
}

// hold는 패치를 보류 목록에 넣습니다. 같은 ID의 패치는 한 번만 들어갑니다.
func (r *Replica) hold(patch *crdtpatch.Patch) {
	for _, p := range r.pending {
		if p.ID() == patch.ID() {
			return
		}
	}
	r.pending = append(r.pending, patch)
	r.metrics.Deferred.Inc()
}

// retryPending은 더 적용할 수 있는 패치가 없을 때까지 보류된 패치를 다시
// 적용합니다. 의존성 외의 이유로 실패한 패치는 버립니다.
func (r *Replica) retryPending(ctx context.Context) int {
	applied := 0
	for progress := true; progress && len(r.pending) > 0; {
		progress = false
		waiting := make([]*crdtpatch.Patch, 0, len(r.pending))
		for _, patch := range r.pending {
			ok, err := r.integrate(ctx, patch)
			switch {
			case err != nil:
			case ok:
				applied++
				progress = true
			default:
				waiting = append(waiting, patch)
			}
		}
		r.pending = waiting
	}
	return applied
}

// drain은 쌓인 로컬 트랜잭션을 패치 하나로 묶어 발행 대기열에 넣습니다.
// 원격 패치에 반응해 생긴 로컬 변경도 여기서 함께 나갑니다.
func (r *Replica) drain(ctx context.Context) {
	if !r.builder.Ready() {
		return
	}
	patch, err := r.builder.Flush()
	if err != nil {
		r.log.Error("failed to build patch", zap.Error(err))
		return
	}
	r.vector.UpdatePatch(patch)
	r.store(ctx, patch)
	r.enqueue(patch)
}

func (r *Replica) store(ctx context.Context, patch *crdtpatch.Patch) {
	if r.options.Store == nil {
		return
	}
	if err := r.options.Store.StorePatch(ctx, patch); err != nil {
		r.log.Warn("failed to store patch", zap.Stringer("patch", patch.ID()), zap.Error(err))
	}
}

func (r *Replica) enqueue(patch *crdtpatch.Patch) {
	r.outboxMutex.Lock()
	r.outbox = append(r.outbox, patch)
	r.outboxMutex.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Replica) dequeue() []*crdtpatch.Patch {
	r.outboxMutex.Lock()
	defer r.outboxMutex.Unlock()

	patches := r.outbox
	r.outbox = nil
	return patches
}

// publishLoop는 대기열의 패치를 순서대로 발행합니다. stop이 닫히면 남은
// 패치를 마저 보내고 끝납니다.
func (r *Replica) publishLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			r.publish(r.dequeue())
			return
		case <-r.wake:
			r.publish(r.dequeue())
		}
	}
}

func (r *Replica) publish(patches []*crdtpatch.Patch) {
	for _, patch := range patches {
		if err := r.pubsub.Publish(context.Background(), r.options.Topic, patch, r.options.Format); err != nil {
			r.metrics.PublishErrors.Inc()
			r.log.Warn("failed to publish patch", zap.Stringer("patch", patch.ID()), zap.Error(err))
			continue
		}
		r.metrics.Published.Inc()
	}
}
