package crdtsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics는 복제본의 패치 흐름을 세는 카운터 묶음입니다.
type Metrics struct {
	// Published는 발행에 성공한 로컬 패치 수입니다.
	Published prometheus.Counter

	// Applied는 문서에 적용된 원격 패치 수입니다.
	Applied prometheus.Counter

	// Rejected는 디코딩이나 적용에 실패한 원격 패치 수입니다.
	Rejected prometheus.Counter

	// Deferred는 의존성이 도착할 때까지 보류된 원격 패치 수입니다.
	Deferred prometheus.Counter

	// PublishErrors는 발행에 실패한 횟수입니다.
	PublishErrors prometheus.Counter
}

// NewMetrics는 reg에 카운터를 등록합니다. reg가 nil이면 등록하지 않습니다.
// 같은 레지스트리에 여러 복제본을 올릴 때는 replica 레이블로 구분합니다.
func NewMetrics(reg prometheus.Registerer, replica string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"replica": replica}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "reactivecrdt",
			Subsystem:   "sync",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &Metrics{
		Published:     counter("patches_published_total", "Local patches published to the topic."),
		Applied:       counter("patches_applied_total", "Remote patches applied to the document."),
		Rejected:      counter("patches_rejected_total", "Remote patches that could not be decoded or applied."),
		Deferred:      counter("patches_deferred_total", "Remote patches held back until the operations they depend on arrive."),
		PublishErrors: counter("publish_errors_total", "Failed attempts to publish a local patch."),
	}
}
