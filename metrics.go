package kestrel

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram bucket in the
// in-process metrics system.
type MetricID uint16

const (
	// MetricLoginSuccess counts fully successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts failed credential checks.
	MetricLoginFailure
	// MetricLoginBlocked counts attempts denied by an active timed block.
	MetricLoginBlocked
	// MetricLoginPermanentBlock counts attempts denied by a permanent block.
	MetricLoginPermanentBlock
	// MetricLoginEmailUnverified counts correct-credential logins stopped on
	// an unproven mailbox.
	MetricLoginEmailUnverified
	// MetricLoginPasswordExpired counts correct-credential logins stopped on
	// an expired password.
	MetricLoginPasswordExpired
	// MetricLoginRenewalWarning counts successful logins inside the renewal
	// warning window.
	MetricLoginRenewalWarning
	// MetricRegisterSuccess counts created identities.
	MetricRegisterSuccess
	// MetricRegisterDuplicate counts registrations against taken identifiers.
	MetricRegisterDuplicate
	// MetricOTPIssued counts issued one-time codes, both purposes.
	MetricOTPIssued
	// MetricOTPRedeemed counts successful redemptions.
	MetricOTPRedeemed
	// MetricOTPRejected counts redemptions that failed on a missing, expired
	// or mismatched code.
	MetricOTPRejected
	// MetricPasswordChangeSuccess counts accepted password changes and resets.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeInvalidOld counts change attempts with a wrong
	// current password.
	MetricPasswordChangeInvalidOld
	// MetricPasswordReuseRejected counts plaintexts rejected by the history.
	MetricPasswordReuseRejected
	// MetricPasswordTooWeak counts plaintexts rejected by the strength policy.
	MetricPasswordTooWeak
	// MetricEmailVerified counts identities whose mailbox was proven.
	MetricEmailVerified
	// MetricCSRFIssued counts issued anti-forgery tokens.
	MetricCSRFIssued
	// MetricCSRFRejected counts validations that failed.
	MetricCSRFRejected
	// MetricCSRFSwept counts tokens removed by the background sweep.
	MetricCSRFSwept
	// MetricNotifyFailure counts best-effort deliveries that failed.
	MetricNotifyFailure
	// MetricLoginLatency is the login-path latency histogram.
	MetricLoginLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and an optional login latency histogram.
// A disabled Metrics is a valid no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether the instance records anything at all.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add increments a counter by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records a login-path latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricLoginLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a deep copy of every counter and histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricLoginLatency].buckets[i])
		}
		s.Histograms[MetricLoginLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
