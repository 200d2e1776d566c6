// Package metrics reports gate and limiter decisions to DogStatsD.
package metrics

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
)

const (
	decisionMetricName  = "ratelimit.decision"
	waitMetricName      = "ratelimit.queue_wait"
	partitionMetricName = "ratelimit.partitions"
	evictedMetricName   = "ratelimit.partitions_evicted"
	deniedMetricName    = "allowlist.denied"
	decisionKey         = "decision"
)

// Reporter receives one call per pipeline decision. Implementations must be
// safe for concurrent use.
type Reporter interface {
	// Admitted records an admission; queued is true when the caller waited.
	Admitted(queued bool, waited time.Duration)
	// Rejected records a request turned away because the queue was full.
	Rejected()
	// Abandoned records a queued request that gave up before admission.
	Abandoned(waited time.Duration)
	// Denied records a request refused by the IP allowlist.
	Denied()
	// Partitions records the number of tracked rate limit partitions.
	Partitions(n int)
	// PartitionEvicted records a partition leaving the store.
	PartitionEvicted()
}

// DataDogReporter sends decisions through a statsd client. DefaultTags are
// attached to every metric.
type DataDogReporter struct {
	Client      *statsd.Client
	DefaultTags []string
}

// NewDataDogReporter returns a DataDogReporter.
func NewDataDogReporter(client *statsd.Client, defaultTags []string) *DataDogReporter {
	return &DataDogReporter{Client: client, DefaultTags: defaultTags}
}

func (d *DataDogReporter) tags(extra ...string) []string {
	out := make([]string, 0, len(d.DefaultTags)+len(extra))
	out = append(out, d.DefaultTags...)
	return append(out, extra...)
}

func decisionTag(decision string) string {
	return fmt.Sprintf("%s:%s", decisionKey, decision)
}

func (d *DataDogReporter) Admitted(queued bool, waited time.Duration) {
	if !queued {
		_ = d.Client.Incr(decisionMetricName, d.tags(decisionTag("admitted")), 1)
		return
	}
	_ = d.Client.Incr(decisionMetricName, d.tags(decisionTag("queued_admitted")), 1)
	_ = d.Client.Timing(waitMetricName, waited, d.tags(decisionTag("queued_admitted")), 1)
}

func (d *DataDogReporter) Rejected() {
	_ = d.Client.Incr(decisionMetricName, d.tags(decisionTag("rejected")), 1)
}

func (d *DataDogReporter) Abandoned(waited time.Duration) {
	_ = d.Client.Incr(decisionMetricName, d.tags(decisionTag("abandoned")), 1)
	_ = d.Client.Timing(waitMetricName, waited, d.tags(decisionTag("abandoned")), 1)
}

func (d *DataDogReporter) Denied() {
	_ = d.Client.Incr(deniedMetricName, d.tags(), 1)
}

func (d *DataDogReporter) Partitions(n int) {
	_ = d.Client.Gauge(partitionMetricName, float64(n), d.tags(), 1)
}

func (d *DataDogReporter) PartitionEvicted() {
	_ = d.Client.Incr(evictedMetricName, d.tags(), 1)
}

var _ Reporter = (*DataDogReporter)(nil)

// NullReporter discards everything.
type NullReporter struct{}

func (NullReporter) Admitted(bool, time.Duration) {}
func (NullReporter) Rejected()                    {}
func (NullReporter) Abandoned(time.Duration)      {}
func (NullReporter) Denied()                      {}
func (NullReporter) Partitions(int)               {}
func (NullReporter) PartitionEvicted()            {}
