package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	uploadCommittedTotal  atomic.Uint64
	uploadRolledBackTotal atomic.Uint64
	metadataConflictTotal atomic.Uint64
	orphanBlobTotal       atomic.Uint64
	tokenRefreshTotal     atomic.Uint64
	tokenRefreshFailTotal atomic.Uint64

	uploadBatchDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncUploadCommitted increments the committed-batch counter.
func IncUploadCommitted() {
	uploadCommittedTotal.Add(1)
}

// IncUploadRolledBack increments the rolled-back-batch counter.
func IncUploadRolledBack() {
	uploadRolledBackTotal.Add(1)
}

// IncMetadataConflict increments the metadata write-conflict counter.
func IncMetadataConflict() {
	metadataConflictTotal.Add(1)
}

// IncOrphanBlob records a blob that could not be deleted during rollback or
// record removal and may now be unreferenced.
func IncOrphanBlob() {
	orphanBlobTotal.Add(1)
}

// IncTokenRefresh increments the token renewal counter.
func IncTokenRefresh() {
	tokenRefreshTotal.Add(1)
}

// IncTokenRefreshFailed increments the failed token renewal counter.
func IncTokenRefreshFailed() {
	tokenRefreshFailTotal.Add(1)
}

// ObserveUploadBatchDurationMs records an upload batch duration in milliseconds.
func ObserveUploadBatchDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	uploadBatchDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "upload_batches_committed_total", "Total upload batches committed", uploadCommittedTotal.Load())
	writeCounter(&buf, "upload_batches_rolled_back_total", "Total upload batches rolled back", uploadRolledBackTotal.Load())
	writeCounter(&buf, "metadata_conflicts_total", "Total metadata write conflicts observed", metadataConflictTotal.Load())
	writeCounter(&buf, "orphan_blobs_total", "Total blobs left possibly unreferenced after failed deletes", orphanBlobTotal.Load())
	writeCounter(&buf, "token_refreshes_total", "Total access token renewals attempted", tokenRefreshTotal.Load())
	writeCounter(&buf, "token_refresh_failures_total", "Total access token renewals failed", tokenRefreshFailTotal.Load())
	writeHistogram(&buf, "upload_batch_duration_ms", "Upload batch duration in milliseconds", uploadBatchDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
