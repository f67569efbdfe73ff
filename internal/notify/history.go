package notify

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/craftywatch/hibernate/pkg/logger"
)

// History records lifecycle transitions as points in an InfluxDB bucket, for
// operators who want a durable timeline of hibernation cycles rather than
// just the current Prometheus gauges.
type History struct {
	client influxdb2.Client
	org    string
	bucket string
}

// NewHistory builds a History sink against the given InfluxDB server. An
// empty url disables the sink entirely; Record becomes a no-op.
func NewHistory(url, token, org, bucket string) *History {
	if url == "" {
		return nil
	}
	return &History{
		client: influxdb2.NewClient(url, token),
		org:    org,
		bucket: bucket,
	}
}

// Close releases the underlying InfluxDB client.
func (h *History) Close() {
	if h == nil {
		return
	}
	h.client.Close()
}

// Record writes one lifecycle transition as a point, asynchronously via the
// non-blocking write API so monitor loop ticks never wait on InfluxDB.
func (h *History) Record(server, fromState, toState string, players int, ts time.Time) {
	if h == nil {
		return
	}
	writeAPI := h.client.WriteAPI(h.org, h.bucket)

	p := write.NewPoint(
		"hibernation_transition",
		map[string]string{
			"server": server,
			"from":   fromState,
			"to":     toState,
		},
		map[string]interface{}{
			"players": players,
		},
		ts,
	)
	writeAPI.WritePoint(p)
	writeAPI.Flush()
}

// Ping verifies connectivity to the InfluxDB server, returning an error when
// it is unreachable. The watcher's entrypoint does not call it.
func (h *History) Ping(ctx context.Context) error {
	if h == nil {
		return nil
	}
	ok, err := h.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("notify: influxdb ping returned false", map[string]interface{}{"bucket": h.bucket})
	}
	return nil
}
