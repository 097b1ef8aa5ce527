package ingest

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/vulnsight/cverag/engine/nvd"
	"github.com/vulnsight/cverag/pkg/natsutil"
)

const (
	// IngestSubject is the NATS subject collectors publish dataset entries to.
	IngestSubject = "cve.ingest"
	// DLQSubject receives entries that kept failing.
	DLQSubject = "cve.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Entry   nvd.Entry `json:"entry"`
	Error   string    `json:"error"`
	Retries int       `json:"retries"`
}

// PublishEntries sends each entry to IngestSubject.
func PublishEntries(ctx context.Context, nc *nats.Conn, entries []nvd.Entry) error {
	for _, e := range entries {
		if err := natsutil.Publish(ctx, nc, IngestSubject, e); err != nil {
			return err
		}
	}
	return nc.FlushWithContext(ctx)
}

// StartConsumer subscribes to IngestSubject and runs each entry through the
// ingestion pipeline. A failed entry is republished with an incremented
// retry count until MaxRetries, then sent to DLQSubject.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.logger()

	return natsutil.Subscribe(nc, IngestSubject, func(ctx context.Context, d natsutil.Delivery[nvd.Entry]) {
		st, err := pipeline(ctx, d.Value).Unwrap()
		if err == nil {
			log.Info("ingest: success", "id", st.ID, "points", st.Points)
			return
		}

		retries := d.Retries + 1
		log.Error("ingest: pipeline failed", "err", err, "id", d.Value.ID, "retry", retries)

		if retries >= MaxRetries {
			data, _ := json.Marshal(dlqMessage{Entry: d.Value, Error: err.Error(), Retries: retries})
			if err := natsutil.PublishRaw(ctx, nc, DLQSubject, data, 0); err != nil {
				log.Error("ingest: DLQ publish failed", "err", err)
			}
			return
		}
		if err := natsutil.PublishRaw(ctx, nc, IngestSubject, d.Data, retries); err != nil {
			log.Error("ingest: retry publish failed", "err", err)
		}
	})
}
