package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/glizzus/encore/internal/datalayer"
)

// ArchiveSink stores each event as a JSON object in blob storage.
type ArchiveSink struct {
	storage datalayer.BlobStorage
}

var _ Sink = (*ArchiveSink)(nil)

func NewArchiveSink(storage datalayer.BlobStorage) *ArchiveSink {
	return &ArchiveSink{storage: storage}
}

func (s *ArchiveSink) Name() string { return "archive" }

// ArchiveKey is where an event is stored.
func ArchiveKey(event Event) string {
	return fmt.Sprintf("failover/%s/%s.json", event.GuildID, event.ID)
}

func (s *ArchiveSink) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.storage.Put(ctx, ArchiveKey(event), bytes.NewReader(data), datalayer.PutOptions{
		Size:        int64(len(data)),
		ContentType: "application/json",
	})
}
