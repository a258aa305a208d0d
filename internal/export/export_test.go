package export

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/config"
	"github.com/verax-io/verax/internal/logger"
)

var (
	_ audit.Exporter = (*MemorySink)(nil)
	_ audit.Exporter = (*MinioSink)(nil)
)

func segmentRecords(t *testing.T, count int, startSeq uint64) []*audit.Record {
	t.Helper()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	records := make([]*audit.Record, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, &audit.Record{
			ID:             "rec-" + string(rune('a'+i)),
			OrganizationID: "acme",
			ChainKey:       "default",
			SequenceNumber: startSeq + uint64(i),
			PreviousHash:   "prev",
			Checksum:       "sum",
			OccurredAt:     base.Add(time.Duration(i) * time.Minute),
			Action:         audit.ActionUpdate,
			Category:       audit.CategoryDataChange,
			Severity:       audit.SeverityInfo,
			Description:    "change",
			RiskScore:      10,
		})
	}
	return records
}

func decodeNDJSON(t *testing.T, data []byte) []*audit.Record {
	t.Helper()
	var records []*audit.Record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var record audit.Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("Failed to decode line %q: %v", line, err)
		}
		records = append(records, &record)
	}
	return records
}

func TestEncodeNDJSON(t *testing.T) {
	records := segmentRecords(t, 3, 7)

	data, err := encodeNDJSON(records)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	decoded := decodeNDJSON(t, data)
	if len(decoded) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(decoded))
	}
	for i, record := range decoded {
		if record.SequenceNumber != uint64(7+i) {
			t.Errorf("Expected sequence %d at line %d, got %d", 7+i, i, record.SequenceNumber)
		}
		if !record.OccurredAt.Equal(records[i].OccurredAt) {
			t.Errorf("Expected occurred_at %v, got %v", records[i].OccurredAt, record.OccurredAt)
		}
	}
}

func TestMemorySinkExportRange(t *testing.T) {
	sink := NewMemorySink("audit")
	records := segmentRecords(t, 3, 3)

	location, err := sink.ExportRange(context.Background(), "acme", "default", records)
	if err != nil {
		t.Fatalf("Failed to export range: %v", err)
	}

	wantKey := "audit/acme/default/00000000000000000003-00000000000000000005.ndjson"
	if location != "memory://"+wantKey {
		t.Errorf("Unexpected location %q", location)
	}

	data, ok := sink.Object(wantKey)
	if !ok {
		t.Fatalf("Expected stored object at %s, have keys %v", wantKey, sink.Keys())
	}
	if decoded := decodeNDJSON(t, data); len(decoded) != 3 {
		t.Errorf("Expected 3 records in segment, got %d", len(decoded))
	}
}

func TestMemorySinkExportReport(t *testing.T) {
	sink := NewMemorySink("")
	records := segmentRecords(t, 2, 1)

	location, err := sink.ExportReport(context.Background(), "acme", "rep-1", records)
	if err != nil {
		t.Fatalf("Failed to export report: %v", err)
	}
	if location != "memory://audit/acme/reports/rep-1.ndjson" {
		t.Errorf("Unexpected location %q", location)
	}
}

func TestMemorySinkEmptyReport(t *testing.T) {
	sink := NewMemorySink("audit")

	location, err := sink.ExportReport(context.Background(), "acme", "rep-empty", nil)
	if err != nil {
		t.Fatalf("Failed to export empty report: %v", err)
	}
	data, ok := sink.Object(strings.TrimPrefix(location, "memory://"))
	if !ok {
		t.Fatal("Expected an object for the empty report")
	}
	if len(data) != 0 {
		t.Errorf("Expected an empty segment, got %d bytes", len(data))
	}
}

func TestNewSink(t *testing.T) {
	log := logger.NewFromConfig("error", "text")
	ctx := context.Background()

	sink, err := NewSink(ctx, config.ExportConfig{Enabled: false}, log)
	if err != nil || sink != nil {
		t.Fatalf("Expected disabled export to yield no sink, got %v, %v", sink, err)
	}

	sink, err = NewSink(ctx, config.ExportConfig{Enabled: true, Type: "memory", Prefix: "audit"}, log)
	if err != nil {
		t.Fatalf("Failed to create memory sink: %v", err)
	}
	if _, ok := sink.(*MemorySink); !ok {
		t.Fatalf("Expected a *MemorySink, got %T", sink)
	}

	if _, err := NewSink(ctx, config.ExportConfig{Enabled: true, Type: "tape"}, log); err == nil {
		t.Error("Expected an error for an unknown sink type")
	}

	// a minio sink with no endpoint fails before dialing anything
	if _, err := NewSink(ctx, config.ExportConfig{Enabled: true, Type: "minio"}, log); err == nil {
		t.Error("Expected an error for a minio sink without an endpoint")
	}
}
