package export

import (
	"context"
	"sync"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/metrics"
)

// MemorySink keeps exported segments in process memory. It backs
// development setups and tests where no object store is available;
// segments vanish with the process.
type MemorySink struct {
	mu      sync.RWMutex
	objects map[string][]byte
	prefix  string
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink(prefix string) *MemorySink {
	if prefix == "" {
		prefix = "audit"
	}
	return &MemorySink{
		objects: map[string][]byte{},
		prefix:  prefix,
	}
}

// ExportRange seals a contiguous chain range as one object
func (s *MemorySink) ExportRange(ctx context.Context, orgID, chainKey string, records []*audit.Record) (string, error) {
	fromSeq, toSeq := segmentBounds(records)
	return s.put(ctx, rangeKey(s.prefix, orgID, chainKey, fromSeq, toSeq), records)
}

// ExportReport writes a report's record set as one object
func (s *MemorySink) ExportReport(ctx context.Context, orgID, reportID string, records []*audit.Record) (string, error) {
	return s.put(ctx, reportKey(s.prefix, orgID, reportID), records)
}

func (s *MemorySink) put(ctx context.Context, key string, records []*audit.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := encodeNDJSON(records)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()

	metrics.ExportedSegmentsTotal.Inc()
	metrics.ExportedBytesTotal.Add(float64(len(data)))

	return "memory://" + key, nil
}

// Object returns a stored segment by key
func (s *MemorySink) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys lists the stored segment keys
func (s *MemorySink) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	return keys
}
