// Package export seals audit records into cold storage as
// newline-delimited JSON segments.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/verax-io/verax/internal/audit"
)

const ndjsonContentType = "application/x-ndjson"

// encodeNDJSON renders records as one JSON document per line. Line order
// follows the input, so archive segments stay in ascending sequence
// order and report segments keep their collection order.
func encodeNDJSON(records []*audit.Record) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return nil, fmt.Errorf("encode record %s: %w", record.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// rangeKey names an archive segment after the chain range it seals
func rangeKey(prefix, orgID, chainKey string, fromSeq, toSeq uint64) string {
	return fmt.Sprintf("%s/%s/%s/%020d-%020d.ndjson", prefix, orgID, chainKey, fromSeq, toSeq)
}

// reportKey names a compliance report's record set
func reportKey(prefix, orgID, reportID string) string {
	return fmt.Sprintf("%s/%s/reports/%s.ndjson", prefix, orgID, reportID)
}

// segmentBounds returns the sequence range covered by a record slice
func segmentBounds(records []*audit.Record) (uint64, uint64) {
	if len(records) == 0 {
		return 0, 0
	}
	return records[0].SequenceNumber, records[len(records)-1].SequenceNumber
}
