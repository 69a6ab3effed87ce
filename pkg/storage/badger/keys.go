package badger

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/nicktill/tubestatus/pkg/document"
	"github.com/nicktill/tubestatus/pkg/storage"
)

const (
	rowPrefix   = "iv/"
	openPrefix  = "open/"
	sequenceKey = "seq/interval"

	// suffix after the table name: hash (8) + start (8) + sequence (8)
	rowSuffixLen = 24
)

func intervalPrefix(table string) []byte {
	return []byte(rowPrefix + table + "/")
}

func openIndexPrefix(table string) []byte {
	return []byte(openPrefix + table + "/")
}

func openIndexKey(table, entityID string) []byte {
	return append(openIndexPrefix(table), entityID...)
}

// makeKey creates a sortable row key:
// [iv/<table>/][entity_hash (8 bytes)][start unix s (8 bytes)][sequence (8 bytes)]
// Rows of one entity sort chronologically; the sequence separates rows that
// start in the same second.
func makeKey(table, entityID string, start time.Time, seq uint64) []byte {
	prefix := intervalPrefix(table)
	key := make([]byte, len(prefix)+rowSuffixLen)
	n := copy(key, prefix)

	binary.BigEndian.PutUint64(key[n:n+8], xxhash.Sum64String(entityID))
	binary.BigEndian.PutUint64(key[n+8:n+16], uint64(start.Unix()))
	binary.BigEndian.PutUint64(key[n+16:n+24], seq)

	return key
}

// parseKey extracts table name, start time and entity hash from a row key.
// The entity id itself lives in the row value.
func parseKey(key []byte) (string, time.Time, uint64) {
	if len(key) < len(rowPrefix)+rowSuffixLen+1 {
		return "", time.Time{}, 0
	}

	suffix := key[len(key)-rowSuffixLen:]
	table := strings.TrimSuffix(string(key[len(rowPrefix):len(key)-rowSuffixLen]), "/")

	hash := binary.BigEndian.Uint64(suffix[0:8])
	start := time.Unix(int64(binary.BigEndian.Uint64(suffix[8:16])), 0).UTC()

	return table, start, hash
}

func hasPrefix(key []byte, prefix string) bool {
	return bytes.HasPrefix(key, []byte(prefix))
}

// record is the persisted row: entity_id, start_time, end_time, data.
type record struct {
	EntityID  string            `json:"entity_id"`
	StartTime int64             `json:"start_time"`
	EndTime   *int64            `json:"end_time"`
	Data      document.Document `json:"data"`
}

// encodeInterval serializes an interval to bytes
func encodeInterval(iv storage.Interval) ([]byte, error) {
	rec := record{
		EntityID:  iv.EntityID,
		StartTime: iv.Start.Unix(),
		Data:      iv.Data,
	}
	if iv.End != nil {
		end := iv.End.Unix()
		rec.EndTime = &end
	}
	return json.Marshal(rec)
}

// decodeInterval deserializes bytes to an interval
func decodeInterval(data []byte) (storage.Interval, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return storage.Interval{}, err
	}

	iv := storage.Interval{
		EntityID: rec.EntityID,
		Start:    time.Unix(rec.StartTime, 0).UTC(),
		Data:     rec.Data,
	}
	if rec.EndTime != nil {
		end := time.Unix(*rec.EndTime, 0).UTC()
		iv.End = &end
	}
	return iv, nil
}

// zapLogger routes badger's internal logging through zap.
type zapLogger struct {
	*zap.SugaredLogger
}

func (l zapLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
