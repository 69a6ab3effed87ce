// Package export writes the raw interval history of one family to JSON or
// CSV files.
//
// # Overview
//
// History queries return parsed, merged display spans. Export instead returns
// the intervals exactly as stored: one row per interval with the raw
// feed document. This is useful for:
//   - Offline analysis of what the feed actually reported
//   - Debugging change detection and parser behaviour
//   - Archiving history outside the service
//
// # Supported Formats
//
// JSON Format:
//   - Includes export metadata (family, time range, interval and entity counts)
//   - Each interval keeps its full document under "data"
//   - Human-readable with pretty-printing
//
// CSV Format:
//   - One row per interval: entity_id, start_time, end_time, data
//   - end_time is empty for open intervals; data is compact JSON
//
// # HTTP API
//
// Export endpoint: GET /api/v1/export
// Query parameters:
//   - family: "lines" or "stations" (default: lines)
//   - format: "json" or "csv" (default: json)
//   - from: RFC3339 timestamp (default: 24h before to)
//   - to: RFC3339 timestamp (default: now)
//
// Example:
//
//	curl "http://localhost:8080/api/v1/export?family=stations&format=csv&from=2025-11-18T00:00:00Z" \
//	  -o stations.csv
//
// # Usage Limits
//
// The window is bounded by the same ceiling as history queries (32 days by
// default) and rejected with 400 before storage is read.
//
// # Data Format
//
//	{
//	  "metadata": {
//	    "exported_at": "2025-11-19T03:00:00Z",
//	    "family": "line_history",
//	    "start_time": "2025-11-18T03:00:00Z",
//	    "end_time": "2025-11-19T03:00:00Z",
//	    "interval_count": 2,
//	    "entity_count": 1,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "intervals": [
//	    {
//	      "entity_id": "central",
//	      "start_time": "2025-11-18T02:00:00Z",
//	      "end_time": "2025-11-18T09:14:00Z",
//	      "data": {"id": "central", "lineStatuses": [...]}
//	    }
//	  ]
//	}
package export
