package stream

import (
	"time"

	"github.com/tidwall/gjson"
)

// Contract describes one namespace's message protocol: the request sent
// after connect, the snapshot and increment event names, and how to read
// identity and time out of the opaque payloads. The two production
// namespaces differ only in this table.
type Contract struct {
	Namespace      string
	RequestEvent   string
	SnapshotEvent  string
	SnapshotField  string // array field wrapping the snapshot records
	IncrementEvent string
	TimestampField string

	// Key derives the dedup key for a record; empty means undedupable.
	Key func(payload []byte) string
	// BelongsToday reports whether an increment belongs in the
	// snapshot-merged buffer.
	BelongsToday func(payload []byte, now time.Time) bool
}

// Logs is the API-log stream: day-scoped, deduplicated by the natural
// composite key since log records carry no server-assigned ID.
func Logs() Contract {
	return Contract{
		Namespace:      "logs",
		RequestEvent:   "request_today_logs",
		SnapshotEvent:  "today_logs",
		SnapshotField:  "logs",
		IncrementEvent: "new_log",
		TimestampField: "timestamp",
		Key: func(payload []byte) string {
			r := gjson.GetManyBytes(payload, "timestamp", "method", "endpoint")
			return r[0].String() + "|" + r[1].String() + "|" + r[2].String()
		},
		BelongsToday: func(payload []byte, now time.Time) bool {
			ts := ParseTime(gjson.GetBytes(payload, "timestamp"))
			if ts.IsZero() {
				return false
			}
			y1, m1, d1 := ts.Local().Date()
			y2, m2, d2 := now.Date()
			return y1 == y2 && m1 == m2 && d1 == d2
		},
	}
}

// Errors is the workflow-error stream: no date scoping, deduplicated by
// record ID.
func Errors() Contract {
	return Contract{
		Namespace:      "errors",
		RequestEvent:   "request_recent_errors",
		SnapshotEvent:  "recent_errors",
		SnapshotField:  "errors",
		IncrementEvent: "new_error",
		TimestampField: "created_at",
		Key: func(payload []byte) string {
			return gjson.GetBytes(payload, "id").String()
		},
		BelongsToday: func(payload []byte, now time.Time) bool {
			return true
		},
	}
}

// Timestamp extracts the contract's timestamp field from a record.
func (c Contract) Timestamp(payload []byte) time.Time {
	return ParseTime(gjson.GetBytes(payload, c.TimestampField))
}

// ParseTime handles the timestamp shapes the backend emits: RFC3339
// strings and unix epoch milliseconds.
func ParseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		return time.UnixMilli(r.Int())
	case gjson.String:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, r.Str); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
