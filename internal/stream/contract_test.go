package stream

import (
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestLogsKey(t *testing.T) {
	c := Logs()
	payload := []byte(`{"timestamp":"2026-08-30T10:00:00Z","method":"GET","endpoint":"/api/users","status":200}`)
	want := "2026-08-30T10:00:00Z|GET|/api/users"
	if got := c.Key(payload); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}

	// same composite key regardless of unrelated fields
	other := []byte(`{"timestamp":"2026-08-30T10:00:00Z","method":"GET","endpoint":"/api/users","status":500,"duration_ms":12}`)
	if c.Key(payload) != c.Key(other) {
		t.Error("key should ignore fields outside the composite")
	}
}

func TestErrorsKey(t *testing.T) {
	c := Errors()
	payload := []byte(`{"id":"err-42","workflow_id":"wf-1","created_at":"2026-08-30T10:00:00Z"}`)
	if got := c.Key(payload); got != "err-42" {
		t.Errorf("Key() = %q, want err-42", got)
	}
	// numeric ids stringify
	if got := c.Key([]byte(`{"id":42}`)); got != "42" {
		t.Errorf("Key() = %q, want 42", got)
	}
}

func TestLogsBelongsToday(t *testing.T) {
	c := Logs()
	now := time.Date(2026, 8, 30, 15, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"same day", `{"timestamp":"` + time.Date(2026, 8, 30, 9, 0, 0, 0, time.Local).Format(time.RFC3339) + `"}`, true},
		{"previous day", `{"timestamp":"` + time.Date(2026, 8, 29, 23, 59, 0, 0, time.Local).Format(time.RFC3339) + `"}`, false},
		{"missing timestamp", `{"method":"GET"}`, false},
		{"garbage timestamp", `{"timestamp":"not-a-time"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.BelongsToday([]byte(tt.payload), now); got != tt.want {
				t.Errorf("BelongsToday(%s) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestErrorsBelongAlways(t *testing.T) {
	c := Errors()
	if !c.BelongsToday([]byte(`{"id":"x","created_at":"2019-01-01T00:00:00Z"}`), time.Now()) {
		t.Error("errors namespace applies no date scoping")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name string
		json string
		want time.Time
	}{
		{"rfc3339", `{"t":"2026-08-30T10:00:00Z"}`, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
		{"rfc3339 nano", `{"t":"2026-08-30T10:00:00.123456789Z"}`, time.Date(2026, 8, 30, 10, 0, 0, 123456789, time.UTC)},
		{"epoch millis", `{"t":1788160000000}`, time.UnixMilli(1788160000000)},
		{"missing", `{}`, time.Time{}},
		{"garbage", `{"t":"yesterday"}`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTime(gjson.Get(tt.json, "t"))
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContractTimestampField(t *testing.T) {
	logTS := Logs().Timestamp([]byte(`{"timestamp":"2026-08-30T10:00:00Z"}`))
	if logTS.IsZero() {
		t.Error("logs contract should read the timestamp field")
	}
	errTS := Errors().Timestamp([]byte(`{"created_at":"2026-08-30T10:00:00Z"}`))
	if errTS.IsZero() {
		t.Error("errors contract should read the created_at field")
	}
}
