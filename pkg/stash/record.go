package stash

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies how a Record's Body is decoded back into a typed entry
// when the log is replayed.
type Kind string

const (
	KindDate    Kind = "date"
	KindInt     Kind = "int"
	KindString  Kind = "string"
	KindUUID    Kind = "uuid"
	KindModel   Kind = "model"
	KindPayload Kind = "payload"
)

func (k Kind) valid() bool {
	switch k {
	case KindDate, KindInt, KindString, KindUUID, KindModel, KindPayload:
		return true
	}
	return false
}

// Record is one disk-log line. Body always carries the value's string
// representation; Kind disambiguates decoding on replay. ExpiresAt is unix
// seconds; absent means the record never expires. Records are appended, never
// rewritten in place, so many records may exist for the same key and the last
// one in file order wins on replay.
type Record struct {
	Body      string `json:"body"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
	Key       string `json:"key"`
	Kind      Kind   `json:"kind"`
}

// NewRecord builds a record for key with the given string body.
func NewRecord(key string, kind Kind, body string, expiresAt *time.Time) Record {
	r := Record{Body: body, Key: key, Kind: kind}
	if expiresAt != nil {
		unix := expiresAt.Unix()
		r.ExpiresAt = &unix
	}
	return r
}

// Expiry returns the record's expiration as a time, or nil.
func (r Record) Expiry() *time.Time {
	if r.ExpiresAt == nil {
		return nil
	}
	t := time.Unix(*r.ExpiresAt, 0)
	return &t
}

// Expired reports whether the record's expiration is in the past relative to now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && time.Unix(*r.ExpiresAt, 0).Before(now)
}

// EncodeLine serializes the record to its newline-terminated line form.
func (r Record) EncodeLine() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("record encode error: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeRecord parses one log line. Lines that do not parse, or that carry an
// unknown kind, are corrupt; callers log and skip them.
func DecodeRecord(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, fmt.Errorf("record decode error: %w", err)
	}
	if r.Key == "" {
		return Record{}, fmt.Errorf("record decode error: empty key")
	}
	if !r.Kind.valid() {
		return Record{}, fmt.Errorf("record decode error: unknown kind %q", r.Kind)
	}
	return r, nil
}

func parseDateBody(body string) (time.Time, error) {
	unix, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("date body %q is not a unix timestamp: %w", body, err)
	}
	return time.Unix(unix, 0), nil
}

func parseIntBody(body string) (int64, error) {
	n, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("int body %q is not an integer: %w", body, err)
	}
	return n, nil
}

func encodeDateBody(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

func encodeIntBody(n int64) string { return strconv.FormatInt(n, 10) }
