package miner

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CallRecord is one logged tool invocation.
type CallRecord struct {
	SessionID string    `json:"session_id,omitempty"`
	Tool      string    `json:"tool_name"`
	Success   bool      `json:"success"`
	Latency   float64   `json:"latency"` // seconds
	Timestamp time.Time `json:"timestamp"`
}

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts execution_id for session_id and tool for tool_name.
// Timestamps may be ISO-8601 strings or unix seconds.
func (r *CallRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		SessionID   *string         `json:"session_id"`
		ExecutionID *string         `json:"execution_id"`
		ToolName    *string         `json:"tool_name"`
		Tool        *string         `json:"tool"`
		Success     *bool           `json:"success"`
		Latency     float64         `json:"latency"`
		Timestamp   json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = CallRecord{Latency: raw.Latency}
	switch {
	case raw.SessionID != nil:
		r.SessionID = *raw.SessionID
	case raw.ExecutionID != nil:
		r.SessionID = *raw.ExecutionID
	}
	switch {
	case raw.ToolName != nil:
		r.Tool = *raw.ToolName
	case raw.Tool != nil:
		r.Tool = *raw.Tool
	}
	if r.Tool == "" {
		return errors.New("record has no tool_name")
	}
	if raw.Success != nil {
		r.Success = *raw.Success
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("record %s: %w", r.Tool, err)
	}
	r.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, errors.New("missing timestamp")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(raw, &secs); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
		}
		return unixSeconds(secs), nil
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return unixSeconds(secs), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func unixSeconds(secs float64) time.Time {
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
}

// ReadRecords decodes call records from a JSON array or from JSON lines.
func ReadRecords(r io.Reader) ([]CallRecord, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var records []CallRecord
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("decoding records: %w", err)
		}
		return records, nil
	}

	var records []CallRecord
	for line := 1; ; line++ {
		var rec CallRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !strings.ContainsRune(" \t\r\n", rune(b)) {
			return b, br.UnreadByte()
		}
	}
}

// LoadFile reads call records from a file.
func LoadFile(path string) ([]CallRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening call log: %w", err)
	}
	defer f.Close()
	return ReadRecords(f)
}
