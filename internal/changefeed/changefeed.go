// Package changefeed decodes CockroachDB changefeed rows into index change
// events. Rows arrive either as a webhook envelope:
//
//	{"payload": [{"after": {"id": "...", "name": "..."}, "key": ["..."],
//	              "topic": "teams", "updated": "1700000000000000000.0000000000"}],
//	 "length": 1}
//
// or as Kafka sink messages whose key is the JSON primary key array and whose
// value is {"after": {...}, "updated": "..."}. A null "after" is a delete.
package changefeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/trigram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/trigram-search/pkg/errors"
)

// Row is one changed row.
type Row struct {
	After   map[string]json.RawMessage `json:"after"`
	Key     []json.RawMessage          `json:"key,omitempty"`
	Topic   string                     `json:"topic,omitempty"`
	Updated string                     `json:"updated,omitempty"`
}

// Envelope is the body of a webhook sink request.
type Envelope struct {
	Payload []json.RawMessage `json:"payload"`
	Length  int               `json:"length"`
}

// Decoder maps rows to events using the configured column names.
type Decoder struct {
	IDColumn   string
	TextColumn string
}

func NewDecoder(cfg config.CDCConfig) Decoder {
	d := Decoder{IDColumn: cfg.IDColumn, TextColumn: cfg.TextColumn}
	if d.IDColumn == "" {
		d.IDColumn = "id"
	}
	if d.TextColumn == "" {
		d.TextColumn = "name"
	}
	return d
}

// Event converts a row. The id comes from the id column of "after", or from
// the first key element when the row was deleted. A missing or null text
// column is treated as a delete. An event with an empty id is returned as
// is; rejecting it is up to the indexer.
func (d Decoder) Event(row Row) indexer.Event {
	ev := indexer.Event{Updated: row.Updated}
	if row.After != nil {
		ev.ID, _ = scalar(row.After[d.IDColumn])
		if text, ok := scalar(row.After[d.TextColumn]); ok {
			ev.Text = &text
		}
	}
	if ev.ID == "" && len(row.Key) > 0 {
		ev.ID, _ = scalar(row.Key[0])
	}
	return ev
}

// DecodeRow parses a single payload element.
func (d Decoder) DecodeRow(raw []byte) (indexer.Event, error) {
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return indexer.Event{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed changefeed row: %v", err)
	}
	return d.Event(row), nil
}

// DecodeEnvelope parses a webhook body and returns its raw payload rows.
func DecodeEnvelope(body []byte) ([]json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed changefeed envelope: %v", err)
	}
	return env.Payload, nil
}

// DecodeMessage converts a Kafka sink message. An empty value is a
// tombstone and yields a delete for the key.
func (d Decoder) DecodeMessage(key, value []byte) (indexer.Event, error) {
	var row Row
	if len(bytes.TrimSpace(value)) > 0 {
		if err := json.Unmarshal(value, &row); err != nil {
			return indexer.Event{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed changefeed message: %v", err)
		}
	}
	if len(row.Key) == 0 && len(bytes.TrimSpace(key)) > 0 {
		if err := json.Unmarshal(key, &row.Key); err != nil {
			return indexer.Event{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "malformed changefeed key %q: %v", key, err)
		}
	}
	return d.Event(row), nil
}

// scalar renders a JSON string or number as text. Null, absent and
// composite values report false.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[', 't', 'f':
		return "", false
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
}

// describe is used in logs and dead-letter records.
func describe(ev indexer.Event) string {
	if ev.Deleted() {
		return fmt.Sprintf("delete(%q)", ev.ID)
	}
	return fmt.Sprintf("upsert(%q)", ev.ID)
}
