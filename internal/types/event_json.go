package types

import (
	"encoding/json"
	"time"
)

// MarshalJSON flattens Payload into the same JSON object as Timestamp,
// Type, and IssueID, matching the wire format of spec §6.3: one object
// per line with no nested "payload" key.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["timestamp"] = e.Timestamp
	out["type"] = e.Type
	out["issue_id"] = e.IssueID
	return json.Marshal(out)
}

// UnmarshalJSON decodes Timestamp/Type/IssueID into their fields and
// everything else into Payload, so unrecognized fields from a
// forward-compatible writer are preserved rather than dropped.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["timestamp"]; ok {
		var t time.Time
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		e.Timestamp = t
		delete(raw, "timestamp")
	}
	if v, ok := raw["type"]; ok {
		var typ EventType
		if err := json.Unmarshal(v, &typ); err != nil {
			return err
		}
		e.Type = typ
		delete(raw, "type")
	}
	if v, ok := raw["issue_id"]; ok {
		var id string
		if err := json.Unmarshal(v, &id); err != nil {
			return err
		}
		e.IssueID = id
		delete(raw, "issue_id")
	}

	payload := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		payload[k] = val
	}
	e.Payload = payload
	return nil
}

// WithPayload is a small builder used by callers that construct an Event
// from a typed payload struct (StateChangedPayload, GatePayload, ...) by
// round-tripping it through JSON into the generic Payload map.
func WithPayload(typ EventType, issueID string, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Event{}, err
	}
	return Event{Timestamp: at, Type: typ, IssueID: issueID, Payload: m}, nil
}
