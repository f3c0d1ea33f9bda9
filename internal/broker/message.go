package broker

import (
	"encoding/json"
	"strconv"
	"time"
)

// nullPayload is the wire representation of an empty/absent payload.
const nullPayload = "null"

// BackoffType selects a retry backoff strategy.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes retry backoff behavior, carried opaquely on the wire
// as its JSON encoding in the "backoff" field.
type Backoff struct {
	Type     BackoffType `json:"type"`
	Delay    int64       `json:"delay"`
	MaxDelay int64       `json:"maxDelay,omitempty"`
}

// Message is a task record as carried on a stream entry. TaskName,
// Payload, and EnqueuedAt are always present; the rest are optional.
//
// Field order is load-bearing: taskName, payload, enqueuedAt must be the
// first three wire fields in that order for cross-implementation
// compatibility, so Fields() returns them in a fixed slice rather than a
// map.
type Message struct {
	TaskName      string
	Payload       string // already-serialized; "null" means empty
	EnqueuedAt    int64  // milliseconds since epoch
	Attempts      int    // 0 means unset
	Backoff       string // serialized Backoff JSON; "" means unset
	Timeout       int64  // milliseconds; 0 means unset
	DeliveryCount int    // not on the wire; left zero by MessageFromValues and the reclaimer
}

// NewMessage builds a Message from a task name and an arbitrary payload
// value, JSON-marshaling the payload and substituting the canonical
// null-payload representation for a nil/empty value.
func NewMessage(taskName string, payload interface{}) (Message, error) {
	body, err := encodePayload(payload)
	if err != nil {
		return Message{}, wrapErr(KindSerialization, "marshal_payload", err)
	}
	return Message{
		TaskName:   taskName,
		Payload:    body,
		EnqueuedAt: time.Now().UnixMilli(),
	}, nil
}

func encodePayload(payload interface{}) (string, error) {
	if payload == nil {
		return nullPayload, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if len(b) == 0 || string(b) == "null" {
		return nullPayload, nil
	}
	return string(b), nil
}

// Fields returns the flat, order-preserving key/value list suitable for
// redis.XAddArgs.Values: taskName, payload, enqueuedAt first, then any of
// attempts, backoff, timeout that are set.
func (m Message) Fields() []interface{} {
	fields := []interface{}{
		"taskName", m.TaskName,
		"payload", m.Payload,
		"enqueuedAt", m.EnqueuedAt,
	}
	if m.Attempts > 0 {
		fields = append(fields, "attempts", m.Attempts)
	}
	if m.Backoff != "" {
		fields = append(fields, "backoff", m.Backoff)
	}
	if m.Timeout > 0 {
		fields = append(fields, "timeout", m.Timeout)
	}
	return fields
}

// MessageFromValues decodes a stream entry's Values map (as returned by
// go-redis for XReadGroup/XClaim/XRange) into a Message.
func MessageFromValues(values map[string]interface{}) Message {
	m := Message{
		TaskName: asString(values["taskName"]),
		Payload:  asString(values["payload"]),
	}
	m.EnqueuedAt, _ = strconv.ParseInt(asString(values["enqueuedAt"]), 10, 64)
	if v, ok := values["attempts"]; ok {
		m.Attempts, _ = strconv.Atoi(asString(v))
	}
	if v, ok := values["backoff"]; ok {
		m.Backoff = asString(v)
	}
	if v, ok := values["timeout"]; ok {
		m.Timeout, _ = strconv.ParseInt(asString(v), 10, 64)
	}
	return m
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// DecodePayload unmarshals the message's payload into out. A payload of
// the canonical "null" representation unmarshals to the zero value of out
// without erroring, matching the invariant that an empty payload is valid.
func (m Message) DecodePayload(out interface{}) error {
	if m.Payload == "" || m.Payload == nullPayload {
		return nil
	}
	if err := json.Unmarshal([]byte(m.Payload), out); err != nil {
		return wrapErr(KindSerialization, "unmarshal_payload", err)
	}
	return nil
}

// ScheduledRecord is the JSON object stored as a delayed-set member. It
// carries the full task record plus enough routing information (StreamKey
// preferred, Priority as fallback) to reconstruct a valid stream message
// when it becomes due.
type ScheduledRecord struct {
	TaskName   string `json:"taskName"`
	Payload    string `json:"payload"`
	EnqueuedAt int64  `json:"enqueuedAt"`
	StreamKey  string `json:"streamKey,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Backoff    string `json:"backoff,omitempty"`
	Timeout    int64  `json:"timeout,omitempty"`
}

// Message converts the scheduled record's task fields back into a Message
// (without routing information) for appending to the target stream.
func (r ScheduledRecord) Message() Message {
	return Message{
		TaskName:   r.TaskName,
		Payload:    r.Payload,
		EnqueuedAt: r.EnqueuedAt,
		Attempts:   r.Attempts,
		Backoff:    r.Backoff,
		Timeout:    r.Timeout,
	}
}
