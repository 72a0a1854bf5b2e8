// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package envelope defines the versioned message container (C1) carried as
// the JSON payload of every MQTT publish on a topic governed by this system.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/pkg/errors"
	"github.com/google/uuid"
)

// ProtocolVersion is the initial wire-protocol tag stamped on every envelope
// produced by New.
const ProtocolVersion = "v1"

// ErrDecode indicates the payload could not be parsed into an Envelope, or
// parsed but was missing a required field.
var ErrDecode = errors.New("envelope: decode error")

// Type enumerates the kinds of message an Envelope can carry.
type Type string

const (
	Command      Type = "Command"
	Event        Type = "Event"
	Request      Type = "Request"
	Response     Type = "Response"
	Query        Type = "Query"
	Notification Type = "Notification"
	Heartbeat    Type = "Heartbeat"
)

// Priority enumerates delivery priority hints; it is advisory only and does
// not affect MQTT QoS.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityNormal   Priority = "Normal"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Service describes the source or target of an envelope.
type Service struct {
	Name        string `json:"name"`
	Instance    string `json:"instance,omitempty"`
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// wire mirrors Envelope's public shape for marshaling/unmarshaling; keeping
// it separate lets Serialize and Deserialize marshal the known fields
// directly while unrecognised fields are carried in Envelope.extra.
type wire struct {
	MessageID     string          `json:"messageId"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        Service         `json:"source"`
	Target        *Service        `json:"target,omitempty"`
	Type          Type            `json:"type"`
	Priority      Priority        `json:"priority"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	RetryCount    int             `json:"retryCount"`
	MaxRetries    int             `json:"maxRetries"`
}

// Envelope is the standardised container described in spec §3. Fields not
// recognised on deserialisation are kept in extra and re-emitted on the next
// Serialize call so that unknown producer/consumer extensions round-trip.
type Envelope struct {
	wire
	extra map[string]json.RawMessage
}

// New constructs an Envelope with a fresh server-generated message id,
// current UTC timestamp truncated to millisecond precision, and the
// documented defaults (version "v1", priority Normal, zero retry counters).
// data is marshaled to JSON and stored as the envelope's typed payload.
func New(typ Type, priority Priority, source Service, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, errors.Wrap(ErrDecode, err)
	}

	if priority == "" {
		priority = PriorityNormal
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return Envelope{}, errors.Wrap(ErrDecode, err)
	}

	return Envelope{
		wire: wire{
			MessageID: id.String(),
			Version:   ProtocolVersion,
			Timestamp: time.Now().UTC().Truncate(time.Millisecond),
			Source:    source,
			Type:      typ,
			Priority:  priority,
			Data:      raw,
		},
	}, nil
}

// WithTarget returns a copy of e addressed to target.
func (e Envelope) WithTarget(target Service) Envelope {
	e.Target = &target
	return e
}

// WithCorrelationID returns a copy of e tagged with the given correlation id.
func (e Envelope) WithCorrelationID(id string) Envelope {
	e.CorrelationID = id
	return e
}

// WithExpiry returns a copy of e that expires at t.
func (e Envelope) WithExpiry(t time.Time) Envelope {
	t = t.UTC()
	e.ExpiresAt = &t
	return e
}

// WithRetries returns a copy of e with retry bookkeeping set.
func (e Envelope) WithRetries(retryCount, maxRetries int) Envelope {
	e.RetryCount = retryCount
	e.MaxRetries = maxRetries
	return e
}

// MessageID returns the envelope's unique message id.
func (e Envelope) MessageID() string { return e.wire.MessageID }

// Type returns the envelope's message type.
func (e Envelope) Type() Type { return e.wire.Type }

// Priority returns the envelope's priority.
func (e Envelope) Priority() Priority { return e.wire.Priority }

// Timestamp returns the envelope's creation time.
func (e Envelope) Timestamp() time.Time { return e.wire.Timestamp }

// Source returns the envelope's source service descriptor.
func (e Envelope) Source() Service { return e.wire.Source }

// Target returns the envelope's target service descriptor, if any.
func (e Envelope) Target() *Service { return e.wire.Target }

// CorrelationID returns the envelope's correlation id, if any.
func (e Envelope) CorrelationID() string { return e.wire.CorrelationID }

// RetryCount returns the number of redeliveries already attempted.
func (e Envelope) RetryCount() int { return e.wire.RetryCount }

// MaxRetries returns the configured redelivery ceiling.
func (e Envelope) MaxRetries() int { return e.wire.MaxRetries }

// Expired reports whether e's ExpiresAt is set and in the past relative to now.
func (e Envelope) Expired(now time.Time) bool {
	return e.wire.ExpiresAt != nil && e.wire.ExpiresAt.Before(now)
}

// Decode unmarshals the envelope's typed payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.wire.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.wire.Data, v)
}

// SetMetadata sets a metadata entry, initialising the map if necessary.
func (e *Envelope) SetMetadata(key string, value any) {
	if e.wire.Metadata == nil {
		e.wire.Metadata = map[string]any{}
	}
	e.wire.Metadata[key] = value
}

// Metadata returns the metadata entry for key and whether it was present.
func (e Envelope) Metadata(key string) (any, bool) {
	v, ok := e.wire.Metadata[key]
	return v, ok
}

// SetHeader sets a header entry, initialising the map if necessary. Headers
// are kept alongside Metadata for legacy consumers that only understand
// string-typed values.
func (e *Envelope) SetHeader(key, value string) {
	if e.wire.Headers == nil {
		e.wire.Headers = map[string]string{}
	}
	e.wire.Headers[key] = value
}

// Header returns the header entry for key and whether it was present.
func (e Envelope) Header(key string) (string, bool) {
	v, ok := e.wire.Headers[key]
	return v, ok
}

// Serialize renders e as UTF-8 JSON with camelCase field names, preserving
// any fields captured during Deserialize that this build does not recognise.
func Serialize(e Envelope) ([]byte, error) {
	if len(e.extra) == 0 {
		return json.Marshal(e.wire)
	}

	base, err := json.Marshal(e.wire)
	if err != nil {
		return nil, err
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}

	return json.Marshal(merged)
}

// Deserialize parses bytes into an Envelope. It fails if message_id, type,
// or timestamp are absent or ill-typed; any other top-level field it does
// not recognise is preserved verbatim for the next Serialize call.
func Deserialize(data []byte) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, errors.Wrap(ErrDecode, err)
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, errors.Wrap(ErrDecode, err)
	}

	if w.MessageID == "" || w.Type == "" || w.Timestamp.IsZero() {
		return Envelope{}, errors.Wrap(ErrDecode, errors.New("missing required field (messageId, type, or timestamp)"))
	}

	known := map[string]struct{}{
		"messageId": {}, "version": {}, "timestamp": {}, "source": {}, "target": {},
		"type": {}, "priority": {}, "correlationId": {}, "data": {}, "metadata": {},
		"headers": {}, "expiresAt": {}, "retryCount": {}, "maxRetries": {},
	}
	extra := map[string]json.RawMessage{}
	for k, v := range raw {
		if _, ok := known[k]; !ok {
			extra[k] = v
		}
	}

	if w.Priority == "" {
		w.Priority = PriorityNormal
	}
	if w.Version == "" {
		w.Version = ProtocolVersion
	}

	env := Envelope{wire: w}
	if len(extra) > 0 {
		env.extra = extra
	}
	return env, nil
}
