// Package response implements the service's reply envelope and the typed
// accessors the manager and the duplication pipeline read it through.
package response

import (
	"encoding/json"
	"fmt"

	"github.com/agenthands/loom/internal/model"
)

// MessageType is the service's top-level classification of a reply.
type MessageType string

const (
	MessageTypeSuccess MessageType = "success"
	MessageTypeError   MessageType = "error"
	MessageTypeWarning MessageType = "warning"
)

// Signal is the service's classification of a successful reply's effect:
// merge folds new content into the caller's view, rebuild invalidates it
// entirely, meta carries store-level information and no model content.
type Signal string

const (
	SignalMerge   Signal = "merge"
	SignalRebuild Signal = "rebuild"
	SignalMeta    Signal = "meta"
)

// Meta is the store-level section of a reply, present on meta signals.
type Meta struct {
	Relations  []model.Relation              `json:"relations,omitempty"`
	Evidence   []model.Relation              `json:"evidence,omitempty"`
	ModelIDs   []string                      `json:"model_ids,omitempty"`
	ModelsMeta map[string][]model.Annotation `json:"models_meta,omitempty"`
}

// Data is the model-content section of a reply.
type Data struct {
	ID          string             `json:"id,omitempty"`
	Individuals []model.Individual `json:"individuals,omitempty"`
	Facts       []model.Fact       `json:"facts,omitempty"`
	Annotations []model.Annotation `json:"annotations,omitempty"`
	Meta        *Meta              `json:"meta,omitempty"`
}

// Envelope is the raw JSON reply structure. The stub relay marshals it; the
// transport engine unmarshals it.
type Envelope struct {
	PacketID    string      `json:"packet_id,omitempty"`
	Intention   string      `json:"intention,omitempty"`
	MessageType MessageType `json:"message_type"`
	Message     string      `json:"message"`
	Signal      Signal      `json:"signal,omitempty"`
	Data        *Data       `json:"data,omitempty"`
}

// Response wraps one decoded envelope. Accessors never allocate; returned
// slices and maps alias the decoded reply and must be treated as read-only.
type Response struct {
	env Envelope
}

// New wraps an already-built envelope. Used by transports and tests.
func New(env Envelope) *Response {
	return &Response{env: env}
}

// Parse decodes a raw reply body.
func Parse(raw []byte) (*Response, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode reply envelope: %w", err)
	}
	return &Response{env: env}, nil
}

func (r *Response) MessageType() MessageType { return r.env.MessageType }
func (r *Response) Message() string          { return r.env.Message }
func (r *Response) Signal() Signal           { return r.env.Signal }
func (r *Response) PacketID() string         { return r.env.PacketID }
func (r *Response) Intention() string        { return r.env.Intention }

// Okay reports whether the service classified the reply as a success.
func (r *Response) Okay() bool {
	return r.env.MessageType == MessageTypeSuccess
}

// Malformed reports whether the reply carries neither a message type nor a
// message. Such replies are indistinguishable from transport garbage and are
// routed through the transport-failure path.
func (r *Response) Malformed() bool {
	return r.env.MessageType == "" && r.env.Message == ""
}

// ModelID returns the identifier of the model the reply is about.
func (r *Response) ModelID() string {
	if r.env.Data == nil {
		return ""
	}
	return r.env.Data.ID
}

func (r *Response) Individuals() []model.Individual {
	if r.env.Data == nil {
		return nil
	}
	return r.env.Data.Individuals
}

func (r *Response) Facts() []model.Fact {
	if r.env.Data == nil {
		return nil
	}
	return r.env.Data.Facts
}

func (r *Response) Annotations() []model.Annotation {
	if r.env.Data == nil {
		return nil
	}
	return r.env.Data.Annotations
}

func (r *Response) meta() *Meta {
	if r.env.Data == nil {
		return nil
	}
	return r.env.Data.Meta
}

// Relations returns the service's relation vocabulary from a meta reply.
func (r *Response) Relations() []model.Relation {
	if m := r.meta(); m != nil {
		return m.Relations
	}
	return nil
}

// Evidence returns the service's evidence vocabulary from a meta reply.
func (r *Response) Evidence() []model.Relation {
	if m := r.meta(); m != nil {
		return m.Evidence
	}
	return nil
}

// ModelIDs returns the identifiers of every model the store holds.
func (r *Response) ModelIDs() []string {
	if m := r.meta(); m != nil {
		return m.ModelIDs
	}
	return nil
}

// ModelsMeta returns per-model annotation summaries keyed by model ID.
func (r *Response) ModelsMeta() map[string][]model.Annotation {
	if m := r.meta(); m != nil {
		return m.ModelsMeta
	}
	return nil
}
