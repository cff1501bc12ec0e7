// Package request builds operation batches for the model service. A batch is
// an ordered list of operations plus the reasoner flag and group scope the
// manager stamps onto it right before dispatch.
package request

import (
	"encoding/json"
	"fmt"

	"github.com/agenthands/loom/internal/model"
	"github.com/agenthands/loom/internal/transport"
)

// Entities an operation can address.
const (
	EntityModel      = "model"
	EntityIndividual = "individual"
	EntityEdge       = "edge"
	EntityMeta       = "meta"
)

// Operation names.
const (
	OpGet              = "get"
	OpAdd              = "add"
	OpRemove           = "remove"
	OpAddType          = "add-type"
	OpRemoveType       = "remove-type"
	OpAddAnnotation    = "add-annotation"
	OpRemoveAnnotation = "remove-annotation"
	OpAddEvidence      = "add-evidence"
	OpRemoveEvidence   = "remove-evidence"
	OpStore            = "store"
	OpStoreAll         = "store-all"
	OpExport           = "export"
	OpUndo             = "undo"
	OpRedo             = "redo"
	OpProbe            = "probe"

	// OpSeedFromSource is the one operation the gateway serves from its seed
	// endpoint instead of the batch endpoint.
	OpSeedFromSource = "seed-from-source"
)

// Intentions declare whether a batch only reads or also edits.
const (
	IntentionQuery  = "query"
	IntentionAction = "action"
)

// Arguments carries every operation parameter the service understands.
// Unused fields stay zero and are omitted from the wire form.
type Arguments struct {
	ModelID     string             `json:"model_id,omitempty"`
	Individual  string             `json:"individual,omitempty"`
	Subject     string             `json:"subject,omitempty"`
	Object      string             `json:"object,omitempty"`
	Predicate   string             `json:"predicate,omitempty"`
	Values      []model.Annotation `json:"values,omitempty"`
	Expressions []model.TypeExpr   `json:"expressions,omitempty"`
	Source      string             `json:"source,omitempty"`
	Format      string             `json:"format,omitempty"`
}

// Operation is one service operation: an entity, the operation name, and its
// arguments.
type Operation struct {
	Entity    string    `json:"entity"`
	Operation string    `json:"operation"`
	Arguments Arguments `json:"arguments"`
}

// Set is one ordered operation batch.
type Set struct {
	token       string
	intention   string
	useReasoner bool
	groups      []string
	operations  []*Operation
}

// NewSet starts an empty batch with the given intention.
func NewSet(intention string) *Set {
	return &Set{intention: intention}
}

// Add appends operations in order.
func (s *Set) Add(ops ...*Operation) *Set {
	s.operations = append(s.operations, ops...)
	return s
}

// Operations exposes the ordered operation list.
func (s *Set) Operations() []*Operation {
	return s.operations
}

// First returns the leading operation, or nil for an empty batch.
func (s *Set) First() *Operation {
	if len(s.operations) == 0 {
		return nil
	}
	return s.operations[0]
}

func (s *Set) Intention() string { return s.intention }

// SetToken stamps the identity token the batch is sent under.
func (s *Set) SetToken(token string) { s.token = token }

// UseReasoner stamps the reasoner flag. Dispatch always calls this with the
// manager's current flag, so whatever the batch carried is overwritten.
func (s *Set) UseReasoner(v bool) { s.useReasoner = v }

// Reasoner reports the stamped flag.
func (s *Set) Reasoner() bool { return s.useReasoner }

// UseGroups stamps the group scope. nil and empty both clear it.
func (s *Set) UseGroups(groups []string) {
	if len(groups) == 0 {
		s.groups = nil
		return
	}
	s.groups = append([]string(nil), groups...)
}

// Groups returns a copy of the stamped scope.
func (s *Set) Groups() []string {
	return append([]string(nil), s.groups...)
}

// Payload renders the batch to its transport-safe form. The operation list
// is serialized to a single JSON string rather than nested into the payload:
// one of the supported engines mangles array-valued fields, and a string
// survives every one of them. The same defect is why a one-element group
// scope is sent as a bare value and an empty scope is left out entirely.
func (s *Set) Payload() (transport.Payload, error) {
	if len(s.operations) == 0 {
		return nil, fmt.Errorf("batch has no operations")
	}

	ops, err := json.Marshal(s.operations)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize operations: %w", err)
	}

	payload := transport.Payload{
		"intention":    s.intention,
		"operations":   string(ops),
		"use_reasoner": fmt.Sprintf("%t", s.useReasoner),
	}
	if s.token != "" {
		payload["token"] = s.token
	}
	switch len(s.groups) {
	case 0:
		// omitted
	case 1:
		payload["groups"] = s.groups[0]
	default:
		payload["groups"] = append([]string(nil), s.groups...)
	}
	return payload, nil
}

// ParseOperations decodes the wire form of an operation list. The stub relay
// uses it to interpret incoming batches.
func ParseOperations(raw string) ([]*Operation, error) {
	var ops []*Operation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, fmt.Errorf("failed to decode operations: %w", err)
	}
	return ops, nil
}
