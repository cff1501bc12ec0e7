// Package model holds the wire-level data types shared by the request
// builder, the response parser, and the stub relay.
package model

import "strings"

// Annotation is one key/value metadata entry. Annotations appear at model,
// individual, and fact level.
type Annotation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TypeExpr is a class expression attached to an individual.
type TypeExpr struct {
	Kind  string `json:"type"`
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Individual is one node of a model graph.
type Individual struct {
	ID          string       `json:"id"`
	Types       []TypeExpr   `json:"types,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Fact is one typed edge between two individuals of the same model.
type Fact struct {
	Subject     string       `json:"subject"`
	Object      string       `json:"object"`
	Predicate   string       `json:"predicate"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Relation describes one entry of the service's relation or evidence
// vocabulary, as reported by meta queries.
type Relation struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

const (
	// KindClass is the only type-expression kind the service currently
	// understands.
	KindClass = "class"
)

// ClassType is shorthand for the common single-class expression.
func ClassType(id string) TypeExpr {
	return TypeExpr{Kind: KindClass, ID: id}
}

// AnnotationValue returns the value of the first annotation with the given
// key, and whether one was present.
func AnnotationValue(anns []Annotation, key string) (string, bool) {
	for _, a := range anns {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Well-known annotation keys. The service attaches "id" and "state" itself;
// "title" names a model.
const (
	KeyTitle = "title"
	KeyID    = "id"
	KeyState = "state"
)

// IDPrefix starts every identifier the service mints. Model identifiers are
// `loom:m<hex>`; individual identifiers are `<model id>/i<hex>`.
const IDPrefix = "loom:"

// IsNodeRef reports whether a value is an individual identifier, which is how
// annotation values that cross-reference other nodes are recognized.
func IsNodeRef(value string) bool {
	return strings.HasPrefix(value, IDPrefix) && strings.Contains(value, "/")
}
