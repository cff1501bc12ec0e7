package client

import (
	"context"

	"github.com/agenthands/loom/internal/model"
	"github.com/agenthands/loom/internal/request"
	"github.com/agenthands/loom/internal/transport"
)

// Thin intent builders. Each one assembles a single-operation batch and
// hands it to Dispatch; the interesting behavior (stamping, endpoint
// selection, classification) all lives there. The doc comment of each
// builder names the signal the service answers it with.

func (m *Manager) dispatchOne(ctx context.Context, intention string, op *request.Operation) (*transport.Pending, error) {
	return m.Dispatch(ctx, request.NewSet(intention).Add(op))
}

// GetModel fetches a full model graph. Answered with rebuild.
func (m *Manager) GetModel(ctx context.Context, modelID string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionQuery, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpGet,
		Arguments: request.Arguments{ModelID: modelID},
	})
}

// GetMeta fetches the service catalog: known models with their annotations,
// plus the relation and evidence vocabularies. Answered with meta.
func (m *Manager) GetMeta(ctx context.Context) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionQuery, &request.Operation{
		Entity:    request.EntityMeta,
		Operation: request.OpGet,
	})
}

// AddModel creates a new, empty model. A non-empty title is attached as the
// title annotation. Answered with rebuild.
func (m *Manager) AddModel(ctx context.Context, title string) (*transport.Pending, error) {
	args := request.Arguments{}
	if title != "" {
		args.Values = []model.Annotation{{Key: model.KeyTitle, Value: title}}
	}
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpAdd,
		Arguments: args,
	})
}

// SeedModel creates a model from an external source document. This is the
// one intent served by the seed endpoint. Answered with rebuild.
func (m *Manager) SeedModel(ctx context.Context, source, format string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpSeedFromSource,
		Arguments: request.Arguments{Source: source, Format: format},
	})
}

// StoreModel persists one model server-side. Answered with rebuild.
func (m *Manager) StoreModel(ctx context.Context, modelID string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpStore,
		Arguments: request.Arguments{ModelID: modelID},
	})
}

// StoreAll persists every loaded model. Answered with meta.
func (m *Manager) StoreAll(ctx context.Context) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityMeta,
		Operation: request.OpStoreAll,
	})
}

// ExportModel renders one model in the requested format. Answered with meta.
func (m *Manager) ExportModel(ctx context.Context, modelID, format string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionQuery, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpExport,
		Arguments: request.Arguments{ModelID: modelID, Format: format},
	})
}

// Undo rolls one model back a step. Answered with rebuild.
func (m *Manager) Undo(ctx context.Context, modelID string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpUndo,
		Arguments: request.Arguments{ModelID: modelID},
	})
}

// Redo replays one undone step. Answered with rebuild.
func (m *Manager) Redo(ctx context.Context, modelID string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpRedo,
		Arguments: request.Arguments{ModelID: modelID},
	})
}

// AddIndividual creates a node, typed by the given class expressions.
// Answered with merge carrying the minted individual.
func (m *Manager) AddIndividual(ctx context.Context, modelID string, types ...model.TypeExpr) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityIndividual,
		Operation: request.OpAdd,
		Arguments: request.Arguments{ModelID: modelID, Expressions: types},
	})
}

// RemoveIndividual deletes a node and everything hanging off it, which is
// why it is answered with rebuild rather than merge.
func (m *Manager) RemoveIndividual(ctx context.Context, modelID, individualID string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityIndividual,
		Operation: request.OpRemove,
		Arguments: request.Arguments{ModelID: modelID, Individual: individualID},
	})
}

// AddType attaches a class expression to a node. Answered with merge.
func (m *Manager) AddType(ctx context.Context, modelID, individualID string, expr model.TypeExpr) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityIndividual,
		Operation: request.OpAddType,
		Arguments: request.Arguments{ModelID: modelID, Individual: individualID, Expressions: []model.TypeExpr{expr}},
	})
}

// RemoveType detaches a class expression from a node. Answered with merge.
func (m *Manager) RemoveType(ctx context.Context, modelID, individualID string, expr model.TypeExpr) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityIndividual,
		Operation: request.OpRemoveType,
		Arguments: request.Arguments{ModelID: modelID, Individual: individualID, Expressions: []model.TypeExpr{expr}},
	})
}

// AddFact creates an edge between two nodes. Answered with merge.
func (m *Manager) AddFact(ctx context.Context, modelID, subject, object, predicate string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityEdge,
		Operation: request.OpAdd,
		Arguments: request.Arguments{ModelID: modelID, Subject: subject, Object: object, Predicate: predicate},
	})
}

// RemoveFact deletes an edge. Answered with merge.
func (m *Manager) RemoveFact(ctx context.Context, modelID, subject, object, predicate string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityEdge,
		Operation: request.OpRemove,
		Arguments: request.Arguments{ModelID: modelID, Subject: subject, Object: object, Predicate: predicate},
	})
}

// Annotation intents. All of them are answered with rebuild, whichever level
// they target.

func (m *Manager) AddModelAnnotation(ctx context.Context, modelID string, ann model.Annotation) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpAddAnnotation,
		Arguments: request.Arguments{ModelID: modelID, Values: []model.Annotation{ann}},
	})
}

func (m *Manager) RemoveModelAnnotation(ctx context.Context, modelID string, ann model.Annotation) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityModel,
		Operation: request.OpRemoveAnnotation,
		Arguments: request.Arguments{ModelID: modelID, Values: []model.Annotation{ann}},
	})
}

func (m *Manager) AddIndividualAnnotation(ctx context.Context, modelID, individualID string, ann model.Annotation) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityIndividual,
		Operation: request.OpAddAnnotation,
		Arguments: request.Arguments{ModelID: modelID, Individual: individualID, Values: []model.Annotation{ann}},
	})
}

func (m *Manager) RemoveIndividualAnnotation(ctx context.Context, modelID, individualID string, ann model.Annotation) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityIndividual,
		Operation: request.OpRemoveAnnotation,
		Arguments: request.Arguments{ModelID: modelID, Individual: individualID, Values: []model.Annotation{ann}},
	})
}

func (m *Manager) AddFactAnnotation(ctx context.Context, modelID, subject, object, predicate string, ann model.Annotation) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityEdge,
		Operation: request.OpAddAnnotation,
		Arguments: request.Arguments{ModelID: modelID, Subject: subject, Object: object, Predicate: predicate, Values: []model.Annotation{ann}},
	})
}

func (m *Manager) RemoveFactAnnotation(ctx context.Context, modelID, subject, object, predicate string, ann model.Annotation) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityEdge,
		Operation: request.OpRemoveAnnotation,
		Arguments: request.Arguments{ModelID: modelID, Subject: subject, Object: object, Predicate: predicate, Values: []model.Annotation{ann}},
	})
}

// AddEvidence attaches an evidence class to an edge. Answered with rebuild.
func (m *Manager) AddEvidence(ctx context.Context, modelID, subject, object, predicate, evidenceID string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityEdge,
		Operation: request.OpAddEvidence,
		Arguments: request.Arguments{ModelID: modelID, Subject: subject, Object: object, Predicate: predicate, Expressions: []model.TypeExpr{model.ClassType(evidenceID)}},
	})
}

// RemoveEvidence detaches an evidence class from an edge. Answered with
// rebuild.
func (m *Manager) RemoveEvidence(ctx context.Context, modelID, subject, object, predicate, evidenceID string) (*transport.Pending, error) {
	return m.dispatchOne(ctx, request.IntentionAction, &request.Operation{
		Entity:    request.EntityEdge,
		Operation: request.OpRemoveEvidence,
		Arguments: request.Arguments{ModelID: modelID, Subject: subject, Object: object, Predicate: predicate, Expressions: []model.TypeExpr{model.ClassType(evidenceID)}},
	})
}

// SetModelTitle is shorthand for annotating a model with a new title.
func (m *Manager) SetModelTitle(ctx context.Context, modelID, title string) (*transport.Pending, error) {
	return m.AddModelAnnotation(ctx, modelID, model.Annotation{Key: model.KeyTitle, Value: title})
}
