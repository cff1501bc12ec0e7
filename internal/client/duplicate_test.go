package client

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/loom/internal/model"
	"github.com/agenthands/loom/internal/request"
	"github.com/agenthands/loom/internal/response"
	"github.com/agenthands/loom/internal/transport"
)

const (
	srcModelID = "loom:m0000cafe"
	tgtModelID = "loom:m0000beef"
)

type recordedEdge struct {
	Subject, Object, Predicate string
}

// dupRelay plays the service side of a duplication run: it hands out the
// scripted source model, mints target identifiers, and records every write
// so tests can check what actually went over the wire.
type dupRelay struct {
	mu               sync.Mutex
	source           *response.Response
	mintCount        int
	failIndividualAt int

	ops       []string
	modelAnns []model.Annotation
	indTypes  [][]model.TypeExpr
	indAnns   map[string][]model.Annotation
	edges     []recordedEdge
	edgeAnns  map[string][]model.Annotation
	stored    []string
}

func newDupRelay(source *response.Response) *dupRelay {
	return &dupRelay{
		source:   source,
		indAnns:  make(map[string][]model.Annotation),
		edgeAnns: make(map[string][]model.Annotation),
	}
}

func (r *dupRelay) respond(_ string, payload transport.Payload) (*response.Response, error) {
	ops, err := request.ParseOperations(payload["operations"].(string))
	if err != nil {
		return nil, err
	}
	op := ops[0]

	r.mu.Lock()
	defer r.mu.Unlock()
	key := op.Entity + "." + op.Operation
	r.ops = append(r.ops, key)

	switch key {
	case "model.get":
		return r.source, nil
	case "model.add":
		return successReply(response.SignalRebuild, &response.Data{ID: tgtModelID}), nil
	case "model.add-annotation":
		r.modelAnns = append(r.modelAnns, op.Arguments.Values...)
		return successReply(response.SignalRebuild, nil), nil
	case "individual.add":
		r.mintCount++
		if r.failIndividualAt > 0 && r.mintCount >= r.failIndividualAt {
			return errorReply("node quota exhausted"), nil
		}
		minted := fmt.Sprintf("%s/i%02d", tgtModelID, r.mintCount)
		r.indTypes = append(r.indTypes, op.Arguments.Expressions)
		return successReply(response.SignalMerge, &response.Data{
			Individuals: []model.Individual{{ID: minted, Types: op.Arguments.Expressions}},
		}), nil
	case "individual.add-annotation":
		r.indAnns[op.Arguments.Individual] = append(r.indAnns[op.Arguments.Individual], op.Arguments.Values...)
		return successReply(response.SignalRebuild, nil), nil
	case "edge.add":
		r.edges = append(r.edges, recordedEdge{op.Arguments.Subject, op.Arguments.Object, op.Arguments.Predicate})
		return successReply(response.SignalMerge, nil), nil
	case "edge.add-annotation":
		ek := op.Arguments.Subject + "|" + op.Arguments.Object + "|" + op.Arguments.Predicate
		r.edgeAnns[ek] = append(r.edgeAnns[ek], op.Arguments.Values...)
		return successReply(response.SignalRebuild, nil), nil
	case "model.store":
		r.stored = append(r.stored, op.Arguments.ModelID)
		return successReply(response.SignalRebuild, &response.Data{ID: op.Arguments.ModelID}), nil
	}
	return errorReply("unsupported operation " + key), nil
}

func (r *dupRelay) opIndexes(name string) (first, last int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	first, last = -1, -1
	for i, op := range r.ops {
		if op != name {
			continue
		}
		if first == -1 {
			first = i
		}
		last = i
	}
	return first, last
}

func (r *dupRelay) opCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.ops {
		if op == name {
			n++
		}
	}
	return n
}

func dupSource() *response.Data {
	return &response.Data{
		ID: srcModelID,
		Annotations: []model.Annotation{
			{Key: model.KeyTitle, Value: "Old Title"},
			{Key: model.KeyID, Value: srcModelID},
			{Key: model.KeyState, Value: "production"},
			{Key: "contributor", Value: "alice"},
		},
		Individuals: []model.Individual{
			{
				ID:    srcModelID + "/ia",
				Types: []model.TypeExpr{model.ClassType("LOOM:0001")},
				Annotations: []model.Annotation{
					{Key: "comment", Value: "pump"},
					{Key: "depends_on", Value: srcModelID + "/ib"},
				},
			},
			{
				ID: srcModelID + "/ib",
				Annotations: []model.Annotation{
					{Key: "comment", Value: "valve"},
					{Key: "derived_from", Value: "loom:m0000aaaa/i07"},
				},
			},
		},
		Facts: []model.Fact{
			{
				Subject:   srcModelID + "/ia",
				Object:    srcModelID + "/ib",
				Predicate: "feeds",
				Annotations: []model.Annotation{
					{Key: "via", Value: srcModelID + "/ia"},
					{Key: "note", Value: "checked by hand"},
				},
			},
		},
	}
}

func newDupManager(t *testing.T, mode Mode, relay *dupRelay) *Manager {
	t.Helper()
	engine := &MockEngine{Responder: relay.respond}
	m, err := New("http://relay.test", "loom", "tok-dup", engine, mode, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestDuplicateModel(t *testing.T) {
	relay := newDupRelay(successReply(response.SignalRebuild, dupSource()))
	m := newDupManager(t, Async, relay)

	targetID, err := m.DuplicateModel(context.Background(), srcModelID, "Old Title (copy)")
	require.NoError(t, err)
	assert.Equal(t, tgtModelID, targetID)

	// Model metadata: title rewritten, identifier echo rewritten, state
	// dropped, everything else verbatim.
	title, ok := model.AnnotationValue(relay.modelAnns, model.KeyTitle)
	require.True(t, ok)
	assert.Equal(t, "Old Title (copy)", title)

	echo, ok := model.AnnotationValue(relay.modelAnns, model.KeyID)
	require.True(t, ok)
	assert.Equal(t, tgtModelID, echo)

	_, hasState := model.AnnotationValue(relay.modelAnns, model.KeyState)
	assert.False(t, hasState, "state must never be copied")

	contributor, ok := model.AnnotationValue(relay.modelAnns, "contributor")
	require.True(t, ok)
	assert.Equal(t, "alice", contributor)

	// Both individuals recreated in source order, types carried over.
	require.Len(t, relay.indTypes, 2)
	assert.Equal(t, []model.TypeExpr{model.ClassType("LOOM:0001")}, relay.indTypes[0])
	assert.Empty(t, relay.indTypes[1])

	// Node metadata landed on the corresponding targets, with the node
	// cross-reference translated and the foreign-model reference untouched.
	first := relay.indAnns[tgtModelID+"/i01"]
	comment, ok := model.AnnotationValue(first, "comment")
	require.True(t, ok)
	assert.Equal(t, "pump", comment)
	dep, ok := model.AnnotationValue(first, "depends_on")
	require.True(t, ok)
	assert.Equal(t, tgtModelID+"/i02", dep)

	second := relay.indAnns[tgtModelID+"/i02"]
	foreign, ok := model.AnnotationValue(second, "derived_from")
	require.True(t, ok)
	assert.Equal(t, "loom:m0000aaaa/i07", foreign)

	// The one edge points at target identifiers, never the source ones.
	require.Len(t, relay.edges, 1)
	assert.Equal(t, recordedEdge{tgtModelID + "/i01", tgtModelID + "/i02", "feeds"}, relay.edges[0])

	edgeKey := tgtModelID + "/i01|" + tgtModelID + "/i02|feeds"
	via, ok := model.AnnotationValue(relay.edgeAnns[edgeKey], "via")
	require.True(t, ok)
	assert.Equal(t, tgtModelID+"/i01", via)
	note, ok := model.AnnotationValue(relay.edgeAnns[edgeKey], "note")
	require.True(t, ok)
	assert.Equal(t, "checked by hand", note)

	// Persisted exactly once, against the target.
	assert.Equal(t, []string{tgtModelID}, relay.stored)
}

func TestDuplicatePhaseOrdering(t *testing.T) {
	relay := newDupRelay(successReply(response.SignalRebuild, dupSource()))
	m := newDupManager(t, Async, relay)

	_, err := m.DuplicateModel(context.Background(), srcModelID, "copy")
	require.NoError(t, err)

	boundaries := [][2]string{
		{"model.get", "model.add"},
		{"model.add", "model.add-annotation"},
		{"model.add-annotation", "individual.add"},
		{"individual.add", "individual.add-annotation"},
		{"individual.add-annotation", "edge.add"},
		{"edge.add", "model.store"},
	}
	for _, b := range boundaries {
		_, beforeLast := relay.opIndexes(b[0])
		afterFirst, _ := relay.opIndexes(b[1])
		require.NotEqual(t, -1, beforeLast, "no %s recorded", b[0])
		require.NotEqual(t, -1, afterFirst, "no %s recorded", b[1])
		assert.Less(t, beforeLast, afterFirst, "every %s must finish before any %s", b[0], b[1])
	}
}

func TestDuplicateAbortsWhenRecreationFails(t *testing.T) {
	relay := newDupRelay(successReply(response.SignalRebuild, dupSource()))
	relay.failIndividualAt = 2
	m := newDupManager(t, Sync, relay)

	_, err := m.DuplicateModel(context.Background(), srcModelID, "copy")
	require.Error(t, err)
	assert.ErrorContains(t, err, "recreate individuals")

	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "node quota exhausted", serr.Message)

	// The pipeline stopped inside phase four: the second creation failed and
	// nothing from a later phase ever ran.
	assert.Equal(t, 2, relay.opCount("individual.add"))
	assert.Equal(t, 0, relay.opCount("individual.add-annotation"))
	assert.Equal(t, 0, relay.opCount("edge.add"))
	assert.Equal(t, 0, relay.opCount("model.store"))
}

func TestDuplicateRejectsUnmappedEndpoint(t *testing.T) {
	data := dupSource()
	data.Facts = append(data.Facts, model.Fact{
		Subject:   srcModelID + "/ighost",
		Object:    srcModelID + "/ib",
		Predicate: "haunts",
	})

	relay := newDupRelay(successReply(response.SignalRebuild, data))
	m := newDupManager(t, Sync, relay)

	_, err := m.DuplicateModel(context.Background(), srcModelID, "copy")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCounterpart)
	assert.ErrorContains(t, err, "copy facts")

	// Lookups run before the fan-out, so not even the valid edge went out.
	assert.Equal(t, 0, relay.opCount("edge.add"))
	assert.Equal(t, 0, relay.opCount("model.store"))
}

func TestDuplicateRejectsUnmappedAnnotationRef(t *testing.T) {
	data := dupSource()
	data.Individuals[0].Annotations = append(data.Individuals[0].Annotations, model.Annotation{
		Key: "twin", Value: srcModelID + "/inowhere",
	})

	relay := newDupRelay(successReply(response.SignalRebuild, data))
	m := newDupManager(t, Sync, relay)

	_, err := m.DuplicateModel(context.Background(), srcModelID, "copy")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCounterpart)
	assert.ErrorContains(t, err, "copy individual annotations")

	assert.Equal(t, 0, relay.opCount("individual.add-annotation"))
}

func TestDuplicateFailsOnServiceErrorFetch(t *testing.T) {
	relay := newDupRelay(errorReply("no such model"))
	m := newDupManager(t, Sync, relay)

	_, err := m.DuplicateModel(context.Background(), "loom:mmissing", "copy")
	require.Error(t, err)
	assert.ErrorContains(t, err, "fetch source")

	assert.Equal(t, 0, relay.opCount("model.add"))
}
