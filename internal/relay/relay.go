// Package relay is an in-memory stand-in for the model service gateway. It
// speaks the wire protocol of the production gateway, form-encoded operation
// batches in and JSON reply envelopes out, backed by a snapshot-keeping store
// instead of a real model service. cmd/relayd runs it for development; the
// integration tests run against it.
package relay

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agenthands/loom/internal/model"
	"github.com/agenthands/loom/internal/observability"
	"github.com/agenthands/loom/internal/request"
	"github.com/agenthands/loom/internal/response"
)

// signalSpin is deliberately outside the client's signal vocabulary. The
// meta probe operation answers with it so drifted-protocol handling can be
// exercised end to end.
const signalSpin = response.Signal("spin")

// Relation vocabulary served by meta queries.
var relationVocab = []model.Relation{
	{ID: "loom:rel/part_of", Label: "part of"},
	{ID: "loom:rel/feeds", Label: "feeds"},
	{ID: "loom:rel/regulates", Label: "regulates"},
}

// Evidence vocabulary served by meta queries.
var evidenceVocab = []model.Relation{
	{ID: "loom:ev/direct", Label: "direct observation"},
	{ID: "loom:ev/inferred", Label: "inferred from description"},
}

// Relay owns the store and the HTTP surface.
type Relay struct {
	store *Store
	log   zerolog.Logger
}

func New(log zerolog.Logger) *Relay {
	return &Relay{store: NewStore(), log: log}
}

// Store exposes the backing store, mainly for tests seeding fixtures.
func (r *Relay) Store() *Store { return r.store }

// SetupRouter registers the four gateway endpoints.
func (r *Relay) SetupRouter() *gin.Engine {
	e := gin.New()
	e.Use(observability.RequestLogger(r.log), gin.Recovery())

	api := e.Group("/api/:namespace")
	api.POST("/batch", r.handle(false, false))
	api.POST("/batch/privileged", r.handle(true, false))
	api.POST("/seed", r.handle(false, true))
	api.POST("/seed/privileged", r.handle(true, true))
	return e
}

// opResult is what executing one operation yields before the batch's results
// are folded into a single envelope.
type opResult struct {
	signal  response.Signal
	data    *response.Data
	message string
	warning string
	modelID string
}

func (r *Relay) handle(privileged, seed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		intention := c.PostForm("intention")
		token := c.PostForm("token")

		if privileged && token == "" {
			r.reply(c, errorEnvelope(intention, "token required"))
			return
		}

		ops, err := request.ParseOperations(c.PostForm("operations"))
		if err != nil {
			r.reply(c, errorEnvelope(intention, "undecodable operations"))
			return
		}
		if len(ops) == 0 {
			r.reply(c, errorEnvelope(intention, "empty batch"))
			return
		}
		if seed && ops[0].Operation != request.OpSeedFromSource {
			r.reply(c, errorEnvelope(intention, "seed endpoint only serves seed-from-source"))
			return
		}
		if !seed && hasSeedOp(ops) {
			r.reply(c, errorEnvelope(intention, "seed-from-source is only served from the seed endpoint"))
			return
		}
		if !privileged && mutates(ops) {
			r.reply(c, errorEnvelope(intention, "mutating operations require the privileged endpoint"))
			return
		}

		r.log.Debug().
			Str("intention", intention).
			Int("operations", len(ops)).
			Str("use_reasoner", c.PostForm("use_reasoner")).
			Strs("groups", c.PostFormArray("groups")).
			Msg("batch accepted")

		for _, id := range snapshotTargets(ops) {
			r.store.Snapshot(id)
		}

		results := make([]*opResult, 0, len(ops))
		for _, op := range ops {
			res, err := r.execute(op)
			if err != nil {
				r.reply(c, errorEnvelope(intention, err.Error()))
				return
			}
			if res.warning != "" {
				r.reply(c, warningEnvelope(intention, res.warning))
				return
			}
			results = append(results, res)
		}

		r.reply(c, r.fold(intention, results))
	}
}

// fold reduces a batch's per-operation results to one reply envelope. The
// strongest signal wins; a rebuild re-reads the final model so the payload
// reflects every operation of the batch, merges concatenate their deltas.
func (r *Relay) fold(intention string, results []*opResult) response.Envelope {
	strongest := results[0]
	for _, res := range results[1:] {
		if signalStrength(res.signal) > signalStrength(strongest.signal) {
			strongest = res
		}
	}

	data := strongest.data
	switch strongest.signal {
	case response.SignalRebuild:
		var modelID string
		for i := len(results) - 1; i >= 0; i-- {
			if results[i].modelID != "" {
				modelID = results[i].modelID
				break
			}
		}
		if m, ok := r.store.Get(modelID); ok {
			data = fullData(m)
		}
	case response.SignalMerge:
		merged := &response.Data{}
		for _, res := range results {
			if res.signal != response.SignalMerge || res.data == nil {
				continue
			}
			merged.ID = res.data.ID
			merged.Individuals = append(merged.Individuals, res.data.Individuals...)
			merged.Facts = append(merged.Facts, res.data.Facts...)
		}
		data = merged
	}

	message := strongest.message
	if message == "" {
		message = "ok"
	}
	return response.Envelope{
		PacketID:    uuid.New().String(),
		Intention:   intention,
		MessageType: response.MessageTypeSuccess,
		Message:     message,
		Signal:      strongest.signal,
		Data:        data,
	}
}

func (r *Relay) reply(c *gin.Context, env response.Envelope) {
	c.JSON(http.StatusOK, env)
}

func errorEnvelope(intention, message string) response.Envelope {
	return response.Envelope{
		PacketID:    uuid.New().String(),
		Intention:   intention,
		MessageType: response.MessageTypeError,
		Message:     message,
	}
}

func warningEnvelope(intention, message string) response.Envelope {
	return response.Envelope{
		PacketID:    uuid.New().String(),
		Intention:   intention,
		MessageType: response.MessageTypeWarning,
		Message:     message,
	}
}

func signalStrength(s response.Signal) int {
	switch s {
	case response.SignalRebuild:
		return 3
	case response.SignalMerge:
		return 2
	case response.SignalMeta:
		return 1
	default:
		return 0
	}
}

func hasSeedOp(ops []*request.Operation) bool {
	for _, op := range ops {
		if op.Operation == request.OpSeedFromSource {
			return true
		}
	}
	return false
}

// mutates reports whether any operation of the batch writes. Reads are the
// model/meta queries and exports; everything else changes server state.
func mutates(ops []*request.Operation) bool {
	for _, op := range ops {
		switch op.Entity + "." + op.Operation {
		case "model.get", "model.export", "meta.get", "meta.probe":
		default:
			return true
		}
	}
	return false
}

// snapshotTargets lists the distinct pre-existing models a batch is about to
// mutate, so each gets exactly one undo snapshot per batch. Undo and redo
// manage the stacks themselves; creations have nothing to snapshot.
func snapshotTargets(ops []*request.Operation) []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range ops {
		switch {
		case op.Entity == request.EntityMeta:
			continue
		case op.Entity == request.EntityModel &&
			(op.Operation == request.OpGet || op.Operation == request.OpExport ||
				op.Operation == request.OpAdd || op.Operation == request.OpSeedFromSource ||
				op.Operation == request.OpUndo || op.Operation == request.OpRedo):
			continue
		case op.Arguments.ModelID == "" || seen[op.Arguments.ModelID]:
			continue
		}
		seen[op.Arguments.ModelID] = true
		out = append(out, op.Arguments.ModelID)
	}
	return out
}

func fullData(m *Model) *response.Data {
	return &response.Data{
		ID:          m.ID,
		Individuals: m.Individuals,
		Facts:       m.Facts,
		Annotations: m.Annotations,
	}
}

func (r *Relay) metaData() *response.Data {
	return &response.Data{
		Meta: &response.Meta{
			Relations:  relationVocab,
			Evidence:   evidenceVocab,
			ModelIDs:   r.store.IDs(),
			ModelsMeta: r.store.AllAnnotations(),
		},
	}
}

func (r *Relay) execute(op *request.Operation) (*opResult, error) {
	switch op.Entity {
	case request.EntityModel:
		return r.executeModel(op)
	case request.EntityIndividual:
		return r.executeIndividual(op)
	case request.EntityEdge:
		return r.executeEdge(op)
	case request.EntityMeta:
		return r.executeMeta(op)
	}
	return nil, fmt.Errorf("unknown entity %q", op.Entity)
}

func (r *Relay) executeModel(op *request.Operation) (*opResult, error) {
	args := op.Arguments
	switch op.Operation {
	case request.OpGet:
		m, ok := r.store.Get(args.ModelID)
		if !ok {
			return nil, fmt.Errorf("unknown model %s", args.ModelID)
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil

	case request.OpAdd:
		m := r.store.Create(args.Values...)
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil

	case request.OpSeedFromSource:
		if args.Source == "" {
			return nil, fmt.Errorf("seed-from-source needs a source")
		}
		extra := []model.Annotation{
			{Key: model.KeyTitle, Value: "Seeded from " + args.Source},
			{Key: "source", Value: args.Source},
		}
		if args.Format != "" {
			extra = append(extra, model.Annotation{Key: "format", Value: args.Format})
		}
		m := r.store.Create(extra...)
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil

	case request.OpStore:
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			m.Stored = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID, message: "stored"}, nil

	case request.OpExport:
		m, ok := r.store.Get(args.ModelID)
		if !ok {
			return nil, fmt.Errorf("unknown model %s", args.ModelID)
		}
		format := args.Format
		if format == "" {
			format = "native"
		}
		return &opResult{
			signal:  response.SignalMeta,
			data:    fullData(m),
			modelID: m.ID,
			message: fmt.Sprintf("export of %s as %s", m.ID, format),
		}, nil

	case request.OpUndo:
		m, ok := r.store.Undo(args.ModelID)
		if !ok {
			return &opResult{warning: "nothing to undo"}, nil
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil

	case request.OpRedo:
		m, ok := r.store.Redo(args.ModelID)
		if !ok {
			return &opResult{warning: "nothing to redo"}, nil
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil

	case request.OpAddAnnotation:
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			m.Annotations = upsertAnnotations(m.Annotations, args.Values)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil

	case request.OpRemoveAnnotation:
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			m.Annotations = removeAnnotations(m.Annotations, args.Values)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil
	}
	return nil, fmt.Errorf("unknown model operation %q", op.Operation)
}

func (r *Relay) executeIndividual(op *request.Operation) (*opResult, error) {
	args := op.Arguments
	switch op.Operation {
	case request.OpAdd:
		minted := r.store.MintIndividualID(args.ModelID)
		ind := model.Individual{ID: minted, Types: args.Expressions}
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			m.Individuals = append(m.Individuals, ind)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{
			signal:  response.SignalMerge,
			data:    &response.Data{ID: m.ID, Individuals: []model.Individual{ind}},
			modelID: m.ID,
		}, nil

	case request.OpRemove:
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			idx := findIndividual(m, args.Individual)
			if idx < 0 {
				return fmt.Errorf("unknown individual %s", args.Individual)
			}
			m.Individuals = append(m.Individuals[:idx], m.Individuals[idx+1:]...)
			kept := m.Facts[:0]
			for _, f := range m.Facts {
				if f.Subject != args.Individual && f.Object != args.Individual {
					kept = append(kept, f)
				}
			}
			m.Facts = kept
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil

	case request.OpAddType, request.OpRemoveType:
		var updated model.Individual
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			idx := findIndividual(m, args.Individual)
			if idx < 0 {
				return fmt.Errorf("unknown individual %s", args.Individual)
			}
			if op.Operation == request.OpAddType {
				m.Individuals[idx].Types = append(m.Individuals[idx].Types, args.Expressions...)
			} else {
				m.Individuals[idx].Types = removeTypes(m.Individuals[idx].Types, args.Expressions)
			}
			updated = m.Individuals[idx]
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{
			signal:  response.SignalMerge,
			data:    &response.Data{ID: m.ID, Individuals: []model.Individual{updated}},
			modelID: m.ID,
		}, nil

	case request.OpAddAnnotation, request.OpRemoveAnnotation:
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			idx := findIndividual(m, args.Individual)
			if idx < 0 {
				return fmt.Errorf("unknown individual %s", args.Individual)
			}
			if op.Operation == request.OpAddAnnotation {
				m.Individuals[idx].Annotations = append(m.Individuals[idx].Annotations, args.Values...)
			} else {
				m.Individuals[idx].Annotations = removeAnnotations(m.Individuals[idx].Annotations, args.Values)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil
	}
	return nil, fmt.Errorf("unknown individual operation %q", op.Operation)
}

func (r *Relay) executeEdge(op *request.Operation) (*opResult, error) {
	args := op.Arguments
	switch op.Operation {
	case request.OpAdd:
		fact := model.Fact{Subject: args.Subject, Object: args.Object, Predicate: args.Predicate}
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			if findIndividual(m, args.Subject) < 0 {
				return fmt.Errorf("unknown individual %s", args.Subject)
			}
			if findIndividual(m, args.Object) < 0 {
				return fmt.Errorf("unknown individual %s", args.Object)
			}
			m.Facts = append(m.Facts, fact)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{
			signal:  response.SignalMerge,
			data:    &response.Data{ID: m.ID, Facts: []model.Fact{fact}},
			modelID: m.ID,
		}, nil

	case request.OpRemove:
		m, err := r.store.Update(args.ModelID, func(m *Model) error {
			idx := findFact(m, args.Subject, args.Object, args.Predicate)
			if idx < 0 {
				return fmt.Errorf("unknown fact %s-%s-%s", args.Subject, args.Predicate, args.Object)
			}
			m.Facts = append(m.Facts[:idx], m.Facts[idx+1:]...)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &opResult{signal: response.SignalMerge, data: &response.Data{ID: m.ID}, modelID: m.ID}, nil

	case request.OpAddAnnotation, request.OpRemoveAnnotation:
		m, err := r.updateFact(args, func(f *model.Fact) {
			if op.Operation == request.OpAddAnnotation {
				f.Annotations = append(f.Annotations, args.Values...)
			} else {
				f.Annotations = removeAnnotations(f.Annotations, args.Values)
			}
		})
		if err != nil {
			return nil, err
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil

	case request.OpAddEvidence, request.OpRemoveEvidence:
		anns := make([]model.Annotation, 0, len(args.Expressions))
		for _, expr := range args.Expressions {
			anns = append(anns, model.Annotation{Key: "evidence", Value: expr.ID})
		}
		m, err := r.updateFact(args, func(f *model.Fact) {
			if op.Operation == request.OpAddEvidence {
				f.Annotations = append(f.Annotations, anns...)
			} else {
				f.Annotations = removeAnnotations(f.Annotations, anns)
			}
		})
		if err != nil {
			return nil, err
		}
		return &opResult{signal: response.SignalRebuild, data: fullData(m), modelID: m.ID}, nil
	}
	return nil, fmt.Errorf("unknown edge operation %q", op.Operation)
}

func (r *Relay) executeMeta(op *request.Operation) (*opResult, error) {
	switch op.Operation {
	case request.OpGet:
		return &opResult{signal: response.SignalMeta, data: r.metaData()}, nil

	case request.OpStoreAll:
		for _, id := range r.store.IDs() {
			if _, err := r.store.Update(id, func(m *Model) error {
				m.Stored = true
				return nil
			}); err != nil {
				return nil, err
			}
		}
		return &opResult{signal: response.SignalMeta, data: r.metaData(), message: "all models stored"}, nil

	case request.OpProbe:
		return &opResult{signal: signalSpin, message: "probe"}, nil
	}
	return nil, fmt.Errorf("unknown meta operation %q", op.Operation)
}

func (r *Relay) updateFact(args request.Arguments, fn func(*model.Fact)) (*Model, error) {
	return r.store.Update(args.ModelID, func(m *Model) error {
		idx := findFact(m, args.Subject, args.Object, args.Predicate)
		if idx < 0 {
			return fmt.Errorf("unknown fact %s-%s-%s", args.Subject, args.Predicate, args.Object)
		}
		fn(&m.Facts[idx])
		return nil
	})
}

func findIndividual(m *Model, id string) int {
	for i, ind := range m.Individuals {
		if ind.ID == id {
			return i
		}
	}
	return -1
}

func findFact(m *Model, subject, object, predicate string) int {
	for i, f := range m.Facts {
		if f.Subject == subject && f.Object == object && f.Predicate == predicate {
			return i
		}
	}
	return -1
}

// upsertAnnotations appends values, except for the singleton keys (id,
// state, title) which replace any existing entry.
func upsertAnnotations(anns, values []model.Annotation) []model.Annotation {
	for _, v := range values {
		if isSingletonKey(v.Key) {
			replaced := false
			for i := range anns {
				if anns[i].Key == v.Key {
					anns[i] = v
					replaced = true
					break
				}
			}
			if replaced {
				continue
			}
		}
		anns = append(anns, v)
	}
	return anns
}

func removeAnnotations(anns, values []model.Annotation) []model.Annotation {
	kept := anns[:0]
	for _, a := range anns {
		drop := false
		for _, v := range values {
			if a.Key == v.Key && a.Value == v.Value {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, a)
		}
	}
	return kept
}

func removeTypes(types, drop []model.TypeExpr) []model.TypeExpr {
	kept := types[:0]
	for _, t := range types {
		remove := false
		for _, d := range drop {
			if t.Kind == d.Kind && t.ID == d.ID {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, t)
		}
	}
	return kept
}

func isSingletonKey(key string) bool {
	switch key {
	case model.KeyID, model.KeyState, model.KeyTitle:
		return true
	}
	return false
}
