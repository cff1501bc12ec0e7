package client

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/loom/internal/model"
	"github.com/agenthands/loom/internal/response"
	"github.com/agenthands/loom/internal/transport"
)

// duplication is the state of one DuplicateModel run. The correspondence
// table maps source individual identifiers to the identifiers minted for
// their recreations; it is written only during recreateIndividuals and
// read-only in every later phase. A run is never reused.
type duplication struct {
	m        *Manager
	sourceID string
	newTitle string

	source   *response.Response
	targetID string
	table    map[string]string
}

type phase struct {
	name string
	run  func(ctx context.Context) error
}

// DuplicateModel clones a model into a new one carrying newTitle, returning
// the new model's identifier. Phases run strictly in order; fan-out inside a
// phase is awaited before the next phase starts. Any failure aborts the run
// with an error naming the phase; the partially populated target is left
// as-is, no cleanup is attempted.
func (m *Manager) DuplicateModel(ctx context.Context, sourceID, newTitle string) (string, error) {
	d := &duplication{
		m:        m,
		sourceID: sourceID,
		newTitle: newTitle,
		table:    make(map[string]string),
	}

	phases := []phase{
		{"fetch source", d.fetchSource},
		{"create target", d.createTarget},
		{"copy model annotations", d.copyModelAnnotations},
		{"recreate individuals", d.recreateIndividuals},
		{"copy individual annotations", d.copyIndividualAnnotations},
		{"copy facts", d.copyFacts},
		{"persist target", d.persistTarget},
	}

	for _, ph := range phases {
		if err := ph.run(ctx); err != nil {
			return "", fmt.Errorf("duplicating %s stopped at %s: %w", sourceID, ph.name, err)
		}
	}

	m.log.Info().
		Str("source", sourceID).
		Str("target", d.targetID).
		Int("individuals", len(d.table)).
		Msg("model duplicated")
	return d.targetID, nil
}

// call awaits one dispatched intent and requires a success reply. Error and
// warning replies have already fired their channels by the time they land
// here; for the pipeline they are phase failures all the same.
func (d *duplication) call(ctx context.Context, pending *transport.Pending, err error) (*response.Response, error) {
	if err != nil {
		return nil, err
	}
	resp, err := pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if !resp.Okay() {
		return nil, &ServiceError{MessageType: resp.MessageType(), Message: resp.Message()}
	}
	return resp, nil
}

func (d *duplication) fetchSource(ctx context.Context) error {
	pending, err := d.m.GetModel(ctx, d.sourceID)
	resp, err := d.call(ctx, pending, err)
	if err != nil {
		return err
	}
	d.source = resp
	return nil
}

func (d *duplication) createTarget(ctx context.Context) error {
	pending, err := d.m.AddModel(ctx, "")
	resp, err := d.call(ctx, pending, err)
	if err != nil {
		return err
	}
	if resp.ModelID() == "" {
		return fmt.Errorf("service minted no identifier for the target")
	}
	d.targetID = resp.ModelID()
	return nil
}

func (d *duplication) copyModelAnnotations(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ann := range d.source.Annotations() {
		out, keep := d.rewriteModelAnnotation(ann)
		if !keep {
			continue
		}
		g.Go(func() error {
			pending, err := d.m.AddModelAnnotation(ctx, d.targetID, out)
			_, err = d.call(ctx, pending, err)
			return err
		})
	}
	return g.Wait()
}

// rewriteModelAnnotation applies the three special cases of model-level
// metadata: the title becomes the run's new title, an identifier echo is
// rewritten to the target's own identifier, and state is dropped because the
// freshly created target already carries its default. Everything else copies
// verbatim.
func (d *duplication) rewriteModelAnnotation(ann model.Annotation) (model.Annotation, bool) {
	switch ann.Key {
	case model.KeyTitle:
		return model.Annotation{Key: model.KeyTitle, Value: d.newTitle}, true
	case model.KeyID:
		return model.Annotation{Key: model.KeyID, Value: d.targetID}, true
	case model.KeyState:
		return model.Annotation{}, false
	default:
		return ann, true
	}
}

// recreateIndividuals adds one individual to the target per source
// individual, sequentially and in source order, and fills the correspondence
// table from the identifiers the service mints. Annotations are not copied
// here; they need the completed table first.
func (d *duplication) recreateIndividuals(ctx context.Context) error {
	for _, ind := range d.source.Individuals() {
		pending, err := d.m.AddIndividual(ctx, d.targetID, ind.Types...)
		resp, err := d.call(ctx, pending, err)
		if err != nil {
			return err
		}
		minted := resp.Individuals()
		if len(minted) == 0 {
			return fmt.Errorf("service minted no individual for %s", ind.ID)
		}
		d.table[ind.ID] = minted[0].ID
	}
	return nil
}

// copyIndividualAnnotations resolves every table lookup and cross-reference
// up front, so a missing counterpart aborts the phase before any call is in
// flight, then fans the translated annotations out.
func (d *duplication) copyIndividualAnnotations(ctx context.Context) error {
	type task struct {
		target string
		ann    model.Annotation
	}
	var tasks []task
	for _, ind := range d.source.Individuals() {
		target, ok := d.table[ind.ID]
		if !ok {
			return fmt.Errorf("individual %s: %w", ind.ID, ErrMissingCounterpart)
		}
		for _, ann := range ind.Annotations {
			out, err := d.translateAnnotation(ann)
			if err != nil {
				return err
			}
			tasks = append(tasks, task{target: target, ann: out})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, tk := range tasks {
		g.Go(func() error {
			pending, err := d.m.AddIndividualAnnotation(ctx, d.targetID, tk.target, tk.ann)
			_, err = d.call(ctx, pending, err)
			return err
		})
	}
	return g.Wait()
}

// copyFacts translates both endpoints of every fact through the table before
// launching anything, then fans out one goroutine per fact. Within a fact
// the edge is created before its annotations attach.
func (d *duplication) copyFacts(ctx context.Context) error {
	type task struct {
		subject, object, predicate string
		anns                       []model.Annotation
	}
	var tasks []task
	for _, fact := range d.source.Facts() {
		subject, ok := d.table[fact.Subject]
		if !ok {
			return fmt.Errorf("fact subject %s: %w", fact.Subject, ErrMissingCounterpart)
		}
		object, ok := d.table[fact.Object]
		if !ok {
			return fmt.Errorf("fact object %s: %w", fact.Object, ErrMissingCounterpart)
		}
		anns := make([]model.Annotation, 0, len(fact.Annotations))
		for _, ann := range fact.Annotations {
			out, err := d.translateAnnotation(ann)
			if err != nil {
				return err
			}
			anns = append(anns, out)
		}
		tasks = append(tasks, task{subject: subject, object: object, predicate: fact.Predicate, anns: anns})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, tk := range tasks {
		g.Go(func() error {
			pending, err := d.m.AddFact(ctx, d.targetID, tk.subject, tk.object, tk.predicate)
			if _, err = d.call(ctx, pending, err); err != nil {
				return err
			}
			for _, ann := range tk.anns {
				pending, err = d.m.AddFactAnnotation(ctx, d.targetID, tk.subject, tk.object, tk.predicate, ann)
				if _, err = d.call(ctx, pending, err); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *duplication) persistTarget(ctx context.Context) error {
	pending, err := d.m.StoreModel(ctx, d.targetID)
	_, err = d.call(ctx, pending, err)
	return err
}

// translateAnnotation rewrites annotation values that cross-reference nodes
// of the source model through the correspondence table. References into
// other models copy verbatim; a reference into the source model with no
// table entry is a defect.
func (d *duplication) translateAnnotation(ann model.Annotation) (model.Annotation, error) {
	if !model.IsNodeRef(ann.Value) || !strings.HasPrefix(ann.Value, d.sourceID+"/") {
		return ann, nil
	}
	target, ok := d.table[ann.Value]
	if !ok {
		return model.Annotation{}, fmt.Errorf("annotation %q referencing %s: %w", ann.Key, ann.Value, ErrMissingCounterpart)
	}
	return model.Annotation{Key: ann.Key, Value: target}, nil
}
