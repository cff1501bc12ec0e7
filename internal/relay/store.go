package relay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agenthands/loom/internal/model"
)

// Model is one server-side graph plus its bookkeeping. Stored marks whether
// the current revision has been persisted.
type Model struct {
	ID          string
	Annotations []model.Annotation
	Individuals []model.Individual
	Facts       []model.Fact
	Stored      bool
}

// StateDefault is the state annotation every freshly created model carries.
const StateDefault = "development"

// Store is the relay's in-memory model table with per-model undo and redo
// snapshot stacks. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	models map[string]*Model
	undo   map[string][]*Model
	redo   map[string][]*Model

	// IDSource feeds minted identifiers. Tests swap it for a deterministic
	// sequence.
	IDSource func() string
}

func NewStore() *Store {
	return &Store{
		models:   make(map[string]*Model),
		undo:     make(map[string][]*Model),
		redo:     make(map[string][]*Model),
		IDSource: func() string { return uuid.New().String()[:8] },
	}
}

// Create mints a model. It always carries its identifier echo and the
// default state; extra annotations (a title, typically) come after those.
func (s *Store) Create(extra ...model.Annotation) *Model {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("%sm%s", model.IDPrefix, s.IDSource())
	m := &Model{
		ID: id,
		Annotations: append([]model.Annotation{
			{Key: model.KeyID, Value: id},
			{Key: model.KeyState, Value: StateDefault},
		}, extra...),
	}
	s.models[id] = m
	return copyModel(m)
}

// Get returns a copy of one model.
func (s *Store) Get(id string) (*Model, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return nil, false
	}
	return copyModel(m), true
}

// IDs lists every model identifier in stable order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.models))
	for id := range s.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllAnnotations returns each model's annotation list, keyed by identifier.
func (s *Store) AllAnnotations() map[string][]model.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]model.Annotation, len(s.models))
	for id, m := range s.models {
		out[id] = append([]model.Annotation(nil), m.Annotations...)
	}
	return out
}

// Update applies fn to one model under the store lock. fn may mutate the
// model freely; the returned copy reflects the result.
func (s *Store) Update(id string, fn func(*Model) error) (*Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("unknown model %s", id)
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	return copyModel(m), nil
}

// Snapshot pushes the model's current revision onto its undo stack and
// clears the redo stack. Call it once per mutating batch.
func (s *Store) Snapshot(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return
	}
	s.undo[id] = append(s.undo[id], copyModel(m))
	s.redo[id] = nil
}

// Undo rewinds one model a revision. It reports false when there is nothing
// to rewind to.
func (s *Store) Undo(id string) (*Model, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack := s.undo[id]
	if len(stack) == 0 {
		return nil, false
	}
	current, ok := s.models[id]
	if !ok {
		return nil, false
	}
	s.redo[id] = append(s.redo[id], copyModel(current))
	top := stack[len(stack)-1]
	s.undo[id] = stack[:len(stack)-1]
	s.models[id] = copyModel(top)
	return copyModel(top), true
}

// Redo replays one undone revision.
func (s *Store) Redo(id string) (*Model, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack := s.redo[id]
	if len(stack) == 0 {
		return nil, false
	}
	current, ok := s.models[id]
	if !ok {
		return nil, false
	}
	s.undo[id] = append(s.undo[id], copyModel(current))
	top := stack[len(stack)-1]
	s.redo[id] = stack[:len(stack)-1]
	s.models[id] = copyModel(top)
	return copyModel(top), true
}

// MintIndividualID derives a node identifier under the given model.
func (s *Store) MintIndividualID(modelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s/i%s", modelID, s.IDSource())
}

func copyModel(m *Model) *Model {
	out := &Model{
		ID:          m.ID,
		Annotations: append([]model.Annotation(nil), m.Annotations...),
		Stored:      m.Stored,
	}
	out.Individuals = make([]model.Individual, len(m.Individuals))
	for i, ind := range m.Individuals {
		out.Individuals[i] = model.Individual{
			ID:          ind.ID,
			Types:       append([]model.TypeExpr(nil), ind.Types...),
			Annotations: append([]model.Annotation(nil), ind.Annotations...),
		}
	}
	out.Facts = make([]model.Fact, len(m.Facts))
	for i, f := range m.Facts {
		out.Facts[i] = model.Fact{
			Subject:     f.Subject,
			Object:      f.Object,
			Predicate:   f.Predicate,
			Annotations: append([]model.Annotation(nil), f.Annotations...),
		}
	}
	return out
}
