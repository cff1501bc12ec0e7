//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/loom/internal/client"
	"github.com/agenthands/loom/internal/event"
	"github.com/agenthands/loom/internal/model"
	"github.com/agenthands/loom/internal/response"
	"github.com/agenthands/loom/internal/transport"
)

// newLiveManager connects to a running relayd. Start one with
// `go run ./cmd/relayd` and point LOOM_RELAY_URL at it.
func newLiveManager(t *testing.T, mode client.Mode) *client.Manager {
	t.Helper()

	_ = godotenv.Load("../../.env")
	base := os.Getenv("LOOM_RELAY_URL")
	if base == "" {
		t.Skip("LOOM_RELAY_URL not set; skipping live relay tests")
	}
	token := os.Getenv("LOOM_TOKEN")
	if token == "" {
		token = "integration-token"
	}

	logger := zerolog.Nop()
	engine := transport.NewHTTPEngine(logger, 10*time.Second)
	mgr, err := client.New(base, "loom", token, engine, mode, logger)
	require.NoError(t, err)
	return mgr
}

func await(t *testing.T, p *transport.Pending, err error) *response.Response {
	t.Helper()
	require.NoError(t, err)
	resp, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestModelLifecycle(t *testing.T) {
	mgr := newLiveManager(t, client.Async)
	ctx := context.Background()

	// Every dispatched call must complete; awaiting each reply before the
	// next dispatch keeps these counters race-free.
	var preruns, postruns int
	mgr.Subscribe(event.Prerun, func(*response.Response) { preruns++ })
	mgr.Subscribe(event.Postrun, func(*response.Response) { postruns++ })

	p, err := mgr.AddModel(ctx, "Integration boiler")
	created := await(t, p, err)
	require.True(t, created.Okay())
	modelID := created.ModelID()
	require.NotEmpty(t, modelID)

	p, err = mgr.AddIndividual(ctx, modelID, model.ClassType("LOOM:0001"))
	reply := await(t, p, err)
	require.Len(t, reply.Individuals(), 1)
	pump := reply.Individuals()[0].ID

	p, err = mgr.AddIndividual(ctx, modelID, model.ClassType("LOOM:0002"))
	reply = await(t, p, err)
	require.Len(t, reply.Individuals(), 1)
	valve := reply.Individuals()[0].ID

	p, err = mgr.AddFact(ctx, modelID, pump, valve, "loom:rel/feeds")
	await(t, p, err)

	p, err = mgr.AddIndividualAnnotation(ctx, modelID, pump,
		model.Annotation{Key: "comment", Value: "main pump"})
	await(t, p, err)

	p, err = mgr.StoreModel(ctx, modelID)
	stored := await(t, p, err)
	assert.True(t, stored.Okay())

	p, err = mgr.GetModel(ctx, modelID)
	fetched := await(t, p, err)
	assert.Len(t, fetched.Individuals(), 2)
	require.Len(t, fetched.Facts(), 1)
	assert.Equal(t, pump, fetched.Facts()[0].Subject)
	assert.Equal(t, valve, fetched.Facts()[0].Object)

	title, ok := model.AnnotationValue(fetched.Annotations(), model.KeyTitle)
	require.True(t, ok)
	assert.Equal(t, "Integration boiler", title)

	assert.Equal(t, 7, preruns)
	assert.Equal(t, 7, postruns)
}

func TestUndoRedoLive(t *testing.T) {
	mgr := newLiveManager(t, client.Sync)
	ctx := context.Background()

	var warnings []string
	mgr.Subscribe(event.Warning, func(resp *response.Response) {
		warnings = append(warnings, resp.Message())
	})

	p, err := mgr.AddModel(ctx, "Undo target")
	created := await(t, p, err)
	modelID := created.ModelID()

	// Rolling back a model with no history is a warning, not an error.
	p, err = mgr.Undo(ctx, modelID)
	warned := await(t, p, err)
	assert.Equal(t, response.MessageTypeWarning, warned.MessageType())
	assert.Contains(t, warnings, "nothing to undo")

	p, err = mgr.AddIndividual(ctx, modelID, model.ClassType("LOOM:0003"))
	await(t, p, err)

	p, err = mgr.Undo(ctx, modelID)
	undone := await(t, p, err)
	require.True(t, undone.Okay())
	assert.Empty(t, undone.Individuals())

	p, err = mgr.Redo(ctx, modelID)
	redone := await(t, p, err)
	require.True(t, redone.Okay())
	assert.Len(t, redone.Individuals(), 1)
}

func TestDuplicateModelLive(t *testing.T) {
	mgr := newLiveManager(t, client.Sync)
	ctx := context.Background()

	p, err := mgr.AddModel(ctx, "Boiler room")
	created := await(t, p, err)
	sourceID := created.ModelID()

	p, err = mgr.AddModelAnnotation(ctx, sourceID,
		model.Annotation{Key: model.KeyState, Value: "review"})
	await(t, p, err)

	p, err = mgr.AddIndividual(ctx, sourceID, model.ClassType("LOOM:0001"))
	reply := await(t, p, err)
	pump := reply.Individuals()[0].ID

	p, err = mgr.AddIndividual(ctx, sourceID, model.ClassType("LOOM:0002"))
	reply = await(t, p, err)
	valve := reply.Individuals()[0].ID

	// Cross-reference between the two nodes; the copy must point at the
	// copied counterpart, not back into the source model.
	p, err = mgr.AddIndividualAnnotation(ctx, sourceID, pump,
		model.Annotation{Key: "feeds_into", Value: valve})
	await(t, p, err)

	p, err = mgr.AddFact(ctx, sourceID, pump, valve, "loom:rel/feeds")
	await(t, p, err)

	copyID, err := mgr.DuplicateModel(ctx, sourceID, "Boiler room (copy)")
	require.NoError(t, err)
	require.NotEmpty(t, copyID)
	require.NotEqual(t, sourceID, copyID)

	p, err = mgr.GetModel(ctx, copyID)
	dup := await(t, p, err)

	title, _ := model.AnnotationValue(dup.Annotations(), model.KeyTitle)
	assert.Equal(t, "Boiler room (copy)", title)

	// The copy starts a fresh lifecycle instead of inheriting "review".
	state, _ := model.AnnotationValue(dup.Annotations(), model.KeyState)
	assert.Equal(t, "development", state)

	echo, _ := model.AnnotationValue(dup.Annotations(), model.KeyID)
	assert.Equal(t, copyID, echo)

	// Recreation preserves source order, so counterparts pair up by index.
	require.Len(t, dup.Individuals(), 2)
	sourceOrder := []string{pump, valve}
	counterparts := map[string]string{}
	for i, ind := range dup.Individuals() {
		assert.Contains(t, ind.ID, copyID+"/")
		counterparts[sourceOrder[i]] = ind.ID
	}

	for _, ind := range dup.Individuals() {
		if ref, ok := model.AnnotationValue(ind.Annotations, "feeds_into"); ok {
			assert.Equal(t, counterparts[valve], ref)
		}
	}

	require.Len(t, dup.Facts(), 1)
	assert.Equal(t, counterparts[pump], dup.Facts()[0].Subject)
	assert.Equal(t, counterparts[valve], dup.Facts()[0].Object)
	assert.Equal(t, "loom:rel/feeds", dup.Facts()[0].Predicate)
}

func TestMetaCatalogue(t *testing.T) {
	mgr := newLiveManager(t, client.Sync)
	ctx := context.Background()

	p, err := mgr.AddModel(ctx, "Catalogue entry A")
	a := await(t, p, err)
	p, err = mgr.AddModel(ctx, "Catalogue entry B")
	b := await(t, p, err)

	var metaFired int
	mgr.Subscribe(event.Meta, func(*response.Response) { metaFired++ })

	p, err = mgr.GetMeta(ctx)
	meta := await(t, p, err)

	assert.Equal(t, 1, metaFired)
	assert.NotEmpty(t, meta.Relations())
	assert.NotEmpty(t, meta.Evidence())
	assert.Contains(t, meta.ModelIDs(), a.ModelID())
	assert.Contains(t, meta.ModelIDs(), b.ModelID())

	titles := meta.ModelsMeta()
	titleA, _ := model.AnnotationValue(titles[a.ModelID()], model.KeyTitle)
	assert.Equal(t, "Catalogue entry A", titleA)
}
