package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"muckrake/internal/model"
)

func makePipeline(states []string, transitions map[string][]string) *model.Pipeline {
	return &model.Pipeline{ID: 1, Name: "test", States: states, Transitions: transitions}
}

func linearPipeline() *model.Pipeline {
	states := []string{"draft", "review", "published"}
	return makePipeline(states, model.DefaultTransitions(states))
}

func makeSign(name, hash string, revoked bool) model.Sign {
	s := model.Sign{
		ID: 1, PipelineID: 1, FileID: 1,
		FileHash: hash, SignName: name, Signer: "alice", SignedAt: time.Now(),
	}
	if revoked {
		now := time.Now()
		s.RevokedAt = &now
	}
	return s
}

func TestNoSignsReturnsInitialState(t *testing.T) {
	state := DeriveFileState(linearPipeline(), nil, "hash123")
	assert.Equal(t, "draft", state.CurrentState)
	assert.Empty(t, state.StaleSigns)
}

func TestAllSignsValidReturnsFinalState(t *testing.T) {
	signs := []model.Sign{
		makeSign("review", "hash123", false),
		makeSign("published", "hash123", false),
	}
	state := DeriveFileState(linearPipeline(), signs, "hash123")
	assert.Equal(t, "published", state.CurrentState)
	assert.Empty(t, state.StaleSigns)
}

func TestPartialSignsReturnsIntermediateState(t *testing.T) {
	signs := []model.Sign{makeSign("review", "hash123", false)}
	state := DeriveFileState(linearPipeline(), signs, "hash123")
	assert.Equal(t, "review", state.CurrentState)
}

func TestHashMismatchMakesSignsStale(t *testing.T) {
	signs := []model.Sign{
		makeSign("review", "old_hash", false),
		makeSign("published", "old_hash", false),
	}
	state := DeriveFileState(linearPipeline(), signs, "new_hash")
	assert.Equal(t, "draft", state.CurrentState)
	assert.ElementsMatch(t, []string{"review", "published"}, state.StaleSigns)
}

func TestRevokedSignsIgnoredNotStale(t *testing.T) {
	signs := []model.Sign{makeSign("review", "hash123", true)}
	state := DeriveFileState(linearPipeline(), signs, "hash123")
	assert.Equal(t, "draft", state.CurrentState)
	assert.Empty(t, state.StaleSigns)
}

func TestRevokedSignHasNoEffectOnDerivedState(t *testing.T) {
	// derive(P, V u {revoked}) == derive(P, V) for any valid set V.
	valid := []model.Sign{makeSign("review", "h", false)}
	withRevoked := append(append([]model.Sign{}, valid...), makeSign("published", "h", true))

	a := DeriveFileState(linearPipeline(), valid, "h")
	b := DeriveFileState(linearPipeline(), withRevoked, "h")
	assert.Equal(t, a, b)
}

func TestCustomMultiSignTransitions(t *testing.T) {
	p := makePipeline([]string{"draft", "reviewed", "published"}, map[string][]string{
		"reviewed":  {"editor_ok", "legal_ok"},
		"published": {"publish_ok"},
	})

	signs := []model.Sign{makeSign("editor_ok", "h", false)}
	assert.Equal(t, "draft", DeriveFileState(p, signs, "h").CurrentState)

	signs = append(signs, makeSign("legal_ok", "h", false))
	assert.Equal(t, "reviewed", DeriveFileState(p, signs, "h").CurrentState)

	signs = append(signs, makeSign("publish_ok", "h", false))
	assert.Equal(t, "published", DeriveFileState(p, signs, "h").CurrentState)
}

func TestEditorialScenario(t *testing.T) {
	// Multi-sign transition walkthrough: sign editor -> draft, legal ->
	// reviewed, publisher -> published, then modify the file -> draft with
	// every sign stale.
	p := makePipeline([]string{"draft", "reviewed", "published"}, map[string][]string{
		"reviewed":  {"editor", "legal"},
		"published": {"publisher"},
	})
	const h = "H"

	signs := []model.Sign{makeSign("editor", h, false)}
	assert.Equal(t, "draft", DeriveFileState(p, signs, h).CurrentState)

	signs = append(signs, makeSign("legal", h, false))
	assert.Equal(t, "reviewed", DeriveFileState(p, signs, h).CurrentState)

	signs = append(signs, makeSign("publisher", h, false))
	assert.Equal(t, "published", DeriveFileState(p, signs, h).CurrentState)

	state := DeriveFileState(p, signs, "H2")
	assert.Equal(t, "draft", state.CurrentState)
	assert.ElementsMatch(t, []string{"editor", "legal", "publisher"}, state.StaleSigns)
}

func TestGapInTransitionChainStopsProgression(t *testing.T) {
	signs := []model.Sign{makeSign("published", "h", false)}
	state := DeriveFileState(linearPipeline(), signs, "h")
	assert.Equal(t, "draft", state.CurrentState)
}

func TestMixedValidAndStaleSigns(t *testing.T) {
	signs := []model.Sign{
		makeSign("review", "current", false),
		makeSign("published", "old_hash", false),
	}
	state := DeriveFileState(linearPipeline(), signs, "current")
	assert.Equal(t, "review", state.CurrentState)
	assert.Equal(t, []string{"published"}, state.StaleSigns)
}

func TestTwoStateSingleSignBoundary(t *testing.T) {
	states := []string{"pending", "done"}
	p := makePipeline(states, model.DefaultTransitions(states))

	state := DeriveFileState(p, []model.Sign{makeSign("done", "h", false)}, "h")
	assert.Equal(t, "done", state.CurrentState)

	state = DeriveFileState(p, []model.Sign{makeSign("done", "other", false)}, "h")
	assert.Equal(t, "pending", state.CurrentState)
}
