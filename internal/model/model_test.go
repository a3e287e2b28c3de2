package model

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muckrake/internal/errdefs"
)

func TestProtectionLevelRoundtrip(t *testing.T) {
	for _, level := range []ProtectionLevel{Editable, Protected, Immutable} {
		parsed, err := ParseProtectionLevel(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, parsed)
	}
	_, err := ParseProtectionLevel("bogus")
	assert.Error(t, err)
}

func TestStrictest(t *testing.T) {
	assert.Equal(t, Editable, Strictest(nil))
	assert.Equal(t, Immutable, Strictest([]ProtectionLevel{Editable, Immutable, Protected}))
	assert.Equal(t, Protected, Strictest([]ProtectionLevel{Protected, Editable}))
}

func TestCategoryTypeRoundtrip(t *testing.T) {
	for _, ct := range []CategoryType{CategoryFiles, CategoryTools, CategoryInbox} {
		parsed, err := ParseCategoryType(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, parsed)
	}
	_, err := ParseCategoryType("bogus")
	assert.Error(t, err)
}

func TestCategoryGlobMatching(t *testing.T) {
	cat := Category{Name: "evidence", Pattern: "evidence/**"}
	assert.True(t, cat.Matches("evidence/doc.pdf"))
	assert.True(t, cat.Matches("evidence/financial/receipt.pdf"))
	assert.False(t, cat.Matches("notes/todo.md"))
}

func TestCategoryInvalidPatternNeverMatches(t *testing.T) {
	cat := Category{Pattern: "evidence/[bad"}
	assert.False(t, cat.Matches("evidence/a"))
}

func TestNameFromPattern(t *testing.T) {
	assert.Equal(t, "evidence", NameFromPattern("evidence/**"))
	assert.Equal(t, "tools", NameFromPattern("tools/*"))
	assert.Equal(t, "inbox", NameFromPattern("inbox"))
	assert.Equal(t, "evidence/financial", NameFromPattern("evidence/financial/**"))
}

func TestFileTagStale(t *testing.T) {
	tag := FileTag{FileID: 1, Tag: "classified", FileHash: "h1"}
	assert.False(t, tag.Stale("h1"))
	assert.True(t, tag.Stale("h2"))

	// Legacy rows without a snapshot can never go stale.
	noHash := FileTag{FileID: 1, Tag: "old"}
	assert.False(t, noHash.Stale("anything"))
}

func TestDefaultTransitions(t *testing.T) {
	transitions := DefaultTransitions([]string{"draft", "review", "published"})
	want := map[string][]string{
		"review":    {"review"},
		"published": {"published"},
	}
	if diff := cmp.Diff(want, transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func validPipeline() Pipeline {
	states := []string{"draft", "review", "published"}
	return Pipeline{
		Name:        "editorial",
		States:      states,
		Transitions: DefaultTransitions(states),
	}
}

func TestPipelineValidateOk(t *testing.T) {
	p := validPipeline()
	assert.NoError(t, p.Validate())
}

func TestPipelineValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Pipeline)
		want   string
	}{
		{
			"too few states",
			func(p *Pipeline) { p.States = []string{"only"}; p.Transitions = nil },
			"at least 2 states",
		},
		{
			"initial state has transition",
			func(p *Pipeline) { p.Transitions["draft"] = []string{"draft"} },
			"initial state",
		},
		{
			"unknown transition target",
			func(p *Pipeline) { p.Transitions["nonexistent"] = []string{"x"} },
			"not a defined state",
		},
		{
			"missing transition for state",
			func(p *Pipeline) { delete(p.Transitions, "published") },
			"published",
		},
		{
			"empty required signs",
			func(p *Pipeline) { p.Transitions["review"] = nil },
			"no required signs",
		},
		{
			"duplicate state",
			func(p *Pipeline) {
				p.States = []string{"draft", "review", "review"}
			},
			"duplicate state",
		},
		{
			"empty state name",
			func(p *Pipeline) { p.States = []string{"draft", ""} },
			"must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errdefs.IsInvalidPipeline(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRequiredSignNamesDeduplicates(t *testing.T) {
	p := Pipeline{
		Name:   "editorial",
		States: []string{"draft", "review", "published"},
		Transitions: map[string][]string{
			"review":    {"editor", "legal"},
			"published": {"legal"},
		},
	}
	assert.Equal(t, []string{"editor", "legal"}, p.RequiredSignNames())
}

func TestAttachmentScopeRoundtrip(t *testing.T) {
	for _, scope := range []AttachmentScope{ScopeCategory, ScopeTag} {
		parsed, err := ParseAttachmentScope(scope.String())
		require.NoError(t, err)
		assert.Equal(t, scope, parsed)
	}
	_, err := ParseAttachmentScope("bogus")
	assert.Error(t, err)
}

func TestSignValidity(t *testing.T) {
	now := time.Now()
	sign := Sign{FileHash: "h1", SignName: "editor"}

	assert.True(t, sign.Valid("h1"))
	assert.False(t, sign.Valid("h2"))
	assert.True(t, sign.StaleAt("h2"))
	assert.False(t, sign.StaleAt("h1"))

	sign.RevokedAt = &now
	assert.False(t, sign.Valid("h1"))
	assert.False(t, sign.StaleAt("h2"))
}

func TestTriggerEventRoundtrip(t *testing.T) {
	events := []TriggerEvent{
		EventIngest, EventTag, EventUntag, EventCategorize,
		EventSign, EventStateChange, EventProjectEnter, EventWorkspaceEnter,
	}
	for _, e := range events {
		parsed, err := ParseTriggerEvent(e.String())
		require.NoError(t, err)
		assert.Equal(t, e, parsed)
	}
}

func TestTriggerEventAcceptsDashes(t *testing.T) {
	for in, want := range map[string]TriggerEvent{
		"state-change":    EventStateChange,
		"project-enter":   EventProjectEnter,
		"workspace-enter": EventWorkspaceEnter,
	} {
		parsed, err := ParseTriggerEvent(in)
		require.NoError(t, err)
		assert.Equal(t, want, parsed)
	}
	_, err := ParseTriggerEvent("bogus")
	assert.Error(t, err)
}

func TestActionTypeRoundtrip(t *testing.T) {
	actions := []ActionType{
		ActionRunTool, ActionAddTag, ActionRemoveTag, ActionSign,
		ActionUnsign, ActionAttachPipeline, ActionDetachPipeline,
	}
	for _, a := range actions {
		parsed, err := ParseActionType(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}

	parsed, err := ParseActionType("attach-pipeline")
	require.NoError(t, err)
	assert.Equal(t, ActionAttachPipeline, parsed)

	_, err = ParseActionType("bogus")
	assert.Error(t, err)
}

func TestTriggerFilterEmpty(t *testing.T) {
	var f TriggerFilter
	assert.True(t, f.Empty())
	f.Category = "evidence"
	assert.False(t, f.Empty())
}

func TestRuleValidateActionConfig(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{"run_tool ok", Rule{ActionType: ActionRunTool, ActionConfig: ActionConfig{Tool: "ocr"}}, false},
		{"run_tool missing tool", Rule{ActionType: ActionRunTool}, true},
		{"add_tag ok", Rule{ActionType: ActionAddTag, ActionConfig: ActionConfig{Tag: "x"}}, false},
		{"remove_tag missing tag", Rule{ActionType: ActionRemoveTag}, true},
		{"sign ok", Rule{ActionType: ActionSign, ActionConfig: ActionConfig{Pipeline: "p", SignName: "s"}}, false},
		{"sign missing sign_name", Rule{ActionType: ActionSign, ActionConfig: ActionConfig{Pipeline: "p"}}, true},
		{"attach ok", Rule{ActionType: ActionAttachPipeline, ActionConfig: ActionConfig{Pipeline: "p", Category: "evidence"}}, false},
		{"attach missing scope", Rule{ActionType: ActionAttachPipeline, ActionConfig: ActionConfig{Pipeline: "p"}}, true},
		{"detach tag scope ok", Rule{ActionType: ActionDetachPipeline, ActionConfig: ActionConfig{Pipeline: "p", Tag: "t"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.ValidateActionConfig()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
