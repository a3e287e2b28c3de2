package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muckrake/internal/integrity"
	"muckrake/internal/model"
	"muckrake/internal/store"
)

type env struct {
	dir     string
	project *store.ProjectStore
	ctx     *Context
}

func setup(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	project, err := store.CreateProject(filepath.Join(dir, ".mkrk"))
	require.NoError(t, err)
	t.Cleanup(func() { project.Close() })
	return &env{
		dir:     dir,
		project: project,
		ctx:     &Context{ProjectRoot: dir, Project: project},
	}
}

// trackFile writes content to disk and records it in the store.
func (e *env) trackFile(t *testing.T, relPath string, content []byte, mime string) *model.TrackedFile {
	t.Helper()
	absPath := filepath.Join(e.dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(absPath), 0o755))
	require.NoError(t, os.WriteFile(absPath, content, 0o644))

	hash, err := integrity.HashFile(absPath)
	require.NoError(t, err)

	f := &model.TrackedFile{
		Name: filepath.Base(relPath), Path: relPath, SHA256: hash,
		MimeType: mime, Size: int64(len(content)), IngestedAt: time.Now(),
	}
	id, err := e.project.InsertFile(f)
	require.NoError(t, err)
	f.ID = id
	return f
}

func (e *env) addRule(t *testing.T, r *model.Rule) {
	t.Helper()
	r.Enabled = true
	r.CreatedAt = time.Now()
	id, err := e.project.InsertRule(r)
	require.NoError(t, err)
	r.ID = id
}

func fileEvent(kind model.TriggerEvent, f *model.TrackedFile) *Event {
	return &Event{Kind: kind, File: f}
}

func TestMimeMatching(t *testing.T) {
	assert.True(t, matchesMime("application/pdf", "application/pdf"))
	assert.False(t, matchesMime("application/pdf", "image/jpeg"))

	assert.True(t, matchesMime("image/", "image/jpeg"))
	assert.True(t, matchesMime("image/", "image/png"))
	assert.False(t, matchesMime("image/", "application/pdf"))

	assert.True(t, matchesMime("image/*", "image/jpeg"))
	assert.False(t, matchesMime("image/*", "application/pdf"))
}

func TestFileExtension(t *testing.T) {
	assert.Equal(t, "pdf", fileExtension("evidence/report.pdf"))
	assert.Equal(t, "gz", fileExtension("archive.tar.gz"))
	assert.Equal(t, "noext", fileExtension("noext"))
}

func TestFilterMatching(t *testing.T) {
	e := setup(t)
	_, err := e.project.InsertCategory(&model.Category{Pattern: "evidence/**"}, model.Editable)
	require.NoError(t, err)

	pdf := &model.TrackedFile{ID: 1, Name: "test.pdf", Path: "evidence/test.pdf", MimeType: "application/pdf"}
	wav := &model.TrackedFile{ID: 2, Name: "test.wav", Path: "notes/test.wav", MimeType: "audio/wav"}

	tests := []struct {
		name   string
		filter model.TriggerFilter
		event  *Event
		want   bool
	}{
		{"empty matches everything", model.TriggerFilter{}, fileEvent(model.EventIngest, pdf), true},
		{"mime match", model.TriggerFilter{MimeType: "application/pdf"}, fileEvent(model.EventIngest, pdf), true},
		{"mime mismatch", model.TriggerFilter{MimeType: "application/pdf"}, fileEvent(model.EventIngest, wav), false},
		{"ext match case-insensitive", model.TriggerFilter{FileType: "PDF"}, fileEvent(model.EventIngest, pdf), true},
		{"ext mismatch", model.TriggerFilter{FileType: "pdf"}, fileEvent(model.EventIngest, wav), false},
		{"category match", model.TriggerFilter{Category: "evidence"}, fileEvent(model.EventIngest, pdf), true},
		{"category mismatch", model.TriggerFilter{Category: "evidence"}, fileEvent(model.EventIngest, wav), false},
		{"unknown category", model.TriggerFilter{Category: "ghost"}, fileEvent(model.EventIngest, pdf), false},
		{"tag match", model.TriggerFilter{TagName: "speech"},
			&Event{Kind: model.EventTag, File: wav, TagName: "speech"}, true},
		{"tag mismatch", model.TriggerFilter{TagName: "speech"},
			&Event{Kind: model.EventTag, File: wav, TagName: "other"}, false},
		{"pipeline+state match", model.TriggerFilter{Pipeline: "editorial", State: "reviewed"},
			&Event{Kind: model.EventStateChange, File: pdf, PipelineName: "editorial", NewState: "reviewed"}, true},
		{"state mismatch", model.TriggerFilter{State: "published"},
			&Event{Kind: model.EventStateChange, File: pdf, PipelineName: "editorial", NewState: "reviewed"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesFilter(&tt.filter, tt.event, e.project))
		})
	}
}

func TestFilterLifecycleEventsWithoutFile(t *testing.T) {
	e := setup(t)
	enter := &Event{Kind: model.EventProjectEnter}

	// File-context fields must fail against file-less events.
	for _, filter := range []model.TriggerFilter{
		{Category: "evidence"},
		{MimeType: "application/pdf"},
		{FileType: "pdf"},
	} {
		assert.False(t, matchesFilter(&filter, enter, e.project))
	}

	// The empty filter matches.
	empty := model.TriggerFilter{}
	assert.True(t, matchesFilter(&empty, enter, e.project))
}

func TestAddTagCascadeWithGuard(t *testing.T) {
	// R1: on ingest add_tag X. R2: on tag add_tag Y.
	// Ingest -> tags {X, Y}; both rules in fired; re-dispatch does nothing.
	e := setup(t)
	e.addRule(t, &model.Rule{
		Name: "r1", TriggerEvent: model.EventIngest,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "X"},
	})
	e.addRule(t, &model.Rule{
		Name: "r2", TriggerEvent: model.EventTag,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "Y"},
	})

	f := e.trackFile(t, "evidence/a.txt", []byte("hello"), "text/plain")
	fired := NewFired()
	require.NoError(t, Dispatch(fileEvent(model.EventIngest, f), e.ctx, fired))

	tags, err := e.project.GetTags(f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, tags)
	assert.Len(t, fired, 2)

	// Simulated re-dispatch under the same fired set: nothing new fires.
	require.NoError(t, Dispatch(fileEvent(model.EventIngest, f), e.ctx, fired))
	require.NoError(t, Dispatch(&Event{Kind: model.EventTag, File: f, TagName: "Y"}, e.ctx, fired))
	tags, err = e.project.GetTags(f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, tags)
}

func TestSelfTriggeringRuleFiresOnce(t *testing.T) {
	// "on tag add_tag X" would re-trigger itself forever without the guard.
	e := setup(t)
	e.addRule(t, &model.Rule{
		Name: "loop", TriggerEvent: model.EventTag,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "X"},
	})

	f := e.trackFile(t, "a.txt", []byte("x"), "")
	fired := NewFired()
	require.NoError(t, Dispatch(&Event{Kind: model.EventTag, File: f, TagName: "X"}, e.ctx, fired))

	tags, err := e.project.GetTags(f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, tags)
	assert.Len(t, fired, 1)
}

func TestRemoveTagCascadesUntag(t *testing.T) {
	e := setup(t)
	e.addRule(t, &model.Rule{
		Name: "strip", TriggerEvent: model.EventIngest,
		ActionType: model.ActionRemoveTag, ActionConfig: model.ActionConfig{Tag: "draft"},
	})
	e.addRule(t, &model.Rule{
		Name: "on-untag", TriggerEvent: model.EventUntag,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "cleaned"},
	})

	f := e.trackFile(t, "a.txt", []byte("x"), "")
	require.NoError(t, e.project.InsertTag(f.ID, "draft", f.SHA256))

	require.NoError(t, Dispatch(fileEvent(model.EventIngest, f), e.ctx, NewFired()))

	tags, err := e.project.GetTags(f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"cleaned"}, tags)
}

func TestPriorityOrdering(t *testing.T) {
	e := setup(t)
	// Two rules tag the same file; both run, but order follows priority.
	e.addRule(t, &model.Rule{
		Name: "low", TriggerEvent: model.EventIngest, Priority: 1,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "second"},
	})
	e.addRule(t, &model.Rule{
		Name: "high", TriggerEvent: model.EventIngest, Priority: 10,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "first"},
	})

	f := e.trackFile(t, "a.txt", []byte("x"), "")
	require.NoError(t, Dispatch(fileEvent(model.EventIngest, f), e.ctx, NewFired()))

	entries, err := e.project.ListAudit(10)
	require.NoError(t, err)
	// Audit rows are newest-first, so "high" appears after "low".
	require.Len(t, entries, 2)
	assert.Contains(t, entries[1].Detail, `"rule":"high"`)
	assert.Contains(t, entries[0].Detail, `"rule":"low"`)
}

func TestDisabledRulesNeverFire(t *testing.T) {
	e := setup(t)
	e.addRule(t, &model.Rule{
		Name: "off", TriggerEvent: model.EventIngest,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "x"},
	})
	require.NoError(t, e.project.SetRuleEnabled("off", false))

	f := e.trackFile(t, "a.txt", []byte("x"), "")
	require.NoError(t, Dispatch(fileEvent(model.EventIngest, f), e.ctx, NewFired()))

	tags, err := e.project.GetTags(f.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestActionFailureDoesNotAbortDispatch(t *testing.T) {
	e := setup(t)
	// The sign action references a missing pipeline and fails; the
	// later rule still runs.
	e.addRule(t, &model.Rule{
		Name: "broken", TriggerEvent: model.EventIngest, Priority: 10,
		ActionType:   model.ActionSign,
		ActionConfig: model.ActionConfig{Pipeline: "ghost", SignName: "x"},
	})
	e.addRule(t, &model.Rule{
		Name: "works", TriggerEvent: model.EventIngest, Priority: 1,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "tagged"},
	})

	f := e.trackFile(t, "a.txt", []byte("x"), "")
	require.NoError(t, Dispatch(fileEvent(model.EventIngest, f), e.ctx, NewFired()))

	tags, err := e.project.GetTags(f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tagged"}, tags)
}

func signPipeline(t *testing.T, e *env) *model.Pipeline {
	t.Helper()
	states := []string{"draft", "reviewed"}
	p := &model.Pipeline{Name: "editorial", States: states, Transitions: model.DefaultTransitions(states)}
	id, err := e.project.InsertPipeline(p)
	require.NoError(t, err)
	p.ID = id
	return p
}

func TestSignActionCascadesSignAndStateChange(t *testing.T) {
	e := setup(t)
	signPipeline(t, e)

	e.addRule(t, &model.Rule{
		Name: "auto-sign", TriggerEvent: model.EventIngest,
		ActionType:   model.ActionSign,
		ActionConfig: model.ActionConfig{Pipeline: "editorial", SignName: "reviewed"},
	})
	e.addRule(t, &model.Rule{
		Name: "on-sign", TriggerEvent: model.EventSign,
		TriggerFilter: model.TriggerFilter{Pipeline: "editorial", SignName: "reviewed"},
		ActionType:    model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "signed"},
	})
	e.addRule(t, &model.Rule{
		Name: "on-state", TriggerEvent: model.EventStateChange,
		TriggerFilter: model.TriggerFilter{State: "reviewed"},
		ActionType:    model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "reviewed-state"},
	})

	f := e.trackFile(t, "evidence/a.txt", []byte("content"), "text/plain")
	require.NoError(t, Dispatch(fileEvent(model.EventIngest, f), e.ctx, NewFired()))

	// The sign landed with rule provenance.
	signs, err := e.project.GetSignsForFile(f.ID)
	require.NoError(t, err)
	require.Len(t, signs, 1)
	assert.Equal(t, "rule:auto-sign", signs[0].Source)

	tags, err := e.project.GetTags(f.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"signed", "reviewed-state"}, tags)
}

func TestUnsignActionCascadesStateChange(t *testing.T) {
	e := setup(t)
	p := signPipeline(t, e)
	f := e.trackFile(t, "evidence/a.txt", []byte("content"), "text/plain")

	_, err := e.project.InsertSign(&model.Sign{
		PipelineID: p.ID, FileID: f.ID, FileHash: f.SHA256,
		SignName: "reviewed", Signer: "alice", SignedAt: time.Now(),
	})
	require.NoError(t, err)

	e.addRule(t, &model.Rule{
		Name: "auto-unsign", TriggerEvent: model.EventCategorize,
		ActionType:   model.ActionUnsign,
		ActionConfig: model.ActionConfig{Pipeline: "editorial", SignName: "reviewed"},
	})
	e.addRule(t, &model.Rule{
		Name: "on-drop", TriggerEvent: model.EventStateChange,
		TriggerFilter: model.TriggerFilter{State: "draft"},
		ActionType:    model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "needs-review"},
	})

	require.NoError(t, Dispatch(fileEvent(model.EventCategorize, f), e.ctx, NewFired()))

	found, err := e.project.FindSign(f.ID, p.ID, "reviewed")
	require.NoError(t, err)
	assert.Nil(t, found)

	tags, err := e.project.GetTags(f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"needs-review"}, tags)
}

func TestUnsignMissingSignIsNoop(t *testing.T) {
	e := setup(t)
	signPipeline(t, e)
	f := e.trackFile(t, "a.txt", []byte("x"), "")

	e.addRule(t, &model.Rule{
		Name: "auto-unsign", TriggerEvent: model.EventCategorize,
		ActionType:   model.ActionUnsign,
		ActionConfig: model.ActionConfig{Pipeline: "editorial", SignName: "reviewed"},
	})
	require.NoError(t, Dispatch(fileEvent(model.EventCategorize, f), e.ctx, NewFired()))
}

func TestAttachDetachPipelineIdempotent(t *testing.T) {
	e := setup(t)
	p := signPipeline(t, e)

	e.addRule(t, &model.Rule{
		Name: "attach", TriggerEvent: model.EventProjectEnter,
		ActionType:   model.ActionAttachPipeline,
		ActionConfig: model.ActionConfig{Pipeline: "editorial", Category: "evidence"},
	})

	require.NoError(t, Dispatch(&Event{Kind: model.EventProjectEnter}, e.ctx, NewFired()))
	require.NoError(t, Dispatch(&Event{Kind: model.EventProjectEnter}, e.ctx, NewFired()))

	atts, err := e.project.ListAttachments(p.ID)
	require.NoError(t, err)
	assert.Len(t, atts, 1)

	e.addRule(t, &model.Rule{
		Name: "detach", TriggerEvent: model.EventWorkspaceEnter,
		ActionType:   model.ActionDetachPipeline,
		ActionConfig: model.ActionConfig{Pipeline: "editorial", Category: "evidence"},
	})
	require.NoError(t, Dispatch(&Event{Kind: model.EventWorkspaceEnter}, e.ctx, NewFired()))

	atts, err = e.project.ListAttachments(p.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestRuleAuditEntries(t *testing.T) {
	e := setup(t)
	e.addRule(t, &model.Rule{
		Name: "r1", TriggerEvent: model.EventIngest,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "x"},
	})

	f := e.trackFile(t, "a.txt", []byte("x"), "")
	require.NoError(t, Dispatch(fileEvent(model.EventIngest, f), e.ctx, NewFired()))

	entries, err := e.project.ListAudit(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rule", entries[0].Operation)
	assert.Contains(t, entries[0].Detail, `"rule":"r1"`)
	assert.Contains(t, entries[0].Detail, `"trigger":"ingest"`)
}
