package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muckrake/internal/errdefs"
	"muckrake/internal/model"
)

func newTestProject(t *testing.T) *ProjectStore {
	t.Helper()
	s, err := CreateProject(filepath.Join(t.TempDir(), ".mkrk"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testFile(name, path string) *model.TrackedFile {
	return &model.TrackedFile{
		Name:       name,
		Path:       path,
		SHA256:     "abc123",
		MimeType:   "application/pdf",
		Size:       1024,
		IngestedAt: time.Now(),
	}
}

func TestCreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mkrk")
	s, err := CreateProject(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenProject(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpenMissingProject(t *testing.T) {
	_, err := OpenProject(filepath.Join(t.TempDir(), ".mkrk"))
	assert.True(t, errdefs.IsNotFound(err))
}

func TestFileCRUD(t *testing.T) {
	s := newTestProject(t)

	id, err := s.InsertFile(testFile("test.pdf", "evidence/test.pdf"))
	require.NoError(t, err)
	assert.Positive(t, id)

	byPath, err := s.GetFileByPath("evidence/test.pdf")
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "test.pdf", byPath.Name)
	assert.Equal(t, "abc123", byPath.SHA256)

	byName, err := s.GetFileByName("test.pdf")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, "evidence/test.pdf", byName.Path)

	byID, err := s.GetFileByID(id)
	require.NoError(t, err)
	assert.Equal(t, byPath.Path, byID.Path)

	files, err := s.ListFiles("")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	files, err = s.ListFiles("evidence/")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	files, err = s.ListFiles("notes/")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFilePathUniqueness(t *testing.T) {
	s := newTestProject(t)
	_, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)
	_, err = s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	assert.True(t, errdefs.IsAlreadyExists(err))
}

func TestGetFileByNameAmbiguous(t *testing.T) {
	s := newTestProject(t)
	_, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)
	_, err = s.InsertFile(testFile("a.pdf", "notes/a.pdf"))
	require.NoError(t, err)

	_, err = s.GetFileByName("a.pdf")
	assert.True(t, errdefs.IsAmbiguousMatch(err))
}

func TestUpdateFilePathRenamesFile(t *testing.T) {
	s := newTestProject(t)
	id, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateFilePath(id, "notes/a.pdf"))
	f, err := s.GetFileByID(id)
	require.NoError(t, err)
	assert.Equal(t, "notes/a.pdf", f.Path)
	assert.Equal(t, "a.pdf", f.Name)
}

func TestRemoveFileCascades(t *testing.T) {
	s := newTestProject(t)
	id, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)
	require.NoError(t, s.InsertTag(id, "classified", "h1"))

	states := []string{"draft", "done"}
	pid, err := s.InsertPipeline(&model.Pipeline{
		Name: "p", States: states, Transitions: model.DefaultTransitions(states)})
	require.NoError(t, err)
	_, err = s.InsertSign(&model.Sign{
		PipelineID: pid, FileID: id, FileHash: "abc123",
		SignName: "done", Signer: "alice", SignedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.RemoveFile(id))

	tags, err := s.GetTags(id)
	require.NoError(t, err)
	assert.Empty(t, tags)
	signs, err := s.GetSignsForFile(id)
	require.NoError(t, err)
	assert.Empty(t, signs)
}

func TestTagCRUDWithHashSnapshot(t *testing.T) {
	s := newTestProject(t)
	id, err := s.InsertFile(testFile("rec.wav", "evidence/rec.wav"))
	require.NoError(t, err)

	require.NoError(t, s.InsertTag(id, "speech", "h1"))
	require.NoError(t, s.InsertTag(id, "rf", "h1"))

	tags, err := s.GetTags(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"rf", "speech"}, tags)

	hash, ok, err := s.GetTagHash(id, "speech")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h1", hash)

	// Re-tagging refreshes the snapshot.
	require.NoError(t, s.InsertTag(id, "speech", "h2"))
	hash, ok, err = s.GetTagHash(id, "speech")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h2", hash)

	require.NoError(t, s.RemoveTag(id, "rf"))
	tags, err = s.GetTags(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"speech"}, tags)

	_, ok, err = s.GetTagHash(id, "rf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTagUntagRoundTrip(t *testing.T) {
	s := newTestProject(t)
	id, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)
	require.NoError(t, s.InsertTag(id, "keep", "h"))

	before, err := s.GetTags(id)
	require.NoError(t, err)

	require.NoError(t, s.InsertTag(id, "temp", "h"))
	require.NoError(t, s.RemoveTag(id, "temp"))

	after, err := s.GetTags(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestListFilesFilteredTagGroups(t *testing.T) {
	s := newTestProject(t)
	a, _ := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	b, _ := s.InsertFile(testFile("b.pdf", "evidence/b.pdf"))
	c, _ := s.InsertFile(testFile("c.pdf", "evidence/c.pdf"))
	require.NoError(t, s.InsertTag(a, "classified", "h"))
	require.NoError(t, s.InsertTag(a, "priority", "h"))
	require.NoError(t, s.InsertTag(b, "classified", "h"))
	require.NoError(t, s.InsertTag(c, "priority", "h"))

	// (classified) AND (priority) -> only a.pdf
	files, err := s.ListFilesFiltered("", [][]string{{"classified"}, {"priority"}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.pdf", files[0].Name)

	// (classified OR priority) -> all three
	files, err = s.ListFilesFiltered("", [][]string{{"classified", "priority"}})
	require.NoError(t, err)
	assert.Len(t, files, 3)

	// prefix narrows before tags apply
	files, err = s.ListFilesFiltered("notes/", [][]string{{"classified"}})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCategorySpecificityTieBreak(t *testing.T) {
	s := newTestProject(t)
	_, err := s.InsertCategory(
		&model.Category{Pattern: "evidence/**"}, model.Immutable)
	require.NoError(t, err)
	_, err = s.InsertCategory(
		&model.Category{Pattern: "evidence/financial/**"}, model.Protected)
	require.NoError(t, err)

	cat, err := s.MatchCategory("evidence/financial/receipt.pdf")
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.Equal(t, "evidence/financial/**", cat.Pattern)

	level, err := s.ResolveProtection("evidence/financial/receipt.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.Protected, level)

	level, err = s.ResolveProtection("evidence/photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, model.Immutable, level)

	level, err = s.ResolveProtection("elsewhere/x.txt")
	require.NoError(t, err)
	assert.Equal(t, model.Editable, level)
}

func TestCategoryNameDerived(t *testing.T) {
	s := newTestProject(t)
	_, err := s.InsertCategory(&model.Category{Pattern: "evidence/**"}, model.Immutable)
	require.NoError(t, err)

	cat, err := s.GetCategoryByName("evidence")
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.Equal(t, "evidence/**", cat.Pattern)
}

func TestRemoveCategoryRefusedWithFiles(t *testing.T) {
	s := newTestProject(t)
	_, err := s.InsertCategory(&model.Category{Pattern: "evidence/**"}, model.Editable)
	require.NoError(t, err)
	_, err = s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)

	err = s.RemoveCategory("evidence/**")
	assert.True(t, errdefs.IsProtectionViolation(err))
}

func TestUpdateCategoryPolicy(t *testing.T) {
	s := newTestProject(t)
	id, err := s.InsertCategory(&model.Category{Pattern: "notes/**"}, model.Editable)
	require.NoError(t, err)

	require.NoError(t, s.UpdateCategoryPolicy(id, model.Protected))
	level, err := s.GetPolicyForCategory(id)
	require.NoError(t, err)
	assert.Equal(t, model.Protected, level)
}

func TestPipelineRoundTrip(t *testing.T) {
	s := newTestProject(t)
	states := []string{"draft", "reviewed", "published"}
	p := &model.Pipeline{
		Name:   "editorial",
		States: states,
		Transitions: map[string][]string{
			"reviewed":  {"editor", "legal"},
			"published": {"publisher"},
		},
	}
	_, err := s.InsertPipeline(p)
	require.NoError(t, err)

	got, err := s.GetPipelineByName("editorial")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, states, got.States)
	assert.Equal(t, p.Transitions, got.Transitions)

	_, err = s.InsertPipeline(p)
	assert.True(t, errdefs.IsAlreadyExists(err))
}

func TestPipelineValidationRejectedAtInsert(t *testing.T) {
	s := newTestProject(t)
	_, err := s.InsertPipeline(&model.Pipeline{Name: "bad", States: []string{"one"}})
	assert.True(t, errdefs.IsInvalidPipeline(err))
}

func TestPipelineRemoveCascades(t *testing.T) {
	s := newTestProject(t)
	states := []string{"draft", "done"}
	pid, err := s.InsertPipeline(&model.Pipeline{
		Name: "p", States: states, Transitions: model.DefaultTransitions(states)})
	require.NoError(t, err)
	fid, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)

	require.NoError(t, s.AttachPipeline(pid, model.ScopeTag, "classified"))
	_, err = s.InsertSign(&model.Sign{
		PipelineID: pid, FileID: fid, FileHash: "abc123",
		SignName: "done", Signer: "alice", SignedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.RemovePipeline("p"))

	signs, err := s.GetSignsForFile(fid)
	require.NoError(t, err)
	assert.Empty(t, signs)

	assert.True(t, errdefs.IsNotFound(s.RemovePipeline("p")))
}

func TestAttachmentIdempotent(t *testing.T) {
	s := newTestProject(t)
	states := []string{"a", "b"}
	pid, err := s.InsertPipeline(&model.Pipeline{
		Name: "p", States: states, Transitions: model.DefaultTransitions(states)})
	require.NoError(t, err)

	require.NoError(t, s.AttachPipeline(pid, model.ScopeCategory, "evidence"))
	require.NoError(t, s.AttachPipeline(pid, model.ScopeCategory, "evidence"))

	atts, err := s.ListAttachments(pid)
	require.NoError(t, err)
	assert.Len(t, atts, 1)

	n, err := s.DetachPipeline(pid, model.ScopeCategory, "evidence")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DetachPipeline(pid, model.ScopeCategory, "evidence")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetPipelinesForFile(t *testing.T) {
	s := newTestProject(t)
	states := []string{"a", "b"}
	viaCat, err := s.InsertPipeline(&model.Pipeline{
		Name: "via-cat", States: states, Transitions: model.DefaultTransitions(states)})
	require.NoError(t, err)
	viaTag, err := s.InsertPipeline(&model.Pipeline{
		Name: "via-tag", States: states, Transitions: model.DefaultTransitions(states)})
	require.NoError(t, err)
	both, err := s.InsertPipeline(&model.Pipeline{
		Name: "both", States: states, Transitions: model.DefaultTransitions(states)})
	require.NoError(t, err)

	require.NoError(t, s.AttachPipeline(viaCat, model.ScopeCategory, "evidence"))
	require.NoError(t, s.AttachPipeline(viaTag, model.ScopeTag, "classified"))
	require.NoError(t, s.AttachPipeline(both, model.ScopeCategory, "evidence"))
	require.NoError(t, s.AttachPipeline(both, model.ScopeTag, "classified"))

	categories := []model.Category{{Name: "evidence", Pattern: "evidence/**"}}

	pipelines, err := s.GetPipelinesForFile("evidence/a.pdf", categories, []string{"classified"})
	require.NoError(t, err)
	names := pipelineNames(pipelines)
	assert.ElementsMatch(t, []string{"via-cat", "via-tag", "both"}, names)

	// Outside the category, only the tag attachment applies.
	pipelines, err = s.GetPipelinesForFile("notes/a.pdf", categories, []string{"classified"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"via-tag", "both"}, pipelineNames(pipelines))

	// No tags, no category match: nothing.
	pipelines, err = s.GetPipelinesForFile("notes/a.pdf", categories, nil)
	require.NoError(t, err)
	assert.Empty(t, pipelines)
}

func pipelineNames(pipelines []model.Pipeline) []string {
	names := make([]string, len(pipelines))
	for i := range pipelines {
		names[i] = pipelines[i].Name
	}
	return names
}

func TestSignLifecycle(t *testing.T) {
	s := newTestProject(t)
	states := []string{"draft", "done"}
	pid, err := s.InsertPipeline(&model.Pipeline{
		Name: "p", States: states, Transitions: model.DefaultTransitions(states)})
	require.NoError(t, err)
	fid, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	_, err = s.InsertSign(&model.Sign{
		PipelineID: pid, FileID: fid, FileHash: "h1",
		SignName: "done", Signer: "alice", SignedAt: base})
	require.NoError(t, err)
	secondID, err := s.InsertSign(&model.Sign{
		PipelineID: pid, FileID: fid, FileHash: "h2",
		SignName: "done", Signer: "bob", SignedAt: base.Add(time.Minute),
		Source: "rule:auto"})
	require.NoError(t, err)

	// FindSign returns the most recent non-revoked sign.
	found, err := s.FindSign(fid, pid, "done")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, secondID, found.ID)
	assert.Equal(t, "rule:auto", found.Source)

	n, err := s.RevokeSign(secondID, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Revoking twice is a no-op.
	n, err = s.RevokeSign(secondID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	found, err = s.FindSign(fid, pid, "done")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "alice", found.Signer)

	all, err := s.GetSignsForFile(fid)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	count, err := s.SignCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRuleCRUDAndOrdering(t *testing.T) {
	s := newTestProject(t)

	mk := func(name string, priority int, enabled bool) *model.Rule {
		return &model.Rule{
			Name: name, Enabled: enabled, TriggerEvent: model.EventIngest,
			ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "x"},
			Priority: priority, CreatedAt: time.Now(),
		}
	}

	_, err := s.InsertRule(mk("low", 1, true))
	require.NoError(t, err)
	_, err = s.InsertRule(mk("high", 10, true))
	require.NoError(t, err)
	_, err = s.InsertRule(mk("high-later", 10, true))
	require.NoError(t, err)
	_, err = s.InsertRule(mk("disabled", 99, false))
	require.NoError(t, err)
	_, err = s.InsertRule(&model.Rule{
		Name: "other-event", Enabled: true, TriggerEvent: model.EventTag,
		ActionType: model.ActionAddTag, ActionConfig: model.ActionConfig{Tag: "y"},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	rules, err := s.GetMatchingRules(model.EventIngest)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "high", rules[0].Name)
	assert.Equal(t, "high-later", rules[1].Name)
	assert.Equal(t, "low", rules[2].Name)

	require.NoError(t, s.SetRuleEnabled("disabled", true))
	rules, err = s.GetMatchingRules(model.EventIngest)
	require.NoError(t, err)
	assert.Len(t, rules, 4)
	assert.Equal(t, "disabled", rules[0].Name)

	require.NoError(t, s.RemoveRule("low"))
	assert.True(t, errdefs.IsNotFound(s.RemoveRule("low")))
}

func TestRuleRejectsBadActionConfig(t *testing.T) {
	s := newTestProject(t)
	_, err := s.InsertRule(&model.Rule{
		Name: "bad", Enabled: true, TriggerEvent: model.EventIngest,
		ActionType: model.ActionRunTool, CreatedAt: time.Now(),
	})
	assert.Error(t, err)
}

func TestToolConfigResolutionOrder(t *testing.T) {
	s := newTestProject(t)

	_, err := s.InsertToolConfig(&ToolConfig{Action: "view", FileType: "*", Command: "less"})
	require.NoError(t, err)
	_, err = s.InsertToolConfig(&ToolConfig{Action: "view", FileType: "pdf", Command: "zathura"})
	require.NoError(t, err)
	_, err = s.InsertToolConfig(&ToolConfig{Scope: "evidence", Action: "view", FileType: "pdf", Command: "evince"})
	require.NoError(t, err)

	// Scoped beats default, exact file type beats wildcard.
	c, err := s.GetToolConfig("evidence", "view", "pdf")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "evince", c.Command)

	c, err = s.GetToolConfig("", "view", "pdf")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "zathura", c.Command)

	c, err = s.GetToolConfig("", "view", "txt")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "less", c.Command)

	c, err = s.GetToolConfig("", "edit", "txt")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestTagToolConfigs(t *testing.T) {
	s := newTestProject(t)
	_, err := s.InsertTagToolConfig(&TagToolConfig{
		Tag: "speech", Action: "view", FileType: "wav", Command: "audacity"})
	require.NoError(t, err)
	_, err = s.InsertTagToolConfig(&TagToolConfig{
		Tag: "rf", Action: "view", FileType: "*", Command: "gqrx", Quiet: true})
	require.NoError(t, err)

	configs, err := s.GetTagToolConfigs([]string{"speech", "rf"}, "view", "wav")
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "gqrx", configs[0].Command) // rf sorts first
	assert.True(t, configs[0].Quiet)

	configs, err = s.GetTagToolConfigs(nil, "view", "wav")
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestAuditLog(t *testing.T) {
	s := newTestProject(t)
	fid, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)

	require.NoError(t, s.InsertAudit("ingest", &fid, "alice", `{"method":"ingest"}`))
	require.NoError(t, s.InsertAudit("verify", nil, "alice", ""))

	entries, err := s.ListAudit(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "verify", entries[0].Operation)
	assert.Nil(t, entries[0].FileID)
	assert.Equal(t, "ingest", entries[1].Operation)
	require.NotNil(t, entries[1].FileID)
	assert.Equal(t, fid, *entries[1].FileID)

	last, err := s.LastVerifyTime()
	require.NoError(t, err)
	assert.NotNil(t, last)
}

func TestAuditDoesNotBlockFileDeletion(t *testing.T) {
	s := newTestProject(t)
	fid, err := s.InsertFile(testFile("a.pdf", "evidence/a.pdf"))
	require.NoError(t, err)
	require.NoError(t, s.InsertAudit("ingest", &fid, "alice", ""))

	require.NoError(t, s.RemoveFile(fid))

	entries, err := s.ListAudit(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCounts(t *testing.T) {
	s := newTestProject(t)
	for _, count := range []func() (int64, error){
		s.FileCount, s.CategoryCount, s.TagCount, s.PipelineCount, s.SignCount,
	} {
		n, err := count()
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mkrk")
	s, err := CreateProject(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening re-runs initialize + migrations without error.
	for range 3 {
		s, err = OpenProject(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
}
