package tools

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muckrake/internal/errdefs"
	"muckrake/internal/store"
)

func newProject(t *testing.T) *store.ProjectStore {
	t.Helper()
	s, err := store.CreateProject(filepath.Join(t.TempDir(), ".mkrk"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newWorkspace(t *testing.T) *store.WorkspaceStore {
	t.Helper()
	w, err := store.CreateWorkspace(filepath.Join(t.TempDir(), ".mksp"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestScopeChain(t *testing.T) {
	assert.Equal(t,
		[]string{"evidence/financial", "evidence", ""},
		ScopeChain("evidence/financial/receipt.pdf"))
	assert.Equal(t, []string{"evidence", ""}, ScopeChain("evidence/a.pdf"))
	assert.Equal(t, []string{""}, ScopeChain("a.pdf"))
}

func TestResolveToolNone(t *testing.T) {
	project := newProject(t)
	c, err := ResolveTool(&Lookup{Action: "view", FileType: "pdf", RelPath: "evidence/a.pdf"}, project, nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolveToolCategoryScopePrecedence(t *testing.T) {
	project := newProject(t)
	_, err := project.InsertToolConfig(&store.ToolConfig{
		Action: "view", FileType: "pdf", Command: "zathura"})
	require.NoError(t, err)
	_, err = project.InsertToolConfig(&store.ToolConfig{
		Scope: "evidence/financial", Action: "view", FileType: "pdf", Command: "evince"})
	require.NoError(t, err)

	c, err := ResolveTool(&Lookup{
		Action: "view", FileType: "pdf", RelPath: "evidence/financial/receipt.pdf",
	}, project, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "evince", c.Command)
	assert.Equal(t, "category:evidence/financial", c.Label)

	// Outside the scoped directory the default applies.
	c, err = ResolveTool(&Lookup{
		Action: "view", FileType: "pdf", RelPath: "notes/a.pdf",
	}, project, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "zathura", c.Command)
}

func TestResolveToolWorkspaceFallback(t *testing.T) {
	project := newProject(t)
	workspace := newWorkspace(t)
	_, err := workspace.InsertToolConfig(&store.ToolConfig{
		Action: "view", FileType: "pdf", Command: "evince"})
	require.NoError(t, err)

	c, err := ResolveTool(&Lookup{
		Action: "view", FileType: "pdf", RelPath: "evidence/a.pdf",
	}, project, workspace)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "category(workspace):default", c.Label)
}

func TestResolveToolProjectBeatsWorkspace(t *testing.T) {
	project := newProject(t)
	workspace := newWorkspace(t)
	_, err := project.InsertToolConfig(&store.ToolConfig{
		Action: "view", FileType: "pdf", Command: "zathura"})
	require.NoError(t, err)
	_, err = workspace.InsertToolConfig(&store.ToolConfig{
		Action: "view", FileType: "pdf", Command: "evince"})
	require.NoError(t, err)

	c, err := ResolveTool(&Lookup{
		Action: "view", FileType: "pdf", RelPath: "evidence/a.pdf",
	}, project, workspace)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "zathura", c.Command)
}

func TestResolveToolTagCandidatesPrompt(t *testing.T) {
	project := newProject(t)
	_, err := project.InsertTagToolConfig(&store.TagToolConfig{
		Tag: "speech", Action: "view", FileType: "*", Command: "audacity"})
	require.NoError(t, err)
	_, err = project.InsertTagToolConfig(&store.TagToolConfig{
		Tag: "rf", Action: "view", FileType: "*", Command: "gqrx"})
	require.NoError(t, err)

	// Stub the prompt: pick the last candidate.
	orig := prompt
	prompt = func(candidates []Candidate) (*Candidate, error) {
		return &candidates[len(candidates)-1], nil
	}
	defer func() { prompt = orig }()

	c, err := ResolveTool(&Lookup{
		Action: "view", FileType: "wav", RelPath: "evidence/rec.wav",
		Tags: []string{"rf", "speech"},
	}, project, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "audacity", c.Command)
}

func TestResolveToolAmbiguousNonInteractive(t *testing.T) {
	project := newProject(t)
	_, err := project.InsertTagToolConfig(&store.TagToolConfig{
		Tag: "a", Action: "view", FileType: "*", Command: "one"})
	require.NoError(t, err)
	_, err = project.InsertTagToolConfig(&store.TagToolConfig{
		Tag: "b", Action: "view", FileType: "*", Command: "two"})
	require.NoError(t, err)

	orig := prompt
	prompt = func(candidates []Candidate) (*Candidate, error) {
		labels := make([]string, len(candidates))
		for i, c := range candidates {
			labels[i] = c.Label
		}
		return nil, errdefs.AmbiguousToolSelection(labels)
	}
	defer func() { prompt = orig }()

	_, err = ResolveTool(&Lookup{
		Action: "view", FileType: "*", RelPath: "x", Tags: []string{"a", "b"},
	}, project, nil)
	assert.True(t, errdefs.IsAmbiguousToolSelection(err))
}

func TestBuildToolEnvDefaultProxy(t *testing.T) {
	env, err := BuildToolEnv("", "wget", "socks5h://127.0.0.1:9050", true)
	require.NoError(t, err)
	for _, v := range []string{"ALL_PROXY", "HTTPS_PROXY", "HTTP_PROXY"} {
		assert.Equal(t, EnvValue{Value: "socks5h://127.0.0.1:9050"}, env[v])
	}
}

func TestBuildToolEnvOverrides(t *testing.T) {
	env, err := BuildToolEnv(`{"ALL_PROXY": null, "CUSTOM": "yes"}`, "wget", "proxy", true)
	require.NoError(t, err)
	assert.True(t, env["ALL_PROXY"].Remove)
	assert.Equal(t, "yes", env["CUSTOM"].Value)
	assert.Equal(t, "proxy", env["HTTPS_PROXY"].Value)
}

func TestBuildToolEnvRejectsBadJSON(t *testing.T) {
	_, err := BuildToolEnv("{not json", "wget", "proxy", true)
	assert.Error(t, err)
}

func TestConfirmPrivacyRemovalNoProxyTouch(t *testing.T) {
	// Overrides that leave the proxy alone need no confirmation.
	assert.NoError(t, ConfirmPrivacyRemoval("wget", `{"CUSTOM": "x"}`))
	assert.Error(t, ConfirmPrivacyRemoval("wget", "{bad"))
}

func TestDefaultTool(t *testing.T) {
	t.Setenv("PAGER", "")
	t.Setenv("EDITOR", "")
	assert.Equal(t, "less", DefaultTool("view", "", ""))
	assert.Equal(t, "vi", DefaultTool("edit", "", ""))
	assert.Equal(t, "bat", DefaultTool("view", "bat", ""))
	assert.Equal(t, "hx", DefaultTool("edit", "", "hx"))

	t.Setenv("PAGER", "more")
	assert.Equal(t, "more", DefaultTool("view", "", ""))
}
