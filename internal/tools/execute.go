package tools

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"muckrake/internal/discovery"
	"muckrake/internal/errdefs"
	"muckrake/internal/logging"
	"muckrake/internal/store"
)

// ExecuteParams describes one tool invocation.
type ExecuteParams struct {
	ToolName    string
	FileRelPath string // empty for no-file-context invocations
	FileExt     string
	Tags        []string
	ProjectRoot string
	Project     *store.ProjectStore
	Workspace   *discovery.WorkspaceContext
	Proxy       string
}

// ExecuteTool resolves and runs a tool, exporting the MKRK_* context
// variables and the proxy environment. The tool's exit status becomes an
// error; its stdio is inherited.
func ExecuteTool(params *ExecuteParams) error {
	var wsStore *store.WorkspaceStore
	if params.Workspace != nil {
		wsStore = params.Workspace.Store
	}

	fileType := params.FileExt
	if fileType == "" {
		fileType = "*"
	}

	candidate, err := ResolveTool(&Lookup{
		Action:   params.ToolName,
		FileType: fileType,
		RelPath:  params.FileRelPath,
		Tags:     params.Tags,
	}, params.Project, wsStore)
	if err != nil {
		return err
	}
	if candidate == nil {
		if params.FileRelPath != "" {
			return errdefs.NotFound("tool '"+params.ToolName+"' for file", params.FileRelPath)
		}
		return errdefs.NotFound("tool", params.ToolName)
	}

	return RunCandidate(candidate, params)
}

// RunCandidate spawns an already-selected tool.
func RunCandidate(candidate *Candidate, params *ExecuteParams) error {
	env, err := BuildToolEnv(candidate.Env, candidate.Command, params.Proxy, candidate.Quiet)
	if err != nil {
		return err
	}

	parts := strings.Fields(candidate.Command)
	if len(parts) == 0 {
		return errdefs.InvalidReference("tool %q has an empty command", params.ToolName)
	}
	args := parts[1:]

	var absPath string
	if params.FileRelPath != "" {
		absPath = filepath.Join(params.ProjectRoot, params.FileRelPath)
		args = append(args, absPath)
	}

	cmd := exec.Command(parts[0], args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = buildProcessEnv(env, params, absPath)

	logging.Get(logging.CategoryTools).Debugw("running tool",
		"tool", params.ToolName, "command", candidate.Command, "file", params.FileRelPath)

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("tool '%s' exited with status %d", params.ToolName, exitErr.ExitCode())
		}
		return errdefs.IO(fmt.Sprintf("failed to run tool '%s'", params.ToolName), err)
	}
	return nil
}

func buildProcessEnv(overrides map[string]EnvValue, params *ExecuteParams, absPath string) []string {
	removed := make(map[string]bool)
	set := make(map[string]string)
	for key, v := range overrides {
		if v.Remove {
			removed[strings.ToUpper(key)] = true
		} else {
			set[key] = v.Value
		}
	}

	var env []string
	for _, kv := range os.Environ() {
		key := kv[:strings.IndexByte(kv, '=')]
		if removed[strings.ToUpper(key)] {
			continue
		}
		if _, overridden := set[key]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for key, value := range set {
		env = append(env, key+"="+value)
	}

	env = append(env,
		"MKRK_PROJECT_ROOT="+params.ProjectRoot,
		"MKRK_PROJECT_DB="+filepath.Join(params.ProjectRoot, discovery.ProjectMarker),
	)
	if params.Workspace != nil {
		env = append(env, "MKRK_WORKSPACE_ROOT="+params.Workspace.Root)
	}
	if params.FileRelPath != "" {
		env = append(env,
			"MKRK_FILE_REL_PATH="+params.FileRelPath,
			"MKRK_FILE_ABS_PATH="+absPath,
			"MKRK_FILE_EXT="+params.FileExt,
		)
	}
	return env
}
