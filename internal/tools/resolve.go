// Package tools resolves and executes external tools against tracked
// files. Tools are configured per category scope or per tag, in the
// project store with workspace fallbacks; ambiguity is settled by an
// interactive prompt, or refused outright when no terminal is attached.
package tools

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"muckrake/internal/errdefs"
	"muckrake/internal/logging"
	"muckrake/internal/store"
)

// Candidate is one runnable tool option.
type Candidate struct {
	Label   string
	Command string
	Env     string
	Quiet   bool
}

// Lookup describes a tool search.
type Lookup struct {
	Action   string   // view, edit, or a rule tool name
	FileType string   // extension, or "*"
	RelPath  string   // file path; drives the category scope chain
	Tags     []string // the file's tags
}

// ScopeChain returns candidate category scopes from most specific
// (nearest parent directory) to the default (empty) scope.
func ScopeChain(relPath string) []string {
	var chain []string
	dir := path.Dir(relPath)
	for dir != "." && dir != "/" {
		chain = append(chain, dir)
		dir = path.Dir(dir)
	}
	return append(chain, "")
}

// promptFunc selects among candidates; swapped in tests.
type promptFunc func(candidates []Candidate) (*Candidate, error)

var prompt promptFunc = promptInteractive

// ResolveTool finds the tool to run for a lookup. Category-scope configs
// are consulted from the project store then the workspace store, most
// specific scope first, stopping at the first hit; tag configs from both
// stores are then gathered all at once. More than one surviving candidate
// requires an interactive selection.
func ResolveTool(lookup *Lookup, project *store.ProjectStore, workspace *store.WorkspaceStore) (*Candidate, error) {
	var candidates []Candidate

	category, err := resolveCategoryCandidate(lookup, project, workspace)
	if err != nil {
		return nil, err
	}
	if category != nil {
		candidates = append(candidates, *category)
	}

	tagCandidates, err := resolveTagCandidates(lookup, project, workspace)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, tagCandidates...)

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return &candidates[0], nil
	default:
		return prompt(candidates)
	}
}

func resolveCategoryCandidate(lookup *Lookup, project *store.ProjectStore, workspace *store.WorkspaceStore) (*Candidate, error) {
	chain := ScopeChain(lookup.RelPath)

	for _, scope := range chain {
		row, err := project.GetToolConfig(scope, lookup.Action, lookup.FileType)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return toolConfigCandidate(row, "category"), nil
		}
	}

	if workspace != nil {
		for _, scope := range chain {
			row, err := workspace.GetToolConfig(scope, lookup.Action, lookup.FileType)
			if err != nil {
				return nil, err
			}
			if row != nil {
				return toolConfigCandidate(row, "category(workspace)"), nil
			}
		}
	}
	return nil, nil
}

func resolveTagCandidates(lookup *Lookup, project *store.ProjectStore, workspace *store.WorkspaceStore) ([]Candidate, error) {
	var result []Candidate
	seen := make(map[string]bool)

	projectConfigs, err := project.GetTagToolConfigs(lookup.Tags, lookup.Action, lookup.FileType)
	if err != nil {
		return nil, err
	}
	for i := range projectConfigs {
		seen[projectConfigs[i].Tag] = true
		result = append(result, tagConfigCandidate(&projectConfigs[i]))
	}

	if workspace != nil {
		var remaining []string
		for _, tag := range lookup.Tags {
			if !seen[tag] {
				remaining = append(remaining, tag)
			}
		}
		if len(remaining) > 0 {
			wsConfigs, err := workspace.GetTagToolConfigs(remaining, lookup.Action, lookup.FileType)
			if err != nil {
				return nil, err
			}
			for i := range wsConfigs {
				result = append(result, tagConfigCandidate(&wsConfigs[i]))
			}
		}
	}
	return result, nil
}

func toolConfigCandidate(row *store.ToolConfig, labelPrefix string) *Candidate {
	scope := row.Scope
	if scope == "" {
		scope = "default"
	}
	return &Candidate{
		Label:   labelPrefix + ":" + scope,
		Command: row.Command,
		Env:     row.Env,
		Quiet:   row.Quiet,
	}
}

func tagConfigCandidate(row *store.TagToolConfig) Candidate {
	return Candidate{
		Label:   "tag:" + row.Tag,
		Command: row.Command,
		Env:     row.Env,
		Quiet:   row.Quiet,
	}
}

func promptInteractive(candidates []Candidate) (*Candidate, error) {
	labels := make([]string, len(candidates))
	for i, c := range candidates {
		labels[i] = c.Label
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil, errdefs.AmbiguousToolSelection(labels)
	}

	fmt.Fprintln(os.Stderr, "Multiple tools match:")
	for i, c := range candidates {
		fmt.Fprintf(os.Stderr, "  %d) %s  (%s)\n", i+1, c.Label, c.Command)
	}
	fmt.Fprint(os.Stderr, "Which one? ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil, errdefs.AmbiguousToolSelection(labels)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 1 || idx > len(candidates) {
		return nil, errdefs.AmbiguousToolSelection(labels)
	}
	logging.Get(logging.CategoryTools).Debugw("tool selected", "label", candidates[idx-1].Label)
	return &candidates[idx-1], nil
}

// DefaultTool falls back to the conventional environment viewers when no
// tool config matches a view or edit action.
func DefaultTool(action, configuredPager, configuredEditor string) string {
	switch action {
	case "view":
		if configuredPager != "" {
			return configuredPager
		}
		if p := os.Getenv("PAGER"); p != "" {
			return p
		}
		return "less"
	default:
		if configuredEditor != "" {
			return configuredEditor
		}
		if e := os.Getenv("EDITOR"); e != "" {
			return e
		}
		return "vi"
	}
}
