// Package rules implements the event-driven automation engine. Rules fire
// on user-level events (ingest, tag, sign, ...) and their actions may
// synthesize further events which dispatch recursively on the same call
// stack. A fired set threaded through every recursive call guarantees
// each rule executes at most once per logical user event, which is what
// keeps mutually-triggering rules from looping.
//
// Action failures are logged and never abort the dispatch loop: rules are
// side-channel automation, not transactional with the user's command.
package rules

import (
	"encoding/json"
	"strings"

	"muckrake/internal/discovery"
	"muckrake/internal/ident"
	"muckrake/internal/logging"
	"muckrake/internal/model"
	"muckrake/internal/store"
)

// Context carries what actions need to execute.
type Context struct {
	ProjectRoot string
	Project     *store.ProjectStore
	Workspace   *discovery.WorkspaceContext
	Proxy       string
}

// Event is one dispatchable occurrence. File is nil for lifecycle events
// (project_enter, workspace_enter).
type Event struct {
	Kind         model.TriggerEvent
	File         *model.TrackedFile
	TagName      string
	PipelineName string
	SignName     string
	NewState     string
}

// NewFired returns an empty fired set for one logical user event.
func NewFired() map[int64]bool {
	return make(map[int64]bool)
}

// Dispatch evaluates all enabled rules matching the event, in priority
// order, executing each at most once across the entire cascade.
func Dispatch(event *Event, ctx *Context, fired map[int64]bool) error {
	matched, err := ctx.Project.GetMatchingRules(event.Kind)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		return nil
	}

	log := logging.Get(logging.CategoryRules)
	for i := range matched {
		rule := &matched[i]
		if fired[rule.ID] {
			continue
		}
		if !matchesFilter(&rule.TriggerFilter, event, ctx.Project) {
			continue
		}
		fired[rule.ID] = true

		log.Debugw("rule triggered", "rule", rule.Name, "event", event.Kind.String())
		if err := executeAction(rule, event, ctx, fired); err != nil {
			log.Warnw("rule action failed", "rule", rule.Name, "err", err)
			continue
		}
		auditRule(ctx.Project, event, rule)
	}
	return nil
}

func auditRule(db *store.ProjectStore, event *Event, rule *model.Rule) {
	detail, _ := json.Marshal(map[string]string{
		"rule":    rule.Name,
		"trigger": event.Kind.String(),
		"action":  rule.ActionType.String(),
	})
	var fileID *int64
	if event.File != nil {
		fileID = &event.File.ID
	}
	_ = db.InsertAudit("rule", fileID, ident.Whoami(), string(detail))
}

// matchesFilter applies the conjunctive trigger filter. Filter fields
// that require file context fail against events with no file.
func matchesFilter(filter *model.TriggerFilter, event *Event, db *store.ProjectStore) bool {
	if filter.Category != "" {
		if event.File == nil || !matchesCategory(filter.Category, event.File.Path, db) {
			return false
		}
	}
	if filter.MimeType != "" {
		if event.File == nil || !matchesMime(filter.MimeType, event.File.MimeType) {
			return false
		}
	}
	if filter.FileType != "" {
		if event.File == nil || !strings.EqualFold(fileExtension(event.File.Path), filter.FileType) {
			return false
		}
	}
	return matchesOptional(filter.TagName, event.TagName) &&
		matchesOptional(filter.Pipeline, event.PipelineName) &&
		matchesOptional(filter.SignName, event.SignName) &&
		matchesOptional(filter.State, event.NewState)
}

func matchesOptional(filterValue, eventValue string) bool {
	return filterValue == "" || filterValue == eventValue
}

func matchesCategory(categoryName, relPath string, db *store.ProjectStore) bool {
	cat, err := db.GetCategoryByName(categoryName)
	if err != nil || cat == nil {
		return false
	}
	return cat.Matches(relPath)
}

// matchesMime supports exact matches plus the "image/" and "image/*"
// prefix forms.
func matchesMime(filterMime, fileMime string) bool {
	if filterMime == fileMime {
		return true
	}
	if strings.HasSuffix(filterMime, "/") {
		return strings.HasPrefix(fileMime, filterMime)
	}
	if strings.HasSuffix(filterMime, "/*") {
		return strings.HasPrefix(fileMime, filterMime[:len(filterMime)-1])
	}
	return false
}

func fileExtension(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
