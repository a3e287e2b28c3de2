package model

import (
	"fmt"
	"time"
)

// TriggerEvent is the event kind a rule listens for.
type TriggerEvent int

const (
	EventIngest TriggerEvent = iota
	EventTag
	EventUntag
	EventCategorize
	EventSign
	EventStateChange
	EventProjectEnter
	EventWorkspaceEnter
)

func (e TriggerEvent) String() string {
	switch e {
	case EventIngest:
		return "ingest"
	case EventTag:
		return "tag"
	case EventUntag:
		return "untag"
	case EventCategorize:
		return "categorize"
	case EventSign:
		return "sign"
	case EventStateChange:
		return "state_change"
	case EventProjectEnter:
		return "project_enter"
	case EventWorkspaceEnter:
		return "workspace_enter"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ParseTriggerEvent converts the stored or CLI string form. Dashed
// spellings are accepted for the multi-word events.
func ParseTriggerEvent(s string) (TriggerEvent, error) {
	switch s {
	case "ingest":
		return EventIngest, nil
	case "tag":
		return EventTag, nil
	case "untag":
		return EventUntag, nil
	case "categorize":
		return EventCategorize, nil
	case "sign":
		return EventSign, nil
	case "state_change", "state-change":
		return EventStateChange, nil
	case "project_enter", "project-enter":
		return EventProjectEnter, nil
	case "workspace_enter", "workspace-enter":
		return EventWorkspaceEnter, nil
	}
	return EventIngest, fmt.Errorf(
		"unknown trigger event: %q (expected: ingest, tag, untag, categorize, sign, state_change, project_enter, workspace_enter)", s)
}

// ActionType is what a rule does when it fires.
type ActionType int

const (
	ActionRunTool ActionType = iota
	ActionAddTag
	ActionRemoveTag
	ActionSign
	ActionUnsign
	ActionAttachPipeline
	ActionDetachPipeline
)

func (a ActionType) String() string {
	switch a {
	case ActionRunTool:
		return "run_tool"
	case ActionAddTag:
		return "add_tag"
	case ActionRemoveTag:
		return "remove_tag"
	case ActionSign:
		return "sign"
	case ActionUnsign:
		return "unsign"
	case ActionAttachPipeline:
		return "attach_pipeline"
	case ActionDetachPipeline:
		return "detach_pipeline"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseActionType converts the stored or CLI string form.
func ParseActionType(s string) (ActionType, error) {
	switch s {
	case "run_tool", "run-tool":
		return ActionRunTool, nil
	case "add_tag", "add-tag":
		return ActionAddTag, nil
	case "remove_tag", "remove-tag":
		return ActionRemoveTag, nil
	case "sign":
		return ActionSign, nil
	case "unsign":
		return ActionUnsign, nil
	case "attach_pipeline", "attach-pipeline":
		return ActionAttachPipeline, nil
	case "detach_pipeline", "detach-pipeline":
		return ActionDetachPipeline, nil
	}
	return ActionRunTool, fmt.Errorf(
		"unknown action type: %q (expected: run-tool, add-tag, remove-tag, sign, unsign, attach-pipeline, detach-pipeline)", s)
}

// TriggerFilter narrows which events a rule fires on. Fields are
// conjunctive; an empty filter matches every event of the trigger kind.
type TriggerFilter struct {
	TagName  string `json:"tag_name,omitempty"`
	Category string `json:"category,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileType string `json:"file_type,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
	SignName string `json:"sign_name,omitempty"`
	State    string `json:"state,omitempty"`
}

// Empty reports whether no filter field is set.
func (f *TriggerFilter) Empty() bool {
	return f.TagName == "" && f.Category == "" && f.MimeType == "" &&
		f.FileType == "" && f.Pipeline == "" && f.SignName == "" && f.State == ""
}

// ActionConfig parameterizes a rule's action. Which fields are required
// depends on the action type and is validated at rule creation.
type ActionConfig struct {
	Tool     string `json:"tool,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
	SignName string `json:"sign_name,omitempty"`
	Category string `json:"category,omitempty"`
}

// Rule is a persisted automation: when TriggerEvent fires and
// TriggerFilter matches, run ActionType with ActionConfig.
type Rule struct {
	ID            int64
	Name          string
	Enabled       bool
	TriggerEvent  TriggerEvent
	TriggerFilter TriggerFilter
	ActionType    ActionType
	ActionConfig  ActionConfig
	Priority      int
	CreatedAt     time.Time
}

// ValidateActionConfig checks the config fields an action type needs.
func (r *Rule) ValidateActionConfig() error {
	switch r.ActionType {
	case ActionRunTool:
		if r.ActionConfig.Tool == "" {
			return fmt.Errorf("run-tool action requires a tool")
		}
	case ActionAddTag, ActionRemoveTag:
		if r.ActionConfig.Tag == "" {
			return fmt.Errorf("%s action requires a tag", r.ActionType)
		}
	case ActionSign, ActionUnsign:
		if r.ActionConfig.Pipeline == "" || r.ActionConfig.SignName == "" {
			return fmt.Errorf("%s action requires pipeline and sign_name", r.ActionType)
		}
	case ActionAttachPipeline, ActionDetachPipeline:
		if r.ActionConfig.Pipeline == "" {
			return fmt.Errorf("%s action requires pipeline", r.ActionType)
		}
		if r.ActionConfig.Category == "" && r.ActionConfig.Tag == "" {
			return fmt.Errorf("%s action requires a category or tag scope", r.ActionType)
		}
	}
	return nil
}
