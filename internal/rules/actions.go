package rules

import (
	"path/filepath"
	"time"

	"muckrake/internal/errdefs"
	"muckrake/internal/ident"
	"muckrake/internal/integrity"
	"muckrake/internal/logging"
	"muckrake/internal/model"
	"muckrake/internal/pipeline"
	"muckrake/internal/store"
	"muckrake/internal/tools"
)

func executeAction(rule *model.Rule, event *Event, ctx *Context, fired map[int64]bool) error {
	switch rule.ActionType {
	case model.ActionRunTool:
		return actionRunTool(rule, event, ctx)
	case model.ActionAddTag:
		return actionAddTag(rule, event, ctx, fired)
	case model.ActionRemoveTag:
		return actionRemoveTag(rule, event, ctx, fired)
	case model.ActionSign:
		return actionSign(rule, event, ctx, fired)
	case model.ActionUnsign:
		return actionUnsign(rule, event, ctx, fired)
	case model.ActionAttachPipeline:
		return actionAttachPipeline(rule, ctx)
	case model.ActionDetachPipeline:
		return actionDetachPipeline(rule, ctx)
	}
	return errdefs.InvalidPipeline("rule '%s' has unknown action", rule.Name)
}

func requireFileContext(event *Event) (*model.TrackedFile, error) {
	if event.File == nil {
		return nil, errdefs.InvalidReference("action requires file context")
	}
	return event.File, nil
}

// actionRunTool never cascades; it executes an external program and logs
// the outcome.
func actionRunTool(rule *model.Rule, event *Event, ctx *Context) error {
	params := &tools.ExecuteParams{
		ToolName:    rule.ActionConfig.Tool,
		ProjectRoot: ctx.ProjectRoot,
		Project:     ctx.Project,
		Workspace:   ctx.Workspace,
		Proxy:       ctx.Proxy,
	}
	if event.File != nil {
		params.FileRelPath = event.File.Path
		params.FileExt = fileExtension(event.File.Path)
		tags, err := ctx.Project.GetTags(event.File.ID)
		if err != nil {
			return err
		}
		params.Tags = tags
	}
	return tools.ExecuteTool(params)
}

func cascadeTagEvent(event *Event, kind model.TriggerEvent, tag string, ctx *Context, fired map[int64]bool) error {
	cascaded := &Event{
		Kind:    kind,
		File:    event.File,
		TagName: tag,
	}
	return Dispatch(cascaded, ctx, fired)
}

func actionAddTag(rule *model.Rule, event *Event, ctx *Context, fired map[int64]bool) error {
	file, err := requireFileContext(event)
	if err != nil {
		return err
	}
	tag := rule.ActionConfig.Tag

	absPath := filepath.Join(ctx.ProjectRoot, file.Path)
	hash, err := integrity.HashFile(absPath)
	if err != nil {
		return err
	}
	if err := ctx.Project.InsertTag(file.ID, tag, hash); err != nil {
		return err
	}
	logging.Get(logging.CategoryRules).Debugw("rule tagged file",
		"rule", rule.Name, "file", file.Name, "tag", tag)
	return cascadeTagEvent(event, model.EventTag, tag, ctx, fired)
}

func actionRemoveTag(rule *model.Rule, event *Event, ctx *Context, fired map[int64]bool) error {
	file, err := requireFileContext(event)
	if err != nil {
		return err
	}
	tag := rule.ActionConfig.Tag

	if err := ctx.Project.RemoveTag(file.ID, tag); err != nil {
		return err
	}
	logging.Get(logging.CategoryRules).Debugw("rule untagged file",
		"rule", rule.Name, "file", file.Name, "tag", tag)
	return cascadeTagEvent(event, model.EventUntag, tag, ctx, fired)
}

func actionSign(rule *model.Rule, event *Event, ctx *Context, fired map[int64]bool) error {
	file, err := requireFileContext(event)
	if err != nil {
		return err
	}
	pipelineName := rule.ActionConfig.Pipeline
	signName := rule.ActionConfig.SignName

	p, err := lookupPipeline(ctx.Project, pipelineName)
	if err != nil {
		return err
	}

	absPath := filepath.Join(ctx.ProjectRoot, file.Path)
	currentHash, err := integrity.HashFile(absPath)
	if err != nil {
		return err
	}

	oldState, err := pipelineFileState(ctx.Project, file.ID, p, currentHash)
	if err != nil {
		return err
	}

	_, err = ctx.Project.InsertSign(&model.Sign{
		PipelineID: p.ID,
		FileID:     file.ID,
		FileHash:   currentHash,
		SignName:   signName,
		Signer:     ident.Whoami(),
		SignedAt:   time.Now(),
		Source:     "rule:" + rule.Name,
	})
	if err != nil {
		return err
	}
	logging.Get(logging.CategoryRules).Debugw("rule signed file",
		"rule", rule.Name, "file", file.Name, "sign", signName, "pipeline", pipelineName)

	newState, err := pipelineFileState(ctx.Project, file.ID, p, currentHash)
	if err != nil {
		return err
	}

	// The sign cascade always fires; a state_change cascade follows only
	// when the derived state actually moved.
	if err := firePipelineCascade(event, pipelineName, signName, newState, ctx, fired); err != nil {
		return err
	}
	if oldState != newState {
		return firePipelineCascade(event, pipelineName, "", newState, ctx, fired)
	}
	return nil
}

func actionUnsign(rule *model.Rule, event *Event, ctx *Context, fired map[int64]bool) error {
	file, err := requireFileContext(event)
	if err != nil {
		return err
	}
	pipelineName := rule.ActionConfig.Pipeline
	signName := rule.ActionConfig.SignName

	p, err := lookupPipeline(ctx.Project, pipelineName)
	if err != nil {
		return err
	}

	existing, err := ctx.Project.FindSign(file.ID, p.ID, signName)
	if err != nil {
		return err
	}
	if existing == nil {
		logging.Get(logging.CategoryRules).Debugw("no active sign to revoke",
			"rule", rule.Name, "file", file.Name, "sign", signName)
		return nil
	}

	// Pre and post state use the same current hash; if the file changed
	// since signing, both derive to the initial state and no cascade fires.
	currentHash := file.SHA256
	absPath := filepath.Join(ctx.ProjectRoot, file.Path)
	if hash, err := integrity.HashFile(absPath); err == nil {
		currentHash = hash
	}

	oldState, err := pipelineFileState(ctx.Project, file.ID, p, currentHash)
	if err != nil {
		return err
	}

	if _, err := ctx.Project.RevokeSign(existing.ID, time.Now()); err != nil {
		return err
	}
	logging.Get(logging.CategoryRules).Debugw("rule revoked sign",
		"rule", rule.Name, "file", file.Name, "sign", signName)

	newState, err := pipelineFileState(ctx.Project, file.ID, p, currentHash)
	if err != nil {
		return err
	}
	if oldState != newState {
		return firePipelineCascade(event, pipelineName, "", newState, ctx, fired)
	}
	return nil
}

// actionAttachPipeline is idempotent and never cascades.
func actionAttachPipeline(rule *model.Rule, ctx *Context) error {
	p, err := lookupPipeline(ctx.Project, rule.ActionConfig.Pipeline)
	if err != nil {
		return err
	}
	scope, value := pipelineScope(&rule.ActionConfig)
	return ctx.Project.AttachPipeline(p.ID, scope, value)
}

func actionDetachPipeline(rule *model.Rule, ctx *Context) error {
	p, err := lookupPipeline(ctx.Project, rule.ActionConfig.Pipeline)
	if err != nil {
		return err
	}
	scope, value := pipelineScope(&rule.ActionConfig)
	_, err = ctx.Project.DetachPipeline(p.ID, scope, value)
	return err
}

// pipelineScope picks the attachment scope from the action config; the
// category wins when both are present. Config validation guarantees at
// least one is set.
func pipelineScope(config *model.ActionConfig) (model.AttachmentScope, string) {
	if config.Category != "" {
		return model.ScopeCategory, config.Category
	}
	return model.ScopeTag, config.Tag
}

func firePipelineCascade(event *Event, pipelineName, signName, newState string, ctx *Context, fired map[int64]bool) error {
	kind := model.EventStateChange
	if signName != "" {
		kind = model.EventSign
	}
	cascaded := &Event{
		Kind:         kind,
		File:         event.File,
		PipelineName: pipelineName,
		SignName:     signName,
		NewState:     newState,
	}
	return Dispatch(cascaded, ctx, fired)
}

func lookupPipeline(db *store.ProjectStore, name string) (*model.Pipeline, error) {
	p, err := db.GetPipelineByName(name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errdefs.NotFound("pipeline", name)
	}
	return p, nil
}

func pipelineFileState(db *store.ProjectStore, fileID int64, p *model.Pipeline, currentHash string) (string, error) {
	signs, err := db.GetSignsForFilePipeline(fileID, p.ID)
	if err != nil {
		return "", err
	}
	return pipeline.DeriveFileState(p, signs, currentHash).CurrentState, nil
}
