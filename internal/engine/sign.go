package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"muckrake/internal/discovery"
	"muckrake/internal/errdefs"
	"muckrake/internal/ident"
	"muckrake/internal/integrity"
	"muckrake/internal/logging"
	"muckrake/internal/model"
	"muckrake/internal/pipeline"
	"muckrake/internal/refs"
	"muckrake/internal/rules"
	"muckrake/internal/store"
)

// SignParams configures a user-level sign operation.
type SignParams struct {
	Reference    string
	SignName     string
	PipelineName string // empty means "the only applicable pipeline"
	GPG          bool   // capture a detached armored gpg signature
	Proxy        string
}

// Sign records an approval for the single file named by the reference:
// it re-hashes the file, resolves the target pipeline from attachments,
// validates the sign name, inserts the sign, audits, and dispatches sign
// (and state_change, when the derived state moved) rule events.
func Sign(ctx *discovery.Context, params *SignParams) (*model.Sign, error) {
	projectRoot, project, err := ctx.RequireProject()
	if err != nil {
		return nil, err
	}

	resolved, err := refs.ResolveOne(params.Reference, ctx)
	if err != nil {
		return nil, err
	}
	file := resolved.File

	absPath := filepath.Join(projectRoot, file.Path)
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, errdefs.NotFound("file on disk", file.Path)
	}
	currentHash, err := integrity.HashFile(absPath)
	if err != nil {
		return nil, err
	}

	p, err := ResolveFilePipeline(project, &file, params.PipelineName)
	if err != nil {
		return nil, err
	}
	if err := validateSignName(params.SignName, p); err != nil {
		return nil, err
	}

	var signature string
	if params.GPG {
		signature, err = createGPGSignature(absPath)
		if err != nil {
			return nil, err
		}
	}

	oldState, err := derivedState(project, file.ID, p, currentHash)
	if err != nil {
		return nil, err
	}

	sign := &model.Sign{
		PipelineID: p.ID,
		FileID:     file.ID,
		FileHash:   currentHash,
		SignName:   params.SignName,
		Signer:     ident.Whoami(),
		SignedAt:   time.Now(),
		Signature:  signature,
	}
	id, err := project.InsertSign(sign)
	if err != nil {
		return nil, err
	}
	sign.ID = id

	detail, _ := json.Marshal(map[string]string{
		"pipeline": p.Name, "sign_name": params.SignName,
	})
	if err := project.InsertAudit("sign", &file.ID, sign.Signer, string(detail)); err != nil {
		return nil, err
	}

	newState, err := derivedState(project, file.ID, p, currentHash)
	if err != nil {
		return nil, err
	}

	dispatchPipelineEvents(ctx, projectRoot, project, &file, p.Name,
		params.SignName, oldState, newState, params.Proxy)
	return sign, nil
}

// Unsign revokes the most recent non-revoked sign for (file, pipeline,
// sign name) and dispatches state_change when the derived state moved.
func Unsign(ctx *discovery.Context, reference, signName, pipelineName, proxy string) error {
	projectRoot, project, err := ctx.RequireProject()
	if err != nil {
		return err
	}

	resolved, err := refs.ResolveOne(reference, ctx)
	if err != nil {
		return err
	}
	file := resolved.File

	p, err := ResolveFilePipeline(project, &file, pipelineName)
	if err != nil {
		return err
	}

	sign, err := project.FindSign(file.ID, p.ID, signName)
	if err != nil {
		return err
	}
	if sign == nil {
		return errdefs.NotFound(
			fmt.Sprintf("active sign '%s' for '%s' in pipeline", signName, file.Path), p.Name)
	}

	// One current hash derives both pre and post state. A file modified
	// since signing already derives to the initial state on both sides,
	// so no state_change cascade fires for it.
	currentHash := file.SHA256
	absPath := filepath.Join(projectRoot, file.Path)
	if hash, err := integrity.HashFile(absPath); err == nil {
		currentHash = hash
	}

	oldState, err := derivedState(project, file.ID, p, currentHash)
	if err != nil {
		return err
	}

	if _, err := project.RevokeSign(sign.ID, time.Now()); err != nil {
		return err
	}

	detail, _ := json.Marshal(map[string]string{
		"pipeline": p.Name, "sign_name": signName,
	})
	if err := project.InsertAudit("unsign", &file.ID, ident.Whoami(), string(detail)); err != nil {
		return err
	}

	newState, err := derivedState(project, file.ID, p, currentHash)
	if err != nil {
		return err
	}
	if oldState != newState {
		dispatchPipelineEvents(ctx, projectRoot, project, &file, p.Name, "", oldState, newState, proxy)
	}
	return nil
}

// FileState derives the state of a file in one pipeline using the
// current on-disk hash (falling back to the stored hash when the file is
// gone).
func FileState(projectRoot string, project *store.ProjectStore, file *model.TrackedFile, p *model.Pipeline) (pipeline.FileState, error) {
	currentHash := file.SHA256
	absPath := filepath.Join(projectRoot, file.Path)
	if hash, err := integrity.HashFile(absPath); err == nil {
		currentHash = hash
	}
	signs, err := project.GetSignsForFilePipeline(file.ID, p.ID)
	if err != nil {
		return pipeline.FileState{}, err
	}
	return pipeline.DeriveFileState(p, signs, currentHash), nil
}

// ResolveFilePipeline determines the target pipeline for a file: the
// named one (which must be attached), the only applicable one, or an
// AmbiguousPipeline failure.
func ResolveFilePipeline(project *store.ProjectStore, file *model.TrackedFile, pipelineName string) (*model.Pipeline, error) {
	categories, err := project.ListCategories()
	if err != nil {
		return nil, err
	}
	tags, err := project.GetTags(file.ID)
	if err != nil {
		return nil, err
	}
	pipelines, err := project.GetPipelinesForFile(file.Path, categories, tags)
	if err != nil {
		return nil, err
	}

	if pipelineName != "" {
		for i := range pipelines {
			if pipelines[i].Name == pipelineName {
				return &pipelines[i], nil
			}
		}
		return nil, errdefs.NotFound(
			fmt.Sprintf("pipeline '%s' attached to", pipelineName), file.Path)
	}

	switch len(pipelines) {
	case 0:
		return nil, errdefs.NotFound("pipeline attached to", file.Path)
	case 1:
		return &pipelines[0], nil
	default:
		names := make([]string, len(pipelines))
		for i := range pipelines {
			names[i] = pipelines[i].Name
		}
		return nil, errdefs.AmbiguousPipeline(file.Path, names)
	}
}

// ApplicablePipelines returns every pipeline governing the file,
// optionally filtered by name.
func ApplicablePipelines(project *store.ProjectStore, file *model.TrackedFile, pipelineName string) ([]model.Pipeline, error) {
	categories, err := project.ListCategories()
	if err != nil {
		return nil, err
	}
	tags, err := project.GetTags(file.ID)
	if err != nil {
		return nil, err
	}
	pipelines, err := project.GetPipelinesForFile(file.Path, categories, tags)
	if err != nil {
		return nil, err
	}
	if pipelineName == "" {
		return pipelines, nil
	}
	var filtered []model.Pipeline
	for i := range pipelines {
		if pipelines[i].Name == pipelineName {
			filtered = append(filtered, pipelines[i])
		}
	}
	return filtered, nil
}

func validateSignName(signName string, p *model.Pipeline) error {
	for _, name := range p.RequiredSignNames() {
		if name == signName {
			return nil
		}
	}
	return errdefs.InvalidPipeline(
		"sign name '%s' is not used by any transition in pipeline '%s'", signName, p.Name)
}

func derivedState(project *store.ProjectStore, fileID int64, p *model.Pipeline, currentHash string) (string, error) {
	signs, err := project.GetSignsForFilePipeline(fileID, p.ID)
	if err != nil {
		return "", err
	}
	return pipeline.DeriveFileState(p, signs, currentHash).CurrentState, nil
}

func dispatchPipelineEvents(ctx *discovery.Context, projectRoot string, project *store.ProjectStore,
	file *model.TrackedFile, pipelineName, signName, oldState, newState, proxy string) {

	ruleCtx := &rules.Context{
		ProjectRoot: projectRoot, Project: project, Workspace: ctx.Workspace, Proxy: proxy,
	}
	fired := rules.NewFired()

	if signName != "" {
		if err := rules.Dispatch(&rules.Event{
			Kind: model.EventSign, File: file,
			PipelineName: pipelineName, SignName: signName, NewState: newState,
		}, ruleCtx, fired); err != nil {
			logging.Get(logging.CategoryRules).Warnw("sign rule dispatch failed", "err", err)
		}
	}
	if oldState != newState {
		if err := rules.Dispatch(&rules.Event{
			Kind: model.EventStateChange, File: file,
			PipelineName: pipelineName, NewState: newState,
		}, ruleCtx, fired); err != nil {
			logging.Get(logging.CategoryRules).Warnw("state_change rule dispatch failed", "err", err)
		}
	}
}

// createGPGSignature shells out to gpg for a detached armored signature;
// the output is stored opaquely on the sign row.
func createGPGSignature(path string) (string, error) {
	cmd := exec.Command("gpg", "--detach-sign", "--armor", "--output", "-", path)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", errdefs.IO("gpg signing failed", fmt.Errorf("%s", exitErr.Stderr))
		}
		return "", errdefs.IO("failed to run gpg", err)
	}
	return string(out), nil
}
