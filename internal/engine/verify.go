package engine

import (
	"path/filepath"

	"muckrake/internal/errdefs"
	"muckrake/internal/ident"
	"muckrake/internal/integrity"
	"muckrake/internal/model"
	"muckrake/internal/store"
)

// VerifyOutcome is one file's verification result.
type VerifyOutcome struct {
	File    model.TrackedFile
	Result  integrity.VerifyResult
	Skipped bool // no stored hash
	// FlagRemoved reports a file recorded immutable whose OS flag is gone.
	FlagRemoved bool
}

// VerifyCounts aggregates a verification run.
type VerifyCounts struct {
	Ok       int
	Modified int
	Missing  int
	Skipped  int
}

// Failed reports whether the run should exit nonzero.
func (c *VerifyCounts) Failed() bool {
	return c.Modified > 0 || c.Missing > 0
}

// VerifyFiles checks every file against its stored hash and, for files
// recorded immutable, probes whether the OS flag is still present.
// A verify audit entry is written regardless of outcome.
func VerifyFiles(projectRoot string, project *store.ProjectStore, files []model.TrackedFile) ([]VerifyOutcome, VerifyCounts, error) {
	var outcomes []VerifyOutcome
	var counts VerifyCounts

	for _, file := range files {
		if file.SHA256 == "" {
			counts.Skipped++
			outcomes = append(outcomes, VerifyOutcome{File: file, Skipped: true})
			continue
		}

		absPath := filepath.Join(projectRoot, file.Path)
		result, err := integrity.VerifyFile(absPath, file.SHA256)
		if err != nil {
			return nil, counts, err
		}

		outcome := VerifyOutcome{File: file, Result: result}
		switch result.Status {
		case integrity.StatusOk:
			counts.Ok++
		case integrity.StatusModified:
			counts.Modified++
		case integrity.StatusMissing:
			counts.Missing++
		}

		if file.Immutable && result.Status != integrity.StatusMissing {
			if actuallyImmutable, err := integrity.IsImmutable(absPath); err == nil && !actuallyImmutable {
				outcome.FlagRemoved = true
			}
		}
		outcomes = append(outcomes, outcome)
	}

	if err := project.InsertAudit("verify", nil, ident.Whoami(), ""); err != nil {
		return nil, counts, err
	}
	return outcomes, counts, nil
}

// VerifyError converts failed counts into the IntegrityMismatch error
// class for exit-code purposes.
func VerifyError(counts VerifyCounts) error {
	if !counts.Failed() {
		return nil
	}
	return &errdefs.Error{
		Kind: errdefs.KindIntegrityMismatch,
		Msg:  "integrity check failed",
	}
}
