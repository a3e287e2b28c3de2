// Package pipeline derives the editorial state of a file from its signs.
// State is never stored: it is a pure function of the pipeline definition,
// the file's full sign history, and the current content hash. Modifying a
// file invalidates every sign (hash mismatch) and collapses the state back
// to the initial state; the stale list names what must be re-signed.
package pipeline

import "muckrake/internal/model"

// FileState is the derived position of a file in one pipeline.
type FileState struct {
	CurrentState string
	StaleSigns   []string
}

// DeriveFileState computes the longest prefix of the pipeline's state list
// whose transitions are all satisfied by valid signs. Revoked signs are
// discarded entirely: they neither advance state nor appear as stale.
func DeriveFileState(p *model.Pipeline, allSigns []model.Sign, currentHash string) FileState {
	validNames := make(map[string]bool)
	var stale []string
	for i := range allSigns {
		s := &allSigns[i]
		switch {
		case s.Valid(currentHash):
			validNames[s.SignName] = true
		case s.StaleAt(currentHash):
			stale = append(stale, s.SignName)
		}
	}

	current := p.States[0]
	for _, state := range p.States[1:] {
		required, ok := p.Transitions[state]
		if !ok {
			break
		}
		satisfied := true
		for _, name := range required {
			if !validNames[name] {
				satisfied = false
				break
			}
		}
		if !satisfied {
			break
		}
		current = state
	}

	return FileState{CurrentState: current, StaleSigns: stale}
}
