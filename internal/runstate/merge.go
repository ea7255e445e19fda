package runstate

import "github.com/caevv/skillq/internal/run"

func applyRunPatch(r *run.Run, p run.RunPatch) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	if p.PRURL != nil {
		r.PRURL = *p.PRURL
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		r.StartedAt = &t
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		r.FinishedAt = &t
	}
	if p.WorktreePath != nil {
		r.Config.WorktreePath = *p.WorktreePath
	}
}

func applyStatePatch(st *run.State, p run.StatePatch) {
	if p.Phase != nil {
		st.Phase = *p.Phase
	}
	if len(p.Output) > 0 {
		st.Output = append(st.Output, p.Output...)
	}
	if p.PartialLine != nil {
		st.PartialLine = *p.PartialLine
	}
	if len(p.ToolCalls) > 0 {
		st.ToolCalls = upsertToolCalls(st.ToolCalls, p.ToolCalls)
	}
	if p.Error != nil {
		st.Error = *p.Error
	}
	if p.Steps != nil {
		st.Steps = make([]run.Step, len(p.Steps))
		for i, step := range p.Steps {
			st.Steps[i] = step.Clone()
		}
	}
	if p.CurrentStepIndex != nil {
		st.CurrentStepIndex = *p.CurrentStepIndex
	}
}

func applyStepPatch(step *run.Step, p run.StepPatch) {
	if p.Status != nil {
		step.Status = *p.Status
	}
	if len(p.Output) > 0 {
		step.Output = append(step.Output, p.Output...)
	}
	if p.PartialLine != nil {
		step.PartialLine = *p.PartialLine
	}
	if len(p.ToolCalls) > 0 {
		step.ToolCalls = upsertToolCalls(step.ToolCalls, p.ToolCalls)
	}
}

// upsertToolCalls overwrites the non-empty fields of calls whose ID already
// exists and appends the rest in order.
func upsertToolCalls(existing, updates []run.ToolCall) []run.ToolCall {
	for _, u := range updates {
		found := false
		for i := range existing {
			if existing[i].ID != u.ID {
				continue
			}
			if u.Name != "" {
				existing[i].Name = u.Name
			}
			if u.Status != "" {
				existing[i].Status = u.Status
			}
			found = true
			break
		}
		if !found {
			existing = append(existing, u)
		}
	}
	return existing
}
