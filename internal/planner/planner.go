// Package planner implements hierarchical goals with ordered steps,
// delegation to sub-agents and mesh peers, and derived progress.
package planner

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GoalStatus is a goal's lifecycle state.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalCancelled GoalStatus = "cancelled"
)

// StepStatus is a step's lifecycle state.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

func (s StepStatus) terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Step is one ordered unit of work inside a goal.
type Step struct {
	ID              string
	Description     string
	Status          StepStatus
	Result          string
	Error           string
	DelegatedTo     string // peer id or sub-agent task id
	DelegatedTaskID string
}

// Goal is a prioritized objective made of ordered steps.
type Goal struct {
	ID            string
	Description   string
	Status        GoalStatus
	Priority      uint8
	ParentID      string
	Steps         []*Step
	Retrospective string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Progress is derived: completed_steps / total_steps, or 0 with no steps.
// Skipped steps count toward goal completion but not toward progress.
func (g *Goal) Progress() float64 {
	if len(g.Steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range g.Steps {
		if s.Status == StepCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(g.Steps))
}

// Planner stores goals ordered by priority (descending) and manages step
// progression.
type Planner struct {
	mu    sync.RWMutex
	goals map[string]*Goal
}

// New creates an empty Planner.
func New() *Planner {
	return &Planner{goals: make(map[string]*Goal)}
}

// CreateGoal registers a new goal with the given steps (by description).
func (p *Planner) CreateGoal(description string, priority uint8, parentID string, stepDescriptions []string) *Goal {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	steps := make([]*Step, 0, len(stepDescriptions))
	for _, d := range stepDescriptions {
		steps = append(steps, &Step{ID: uuid.NewString(), Description: d, Status: StepPending})
	}
	g := &Goal{
		ID:          uuid.NewString(),
		Description: description,
		Status:      GoalActive,
		Priority:    priority,
		ParentID:    parentID,
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.goals[g.ID] = g
	return g
}

// Get returns a goal by id.
func (p *Planner) Get(id string) (*Goal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.goals[id]
	return g, ok
}

// Restore loads previously persisted goals, e.g. on daemon start.
// Existing goals with the same id are replaced.
func (p *Planner) Restore(goals []*Goal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range goals {
		if g != nil && g.ID != "" {
			p.goals[g.ID] = g
		}
	}
}

// ListByPriority returns all goals ordered by priority descending, ties
// broken by creation order.
func (p *Planner) ListByPriority() []*Goal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Goal, 0, len(p.goals))
	for _, g := range p.goals {
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// NextStep returns the first Pending step of a goal, in insertion order.
func (p *Planner) NextStep(goalID string) (*Step, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.goals[goalID]
	if !ok {
		return nil, false
	}
	for _, s := range g.Steps {
		if s.Status == StepPending {
			return s, true
		}
	}
	return nil, false
}

// CompleteStep marks a step completed with the given result, updates the
// goal's derived progress, and marks the goal Completed if every step is
// now terminal (Completed or Skipped).
func (p *Planner) CompleteStep(goalID, stepID, result string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[goalID]
	if !ok {
		return false
	}
	found := false
	for _, s := range g.Steps {
		if s.ID == stepID {
			s.Status = StepCompleted
			s.Result = result
			found = true
			break
		}
	}
	if !found {
		return false
	}
	g.UpdatedAt = time.Now()
	p.maybeCompleteGoal(g)
	return true
}

// SkipStep marks a step skipped. A skipped step counts toward goal
// completion but not toward progress.
func (p *Planner) SkipStep(goalID, stepID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[goalID]
	if !ok {
		return false
	}
	for _, s := range g.Steps {
		if s.ID == stepID {
			s.Status = StepSkipped
			g.UpdatedAt = time.Now()
			p.maybeCompleteGoal(g)
			return true
		}
	}
	return false
}

// CompleteStepByTaskID resolves a step by its delegated task id rather
// than step id, for async peer/sub-agent callbacks.
func (p *Planner) CompleteStepByTaskID(taskID, result string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.goals {
		for _, s := range g.Steps {
			if s.DelegatedTaskID == taskID && !s.Status.terminal() {
				s.Status = StepCompleted
				s.Result = result
				g.UpdatedAt = time.Now()
				p.maybeCompleteGoal(g)
				return true
			}
		}
	}
	return false
}

// FailStep marks a step failed. If failGoal is true, the goal itself is
// marked failed with a derived retrospective.
func (p *Planner) FailStep(goalID, stepID, errMsg string, failGoal bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[goalID]
	if !ok {
		return false
	}
	var step *Step
	for _, s := range g.Steps {
		if s.ID == stepID {
			s.Status = StepFailed
			s.Error = errMsg
			step = s
			break
		}
	}
	if step == nil {
		return false
	}
	g.UpdatedAt = time.Now()
	if failGoal {
		g.Status = GoalFailed
		g.Retrospective = "step \"" + step.Description + "\" failed: " + errMsg
	} else {
		p.maybeCompleteGoal(g)
	}
	return true
}

// Delegate assigns a step to a peer or sub-agent task.
func (p *Planner) Delegate(goalID, stepID, delegatedTo, delegatedTaskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.goals[goalID]
	if !ok {
		return false
	}
	for _, s := range g.Steps {
		if s.ID == stepID {
			s.DelegatedTo = delegatedTo
			s.DelegatedTaskID = delegatedTaskID
			s.Status = StepInProgress
			g.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// maybeCompleteGoal marks the goal Completed exactly when every step is
// Completed or Skipped. A Failed step blocks completion.
func (p *Planner) maybeCompleteGoal(g *Goal) {
	if g.Status != GoalActive && g.Status != GoalPaused {
		return
	}
	if len(g.Steps) == 0 {
		return
	}
	for _, s := range g.Steps {
		if s.Status != StepCompleted && s.Status != StepSkipped {
			return
		}
	}
	g.Status = GoalCompleted
}
