package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawrt/agentd/internal/planner"
)

// SubTaskStatus tracks a spawned sub-agent task.
type SubTaskStatus string

const (
	SubTaskWaitingForDeps SubTaskStatus = "waiting_for_deps"
	SubTaskPending        SubTaskStatus = "pending"
	SubTaskRunning        SubTaskStatus = "running"
	SubTaskCompleted      SubTaskStatus = "completed"
	SubTaskFailed         SubTaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s SubTaskStatus) Terminal() bool {
	return s == SubTaskCompleted || s == SubTaskFailed
}

// SubTask records one spawned sub-agent run.
type SubTask struct {
	TaskID          string
	Role            string
	TaskDescription string
	Status          SubTaskStatus
	Result          string
	Error           string
	ParentSessionID string
	DependsOn       []string
	GoalID          string
	StepID          string
	CreatedAt       time.Time
}

func (t *SubTask) clone() *SubTask {
	c := *t
	if t.DependsOn != nil {
		c.DependsOn = make([]string, len(t.DependsOn))
		copy(c.DependsOn, t.DependsOn)
	}
	return &c
}

// SubAgentRunner runs one child agent loop to completion and returns its
// final text. The daemon backs this with a Runtime on a fresh session.
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, role, systemPrompt, task string) (string, error)
}

// SubAgentRunnerFunc adapts a function to a SubAgentRunner.
type SubAgentRunnerFunc func(ctx context.Context, role, systemPrompt, task string) (string, error)

// RunSubAgent executes the function.
func (f SubAgentRunnerFunc) RunSubAgent(ctx context.Context, role, systemPrompt, task string) (string, error) {
	return f(ctx, role, systemPrompt, task)
}

// SpawnParams configures one sub-agent spawn.
type SpawnParams struct {
	Role            string
	Task            string
	Context         string
	DependsOn       []string
	ParentSessionID string
	GoalID          string
	StepID          string
}

// SubAgentManager spawns sub-agent runs, orders them by dependency edges,
// and collects their results.
type SubAgentManager struct {
	runner  SubAgentRunner
	planner *planner.Planner
	logger  *slog.Logger

	mu    sync.Mutex
	tasks map[string]*SubTask
	done  map[string]chan struct{}

	wg sync.WaitGroup
}

// SubAgentOption configures the manager.
type SubAgentOption func(*SubAgentManager)

// WithPlanner links completions back to goal steps.
func WithPlanner(p *planner.Planner) SubAgentOption {
	return func(m *SubAgentManager) { m.planner = p }
}

// WithSubAgentLogger sets the logger.
func WithSubAgentLogger(logger *slog.Logger) SubAgentOption {
	return func(m *SubAgentManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewSubAgentManager creates a manager over the given runner.
func NewSubAgentManager(runner SubAgentRunner, opts ...SubAgentOption) *SubAgentManager {
	m := &SubAgentManager{
		runner: runner,
		logger: slog.Default(),
		tasks:  make(map[string]*SubTask),
		done:   make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Spawn registers a sub-task and launches it. The returned task id can be
// passed to Wait and Status. The run starts only after every task in
// DependsOn is terminal; dependency results are prepended to the prompt.
func (m *SubAgentManager) Spawn(ctx context.Context, params SpawnParams) (*SubTask, error) {
	if strings.TrimSpace(params.Task) == "" {
		return nil, fmt.Errorf("sub-agent task description is empty")
	}

	task := &SubTask{
		TaskID:          uuid.NewString(),
		Role:            strings.ToLower(strings.TrimSpace(params.Role)),
		TaskDescription: params.Task,
		Status:          SubTaskPending,
		ParentSessionID: params.ParentSessionID,
		DependsOn:       params.DependsOn,
		GoalID:          params.GoalID,
		StepID:          params.StepID,
		CreatedAt:       time.Now(),
	}
	if len(params.DependsOn) > 0 {
		task.Status = SubTaskWaitingForDeps
	}

	m.mu.Lock()
	m.tasks[task.TaskID] = task
	m.done[task.TaskID] = make(chan struct{})
	m.mu.Unlock()

	if m.planner != nil && params.GoalID != "" && params.StepID != "" {
		m.planner.Delegate(params.GoalID, params.StepID, "sub-agent:"+task.Role, task.TaskID)
	}

	m.wg.Add(1)
	go m.execute(ctx, task.TaskID, params)
	return task.clone(), nil
}

func (m *SubAgentManager) execute(ctx context.Context, taskID string, params SpawnParams) {
	defer m.wg.Done()
	defer m.closeDone(taskID)

	depResults, err := m.awaitDeps(ctx, taskID, params.DependsOn)
	if err != nil {
		m.finish(taskID, "", err)
		return
	}
	m.setStatus(taskID, SubTaskRunning)

	prompt := RolePrompt(params.Role)
	var sb strings.Builder
	if params.Context != "" {
		sb.WriteString("Context:\n")
		sb.WriteString(params.Context)
		sb.WriteString("\n\n")
	}
	for _, dep := range depResults {
		sb.WriteString("Result from a prerequisite task:\n")
		sb.WriteString(dep)
		sb.WriteString("\n\n")
	}
	sb.WriteString(params.Task)

	result, err := m.runner.RunSubAgent(ctx, params.Role, prompt, sb.String())
	m.finish(taskID, result, err)
}

func (m *SubAgentManager) awaitDeps(ctx context.Context, taskID string, deps []string) ([]string, error) {
	var results []string
	for _, dep := range deps {
		m.mu.Lock()
		ch, ok := m.done[dep]
		m.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("unknown dependency task %s", dep)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
		depTask := m.tasks[dep]
		m.mu.Unlock()
		if depTask.Status == SubTaskFailed {
			return nil, fmt.Errorf("dependency task %s failed: %s", dep, depTask.Error)
		}
		if depTask.Result != "" {
			results = append(results, depTask.Result)
		}
	}
	return results, nil
}

func (m *SubAgentManager) setStatus(taskID string, status SubTaskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		t.Status = status
	}
}

func (m *SubAgentManager) finish(taskID, result string, err error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if ok {
		if err != nil {
			t.Status = SubTaskFailed
			t.Error = err.Error()
		} else {
			t.Status = SubTaskCompleted
			t.Result = result
		}
	}
	var goalID, stepID string
	if ok {
		goalID, stepID = t.GoalID, t.StepID
	}
	m.mu.Unlock()

	if m.planner != nil && goalID != "" && stepID != "" {
		if err != nil {
			m.planner.FailStep(goalID, stepID, err.Error(), false)
		} else {
			m.planner.CompleteStepByTaskID(taskID, result)
		}
	}
	if err != nil {
		m.logger.Debug("sub-agent task failed", "task_id", taskID, "error", err)
	}
}

func (m *SubAgentManager) closeDone(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.done[taskID]; ok {
		close(ch)
	}
}

// Wait blocks until every listed task is terminal or the timeout elapses.
// A zero timeout waits indefinitely (bounded by ctx).
func (m *SubAgentManager) Wait(ctx context.Context, taskIDs []string, timeout time.Duration) ([]*SubTask, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for _, id := range taskIDs {
		m.mu.Lock()
		ch, ok := m.done[id]
		m.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("unknown task %s", id)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return m.Status(taskIDs), fmt.Errorf("wait for sub-agent tasks: %w", ctx.Err())
		}
	}
	return m.Status(taskIDs), nil
}

// Status returns a snapshot of the listed tasks, or of all tasks when the
// list is empty.
func (m *SubAgentManager) Status(taskIDs []string) []*SubTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(taskIDs) == 0 {
		out := make([]*SubTask, 0, len(m.tasks))
		for _, t := range m.tasks {
			out = append(out, t.clone())
		}
		return out
	}
	out := make([]*SubTask, 0, len(taskIDs))
	for _, id := range taskIDs {
		if t, ok := m.tasks[id]; ok {
			out = append(out, t.clone())
		}
	}
	return out
}

// Shutdown waits for in-flight sub-agent runs to finish.
func (m *SubAgentManager) Shutdown() {
	m.wg.Wait()
}
