package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
)

func (r *Registry) listTasks(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	if r.deps.Practice == nil {
		return contractx.Failed("practice is not configured")
	}
	projectID := stringArg(args, "project_id")
	if projectID == "" && scope.Task != nil {
		projectID = scope.Task.ProjectID
	}
	if projectID == "" {
		return contractx.Failed("project_id is required")
	}
	tasks, err := r.deps.Practice.ListTasks(ctx, projectID)
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	if len(tasks) == 0 {
		return contractx.Empty("no tasks for project " + projectID)
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		line := fmt.Sprintf("%d. %s (id: %s)", t.Position, t.Title, t.ID)
		if d := strings.TrimSpace(t.Description); d != "" {
			line += ": " + d
		}
		lines = append(lines, line)
	}
	return contractx.Found(strings.Join(lines, "\n"))
}

func (r *Registry) listSteps(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	if r.deps.Practice == nil {
		return contractx.Failed("practice is not configured")
	}
	taskID := stringArg(args, "task_id")
	if taskID == "" && scope.Task != nil {
		taskID = scope.Task.TaskID
	}
	if taskID == "" {
		return contractx.Failed("task_id is required")
	}
	steps, err := r.deps.Practice.ListSteps(ctx, taskID)
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	if len(steps) == 0 {
		return contractx.Empty("no steps for task " + taskID)
	}
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		lines = append(lines, renderStep(s))
	}
	return contractx.Found(strings.Join(lines, "\n"))
}

func renderStep(s storex.TaskStep) string {
	mark := "[ ]"
	if s.Completed {
		mark = "[x]"
	}
	line := fmt.Sprintf("%s %d. %s (id: %s)", mark, s.StepNumber, s.Title, s.ID)
	if in := strings.TrimSpace(s.Instructions); in != "" {
		line += ": " + in
	}
	return line
}

// completeStep marks a step done and moves the session's task context to the
// next pending step.
func (r *Registry) completeStep(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	if r.deps.Practice == nil {
		return contractx.Failed("practice is not configured")
	}
	stepID := stringArg(args, "step_id")
	if stepID == "" {
		return contractx.Failed("step_id is required")
	}
	done, err := r.deps.Practice.CompleteStep(ctx, stepID, r.deps.Now())
	if errors.Is(err, storex.ErrNotFound) {
		return contractx.Failed("unknown step " + stepID)
	}
	if err != nil {
		return contractx.Failed(errorReason(err))
	}

	task := statex.TaskContext{Mode: statex.TaskModePractice}
	if scope.Task != nil {
		task = *scope.Task
	}
	task.TaskID = done.Step.TaskID
	task.StepNumber = done.Step.StepNumber

	var b strings.Builder
	fmt.Fprintf(&b, "Paso completado: %s.", done.Step.Title)
	switch {
	case done.ProjectCompleted:
		task.Completed = true
		b.WriteString(" Proyecto completado.")
	case done.Next != nil:
		task.TaskID = done.Next.TaskID
		task.StepNumber = done.Next.StepNumber
		if done.TaskCompleted {
			b.WriteString(" Tarea completada.")
		}
		b.WriteString(" Siguiente: " + renderStep(*done.Next))
	}

	res := contractx.Found(b.String())
	res.Task = &task
	return res
}
