package model

import (
	"fmt"
	"time"
)

// TaskStatus is the closed set of lifecycle states for a task.
type TaskStatus string

const (
	TaskStatusOngoing  TaskStatus = "ONGOING"
	TaskStatusInReview TaskStatus = "IN_REVIEW"
	TaskStatusApproved TaskStatus = "APPROVED"
	TaskStatusRejected TaskStatus = "REJECTED"
)

// ParseTaskStatus validates a raw task status string against the closed set.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	switch TaskStatus(raw) {
	case TaskStatusOngoing, TaskStatusInReview, TaskStatusApproved, TaskStatusRejected:
		return TaskStatus(raw), nil
	}
	return "", fmt.Errorf("unrecognized task status %q", raw)
}

// Task is a unit of work inside a project. Approval is the event that
// drives invoicing and, for completion projects, the final payout.
type Task struct {
	TaskID     string     `json:"task_id"`
	ProjectID  string     `json:"project_id"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	Completed  bool       `json:"completed"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Approve transitions the task into its terminal approved state.
// The caller persists the task afterwards; this only mutates in memory.
func (t *Task) Approve(actorID string, now time.Time) {
	t.Status = TaskStatusApproved
	t.Completed = true
	t.ApprovedAt = &now
	t.ApprovedBy = actorID
}

// ResetToReview undoes an approval, returning the task to review.
// Used by the rollback coordinator only.
func (t *Task) ResetToReview() {
	t.Status = TaskStatusInReview
	t.Completed = false
	t.ApprovedAt = nil
	t.ApprovedBy = ""
}
