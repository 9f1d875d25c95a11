// internal/workflow/workflow.go
//
// Defines the per-task working directory structure and file constants.
// Every task gets its own directory under .taskgate/tasks/ holding the
// persisted record, its lock file, the activity log and the archive area.

package workflow

import (
	"os"
	"path/filepath"
)

// Directory names within .taskgate/
const (
	TasksDir   = "tasks"
	ArchiveDir = "archive"
)

// File names inside a task directory
const (
	FileRecord   = "record.json"
	FileLock     = "record.lock"
	FileActivity = "activity.log"
)

// Layout resolves paths inside the task directories
type Layout struct {
	// Base path to the tasks directory (.taskgate/tasks)
	root string
}

// NewLayout creates a layout rooted at the .taskgate directory
func NewLayout(taskgateDir string) *Layout {
	return &Layout{root: filepath.Join(taskgateDir, TasksDir)}
}

// Root returns the tasks directory
func (l *Layout) Root() string {
	return l.root
}

// TaskDir returns the working directory of one task
func (l *Layout) TaskDir(taskID string) string {
	return filepath.Join(l.root, taskID)
}

// RecordPath returns the persisted record path for a task
func (l *Layout) RecordPath(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), FileRecord)
}

// LockPath returns the sibling lock file for a task record
func (l *Layout) LockPath(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), FileLock)
}

// DataPath implements filestore.Layout
func (l *Layout) DataPath(taskID string) string {
	return l.RecordPath(taskID)
}

// ActivityPath returns the per-task activity log
func (l *Layout) ActivityPath(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), FileActivity)
}

// ArchiveDir returns the archive area for historical artifact snapshots
func (l *Layout) ArchiveDir(taskID string) string {
	return filepath.Join(l.TaskDir(taskID), ArchiveDir)
}

// EnsureTaskDir creates the task directory and its archive area
func (l *Layout) EnsureTaskDir(taskID string) error {
	return os.MkdirAll(l.ArchiveDir(taskID), 0755)
}

// RecordExists reports whether a task has a persisted record
func (l *Layout) RecordExists(taskID string) bool {
	_, err := os.Stat(l.RecordPath(taskID))
	return err == nil
}
