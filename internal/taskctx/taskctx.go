// Package taskctx holds the process-wide "current work" record. Pool
// workers do not inherit caller-local state, so the record is deliberately
// global and guarded by a single mutex; the orchestrator sets it before
// dispatching work and clears it in a deferred cleanup path.
package taskctx

import "sync"

// Stage identifies where in the pipeline a call originated.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageSplit      Stage = "split"
	StageOptimize   Stage = "optimize"
	StageTranslate  Stage = "translate"
	StageSynthesis  Stage = "synthesis"
)

// Context identifies the unit of work a concurrent operation belongs to.
// Used purely for observability and log correlation.
type Context struct {
	TaskID   string
	FileName string
	Stage    Stage
}

var (
	mu      sync.Mutex
	current Context
	active  bool
)

// Set replaces the current record atomically. Readers never observe a
// half-updated record.
func Set(taskID, fileName string, stage Stage) {
	mu.Lock()
	defer mu.Unlock()
	current = Context{TaskID: taskID, FileName: fileName, Stage: stage}
	active = true
}

// Get returns a snapshot of the current record. The second return is false
// when no task is active.
func Get() (Context, bool) {
	mu.Lock()
	defer mu.Unlock()
	return current, active
}

// UpdateStage replaces the stage while preserving task id and file name.
// A no-op when no task is active.
func UpdateStage(stage Stage) {
	mu.Lock()
	defer mu.Unlock()
	if !active {
		return
	}
	current = Context{TaskID: current.TaskID, FileName: current.FileName, Stage: stage}
}

// Clear resets the record. Called at pipeline end or on failure.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	current = Context{}
	active = false
}
