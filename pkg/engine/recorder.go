package engine

import "time"

// Recorder receives execution metrics. telemetry.Metrics implements it.
type Recorder interface {
	OperationStarted()
	RecordOperation(operation, outcome string, reloadRequired bool, duration time.Duration)
	RecordStep(phase string, failed bool, duration time.Duration)
	RecordRollback(actions, failures int)
	RecordLockWait(mode string, duration time.Duration)
	RecordError(class, code string)
}

type nopRecorder struct{}

func (nopRecorder) OperationStarted() {}
func (nopRecorder) RecordOperation(string, string, bool, time.Duration) {}
func (nopRecorder) RecordStep(string, bool, time.Duration) {}
func (nopRecorder) RecordRollback(int, int) {}
func (nopRecorder) RecordLockWait(string, time.Duration) {}
func (nopRecorder) RecordError(string, string) {}
