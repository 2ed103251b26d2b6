package domain

// Snapshot is a closed variant over the four provider statuses. Each case
// carries only the fields meaningful in that state.
type Snapshot interface {
	Status() Status
	isSnapshot()
}

// Queued is a job waiting for capacity.
type Queued struct{}

// Running is a job being rendered. Progress is in the 0-100 range and is
// nil when the provider did not report one.
type Running struct {
	Progress *int
}

// Completed is a job whose assets can be downloaded.
type Completed struct{}

// Failed is a job the provider gave up on.
type Failed struct {
	Error JobError
}

func (Queued) Status() Status    { return StatusQueued }
func (Running) Status() Status   { return StatusRunning }
func (Completed) Status() Status { return StatusCompleted }
func (Failed) Status() Status    { return StatusFailed }

func (Queued) isSnapshot()    {}
func (Running) isSnapshot()   {}
func (Completed) isSnapshot() {}
func (Failed) isSnapshot()    {}

// DefaultFailureMessage is used when a failed job carries no error.
const DefaultFailureMessage = "Video generation failed"

// SnapshotOf projects a job onto the variant for its status. The second
// result is false for statuses outside the known set.
func SnapshotOf(job Job) (Snapshot, bool) {
	switch job.Status {
	case StatusQueued:
		return Queued{}, true
	case StatusRunning:
		return Running{Progress: clampProgress(job.Progress)}, true
	case StatusCompleted:
		return Completed{}, true
	case StatusFailed:
		f := Failed{Error: JobError{Message: DefaultFailureMessage}}
		if job.Error != nil {
			f.Error.Code = job.Error.Code
			if job.Error.Message != "" {
				f.Error.Message = job.Error.Message
			}
		}
		return f, true
	default:
		return nil, false
	}
}

func clampProgress(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}
