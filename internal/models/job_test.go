package models

import "testing"

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"pending to running", JobStatusPending, JobStatusRunning, true},
		{"pending to queued", JobStatusPending, JobStatusQueued, true},
		{"pending to cancelled", JobStatusPending, JobStatusCancelled, true},
		{"pending to completed", JobStatusPending, JobStatusCompleted, false},
		{"queued to running", JobStatusQueued, JobStatusRunning, true},
		{"running to completed", JobStatusRunning, JobStatusCompleted, true},
		{"running to failed", JobStatusRunning, JobStatusFailed, true},
		{"running to cancelled", JobStatusRunning, JobStatusCancelled, true},
		{"running to retrying", JobStatusRunning, JobStatusRetrying, true},
		{"running to pending", JobStatusRunning, JobStatusPending, false},
		{"retrying to pending", JobStatusRetrying, JobStatusPending, true},
		{"retrying to dead", JobStatusRetrying, JobStatusDead, true},
		{"completed is absorbing", JobStatusCompleted, JobStatusRunning, false},
		{"failed is absorbing", JobStatusFailed, JobStatusPending, false},
		{"cancelled is absorbing", JobStatusCancelled, JobStatusRunning, false},
		{"dead is absorbing", JobStatusDead, JobStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusDead}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	live := []JobStatus{JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusRetrying}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestNewJob_Defaults(t *testing.T) {
	job := NewJob("caller-1", AgentTypeSEOWriter, "write", nil, 0)

	if job.ID == "" {
		t.Error("expected generated job ID")
	}
	if job.Status != JobStatusPending {
		t.Errorf("expected pending status, got %s", job.Status)
	}
	if job.Priority != 5.0 {
		t.Errorf("expected default priority 5.0, got %f", job.Priority)
	}
	if job.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", job.MaxRetries)
	}
	if job.Parameters == nil {
		t.Error("expected non-nil parameters map")
	}
	if err := job.Validate(); err != nil {
		t.Errorf("expected valid job, got %v", err)
	}
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Job)
		wantErr bool
	}{
		{"valid", func(j *Job) {}, false},
		{"missing caller", func(j *Job) { j.CallerID = "" }, true},
		{"missing command", func(j *Job) { j.Command = "" }, true},
		{"unknown agent type", func(j *Job) { j.AgentType = "janitor" }, true},
		{"unknown status", func(j *Job) { j.Status = "sleeping" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob("caller-1", AgentTypeEmailMarketer, "create", nil, 5)
			tt.mutate(job)
			if err := job.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJob_IsCancellable(t *testing.T) {
	job := NewJob("caller-1", AgentTypeSEOWriter, "write", nil, 5)

	for _, s := range []JobStatus{JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusRetrying} {
		job.Status = s
		if !job.IsCancellable() {
			t.Errorf("expected %s job to be cancellable", s)
		}
	}
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusDead} {
		job.Status = s
		if job.IsCancellable() {
			t.Errorf("expected %s job to not be cancellable", s)
		}
	}
}
