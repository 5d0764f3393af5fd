package domain

import (
	"encoding/json"
	"fmt"
)

// JobStatus is the server-reported state of an asynchronous operation.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// SyncStatus is the upstream response for a directory sync job.
type SyncStatus struct {
	Status   JobStatus       `json:"status"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (s SyncStatus) JobState() JobStatus { return s.Status }
func (s SyncStatus) JobProgress() int    { return s.Progress }
func (s SyncStatus) JobError() string    { return s.Error }

// NodeTask is the per-node progress of a cluster deployment.
type NodeTask struct {
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
}

// DeploymentStatus is the upstream response for a cluster deployment.
type DeploymentStatus struct {
	Status      JobStatus           `json:"status"`
	Progress    int                 `json:"progress"`
	CurrentStep string              `json:"currentStep"`
	NodeTasks   map[string]NodeTask `json:"nodeTasks"`
	Error       string              `json:"error,omitempty"`
}

func (s DeploymentStatus) JobState() JobStatus { return s.Status }
func (s DeploymentStatus) JobProgress() int    { return s.Progress }
func (s DeploymentStatus) JobError() string    { return s.Error }

// DeploymentAction is an operation requested against a cluster.
type DeploymentAction string

const (
	ActionDeploy  DeploymentAction = "deploy"
	ActionScale   DeploymentAction = "scale"
	ActionUpgrade DeploymentAction = "upgrade"
	ActionDestroy DeploymentAction = "destroy"
)

// ParseDeploymentAction validates a requested action.
func ParseDeploymentAction(s string) (DeploymentAction, error) {
	switch a := DeploymentAction(s); a {
	case ActionDeploy, ActionScale, ActionUpgrade, ActionDestroy:
		return a, nil
	}
	return "", fmt.Errorf("unknown deployment action %q", s)
}
