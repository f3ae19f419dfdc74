package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotationExpirySweep expires quotations past their validity window.
	TaskQuotationExpirySweep = "quotations:expire_sweep"
	// TaskSessionPurge removes login sessions past their expiry.
	TaskSessionPurge = "sessions:purge"
	// TaskQuotationChainReconcile replays terminal approval-chain outcomes
	// onto quotations still waiting on them.
	TaskQuotationChainReconcile = "quotations:reconcile_chains"
)

// ExpirySweepPayload bounds one sweep run.
type ExpirySweepPayload struct {
	Limit int `json:"limit"`
}

// NewExpirySweepTask constructs the quotation expiry sweep task.
func NewExpirySweepTask(payload ExpirySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationExpirySweep, data), nil
}

// NewSessionPurgeTask constructs the session purge task.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPurge, nil)
}

// ChainReconcilePayload bounds one reconcile run.
type ChainReconcilePayload struct {
	Limit int `json:"limit"`
}

// NewChainReconcileTask constructs the chain outcome reconcile task.
func NewChainReconcileTask(payload ChainReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationChainReconcile, data), nil
}
