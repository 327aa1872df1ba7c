package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskOutboxDeliver = "cases.outbox.deliver"

const TaskCaseAutoClose = "cases.auto_close"

type OutboxDeliverPayload struct {
	OutboxID string `json:"outboxId"`
}

type CaseAutoClosePayload struct {
	CaseID string `json:"caseId"`
}

func NewOutboxDeliverTask(payload OutboxDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxDeliver, data), nil
}

func ParseOutboxDeliverPayload(task *asynq.Task) (OutboxDeliverPayload, error) {
	var payload OutboxDeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutboxDeliverPayload{}, err
	}
	return payload, nil
}

func NewCaseAutoCloseTask(payload CaseAutoClosePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCaseAutoClose, data), nil
}

func ParseCaseAutoClosePayload(task *asynq.Task) (CaseAutoClosePayload, error) {
	var payload CaseAutoClosePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CaseAutoClosePayload{}, err
	}
	return payload, nil
}
