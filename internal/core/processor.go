package core

import (
	"context"
	"encoding/json"
	"log/slog"

	"slicer-backend/internal/messaging"
)

// TaskProcessor consumes queued slicing tasks and runs them through the
// pipeline. It is shared by the single-process server and the dedicated
// worker binary.
type TaskProcessor struct {
	pipeline *Pipeline
	receiver messaging.Receiver
}

func NewTaskProcessor(pipeline *Pipeline, receiver messaging.Receiver) *TaskProcessor {
	return &TaskProcessor{
		pipeline: pipeline,
		receiver: receiver,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	switch task.Type() {
	case messaging.SliceQueue:
		var payload messaging.SliceTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling slice task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}

		serr := proc.processSliceTask(ctx, payload)
		if serr != nil {
			slog.Error("slice task failed", "job_id", payload.JobId, "kind", serr.Kind, "error", serr)
			if err := task.Nack(); err != nil {
				slog.Error("error reporting processing failure on message from queue", "error", err)
			}
		} else {
			slog.Info("successfully processed slice task", "job_id", payload.JobId)
			if err := task.Ack(); err != nil {
				slog.Error("error acknowledging message from queue", "error", err)
			}
		}

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processSliceTask(ctx context.Context, payload messaging.SliceTaskPayload) *SliceError {
	slog.Info("processing slice task", "job_id", payload.JobId, "filename", payload.Filename)

	// Async jobs reference a model file already in the store; the job id
	// doubles as the session tag for generated artifact names.
	_, serr := proc.pipeline.Run(ctx, payload.JobId, payload.JobId.String(), payload.Filename, payload.Settings, false)
	return serr
}
