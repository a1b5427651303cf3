package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slicer-backend/pkg/api"
)

const (
	SliceQueue      = "slice_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// SliceTaskPayload describes one queued slicing job. Filename refers to an
// already persisted model file in the upload root.
type SliceTaskPayload struct {
	JobId    uuid.UUID
	Filename string
	Settings *api.SliceSettings
}

type Publisher interface {
	PublishSliceTask(ctx context.Context, payload SliceTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
