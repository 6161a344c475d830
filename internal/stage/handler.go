package stage

import (
	"context"

	"papercast/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *queue.Paper) error
	Execute(context.Context, *queue.Paper) error
	HealthCheck(context.Context) Health
}
