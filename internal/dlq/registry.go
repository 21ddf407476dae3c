package dlq

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/sirdesai22/dlq-service/internal/models"
	"gorm.io/datatypes"
)

// RetryHandler replays one failed write. It reports true when the write
// went through; false or a non-nil error both count as a failed attempt.
type RetryHandler interface {
	Attempt(ctx context.Context, payload datatypes.JSON) (bool, error)
}

type HandlerFunc func(ctx context.Context, payload datatypes.JSON) (bool, error)

func (f HandlerFunc) Attempt(ctx context.Context, payload datatypes.JSON) (bool, error) {
	return f(ctx, payload)
}

// Registry maps (target, operation) to the handler a backend adapter
// registered at startup. It is process-local.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.Key]RetryHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.Key]RetryHandler)}
}

// Register stores h for the pair, replacing any earlier handler.
func (r *Registry) Register(op models.Operation, target models.Target, h RetryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[models.Key{Target: target, Operation: op}] = h
}

func (r *Registry) Resolve(op models.Operation, target models.Target) (RetryHandler, error) {
	key := models.Key{Target: target, Operation: op}
	r.mu.RLock()
	h, ok := r.handlers[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrHandlerNotFound, key)
	}
	return h, nil
}

func (r *Registry) Keys() []models.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.handlers)
}
