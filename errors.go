package surge

import (
	"goflare.io/surge/internal/breaker"
	"goflare.io/surge/internal/config"
	"goflare.io/surge/internal/queue"
)

var (
	ErrCircuitOpen   = breaker.ErrCircuitOpen
	ErrTaskNotFound  = queue.ErrTaskNotFound
	ErrQueueFull     = queue.ErrQueueFull
	ErrDuplicateTask = queue.ErrDuplicateTask
	ErrQueueClosed   = queue.ErrQueueClosed

	ErrInvalidFreshTTL    = config.ErrInvalidFreshTTL
	ErrInvalidThreshold   = config.ErrInvalidThreshold
	ErrInvalidConcurrency = config.ErrInvalidConcurrency
	ErrMissingRedisAddr   = config.ErrMissingRedisAddr
)
