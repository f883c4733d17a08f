package middleware

import (
	"context"
	"sync/atomic"

	"data-marketplace/apperr"
	"data-marketplace/metrics"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/semaphore"
)

// AdmissionGate bounds how many submissions run at once. Callers beyond the
// ceiling wait in FIFO order; when MaxQueue callers are already waiting,
// further callers are turned away instead of queued.
type AdmissionGate struct {
	sem      *semaphore.Weighted
	ceiling  int64
	maxQueue int64
	inFlight atomic.Int64
	waiting  atomic.Int64
}

type AdmissionStats struct {
	InFlight int64 `json:"in_flight"`
	Waiting  int64 `json:"waiting"`
	Ceiling  int64 `json:"ceiling"`
	MaxQueue int64 `json:"max_queue"`
}

// NewAdmissionGate: maxQueue <= 0 means the wait queue is unbounded.
func NewAdmissionGate(maxConcurrent, maxQueue int64) *AdmissionGate {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &AdmissionGate{
		sem:      semaphore.NewWeighted(maxConcurrent),
		ceiling:  maxConcurrent,
		maxQueue: maxQueue,
	}
}

// Acquire blocks until a slot is free or ctx is done. Every nil return
// must be paired with Release.
func (g *AdmissionGate) Acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		g.admitted()
		return nil
	}

	n := g.waiting.Add(1)
	if g.maxQueue > 0 && n > g.maxQueue {
		g.waiting.Add(-1)
		metrics.AdmissionRejected.Inc()
		return apperr.New(apperr.KindTransient, apperr.CodeQueueFull, "too many submissions in progress, try again")
	}
	metrics.AdmissionWaiting.Set(float64(n))

	err := g.sem.Acquire(ctx, 1)
	metrics.AdmissionWaiting.Set(float64(g.waiting.Add(-1)))
	if err != nil {
		return err
	}
	g.admitted()
	return nil
}

func (g *AdmissionGate) admitted() {
	metrics.AdmissionInFlight.Set(float64(g.inFlight.Add(1)))
}

func (g *AdmissionGate) Release() {
	metrics.AdmissionInFlight.Set(float64(g.inFlight.Add(-1)))
	g.sem.Release(1)
}

func (g *AdmissionGate) Stats() AdmissionStats {
	return AdmissionStats{
		InFlight: g.inFlight.Load(),
		Waiting:  g.waiting.Load(),
		Ceiling:  g.ceiling,
		MaxQueue: g.maxQueue,
	}
}

// Middleware holds a slot for the duration of the downstream handlers.
func (g *AdmissionGate) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := g.Acquire(c.UserContext()); err != nil {
			status := fiber.StatusServiceUnavailable
			if e, ok := err.(*apperr.Error); ok && e.Code == apperr.CodeQueueFull {
				status = fiber.StatusTooManyRequests
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		}
		defer g.Release()
		return c.Next()
	}
}
