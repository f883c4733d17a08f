package middleware

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"data-marketplace/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionGateBoundsConcurrency(t *testing.T) {
	g := NewAdmissionGate(2, 0)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))
	assert.Equal(t, AdmissionStats{InFlight: 2, Ceiling: 2}, g.Stats())

	acquired := make(chan struct{})
	go func() {
		if assert.NoError(t, g.Acquire(ctx)) {
			close(acquired)
		}
	}()

	assert.Eventually(t, func() bool { return g.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("third caller admitted above the ceiling")
	default:
	}

	g.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter not admitted after release")
	}
	assert.Equal(t, int64(2), g.Stats().InFlight)
	assert.Zero(t, g.Stats().Waiting)
}

func TestAdmissionGateQueueFull(t *testing.T) {
	g := NewAdmissionGate(1, 1)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Acquire(waitCtx) }()
	assert.Eventually(t, func() bool { return g.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)

	err := g.Acquire(ctx)
	require.Error(t, err)
	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apperr.CodeQueueFull, e.Code)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, g.Stats().Waiting)
	assert.Equal(t, int64(1), g.Stats().InFlight)
}

func TestAdmissionMiddleware(t *testing.T) {
	g := NewAdmissionGate(1, 0)
	app := fiber.New()
	app.Post("/submit", g.Middleware(), func(c *fiber.Ctx) error {
		return c.JSON(g.Stats())
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/submit", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Zero(t, g.Stats().InFlight)
}

func TestGatewayAuth(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("secret"))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	cases := map[string]int{
		"":              fiber.StatusUnauthorized,
		"Bearer wrong":  fiber.StatusUnauthorized,
		"Bearer secret": fiber.StatusOK,
		"secret":        fiber.StatusOK,
	}
	for header, want := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, header)
	}
}

func TestUserContextAndRoles(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", UserContextMiddleware(), RequireRole("admin"), func(c *fiber.Ctx) error {
		return c.SendString(ExternalUserID(c))
	})

	req := httptest.NewRequest("GET", "/admin", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Roles", "user")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Roles", "user, admin")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
