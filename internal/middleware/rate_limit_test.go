package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimitedApp(storage fiber.Storage, userID uint) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != 0 {
			c.Locals("user_id", userID)
		}
		return c.Next()
	})
	app.Use(RateLimit("regrades", 2, time.Minute, storage))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	return app
}

func hit(t *testing.T, app *fiber.App) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return resp
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	app := newLimitedApp(nil, 7)

	require.Equal(t, fiber.StatusNoContent, hit(t, app).StatusCode)
	require.Equal(t, fiber.StatusNoContent, hit(t, app).StatusCode)

	resp := hit(t, app)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	var body struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.False(t, body.Success)
	require.Equal(t, "rate_limited", body.Code)
}

func TestRateLimitSharesCountersThroughRedis(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	storage := NewRedisStorage(client, "gema:review")

	first := newLimitedApp(storage, 7)
	second := newLimitedApp(storage, 7)

	require.Equal(t, fiber.StatusNoContent, hit(t, first).StatusCode)
	require.Equal(t, fiber.StatusNoContent, hit(t, second).StatusCode)
	require.Equal(t, fiber.StatusTooManyRequests, hit(t, first).StatusCode)

	other := newLimitedApp(storage, 8)
	require.Equal(t, fiber.StatusNoContent, hit(t, other).StatusCode)

	require.NotEmpty(t, server.Keys())
	require.NoError(t, storage.Reset())
	require.Empty(t, server.Keys())
	require.Equal(t, fiber.StatusNoContent, hit(t, first).StatusCode)
}

func TestRedisStorageMissingKey(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	value, err := NewRedisStorage(client, "test").Get("absent")
	require.NoError(t, err)
	require.Nil(t, value)
}
