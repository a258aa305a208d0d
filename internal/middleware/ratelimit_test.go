package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/verax-io/verax/internal/ratelimit"
)

func newRateLimitService(t *testing.T, burst int, byIP, byOrg bool) *ratelimit.Service {
	t.Helper()
	service := ratelimit.NewService(ratelimit.Config{
		Enabled:         true,
		RequestsPerSec:  1.0,
		Burst:           burst,
		ByIP:            byIP,
		ByOrg:           byOrg,
		CleanupInterval: 0,
	})
	t.Cleanup(service.Close)
	return service
}

func TestRateLimitMiddleware_AllowsWithinBurst(t *testing.T) {
	service := newRateLimitService(t, 3, true, false)

	app := fiber.New()
	app.Use(RateLimitMiddleware(service))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, resp.StatusCode)
		}
	}
}

func TestRateLimitMiddleware_RejectsAfterBurst(t *testing.T) {
	service := newRateLimitService(t, 2, true, false)

	app := fiber.New()
	app.Use(RateLimitMiddleware(service))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	// Exhaust the burst
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		if _, err := app.Test(req); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", resp.StatusCode)
	}

	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", resp.Header.Get("X-RateLimit-Remaining"))
	}

	var body map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "rate_limit_exceeded" {
		t.Errorf("expected error 'rate_limit_exceeded', got %v", body["error"])
	}
}

func TestRateLimitMiddleware_SetsLimitHeader(t *testing.T) {
	service := newRateLimitService(t, 5, true, false)

	app := fiber.New()
	app.Use(RateLimitMiddleware(service))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.Header.Get("X-RateLimit-Limit") != "5" {
		t.Errorf("expected X-RateLimit-Limit '5', got %q", resp.Header.Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitMiddleware_DisabledAllowsEverything(t *testing.T) {
	service := newRateLimitService(t, 1, false, false)

	app := fiber.New()
	app.Use(RateLimitMiddleware(service))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, resp.StatusCode)
		}
	}
}

func TestOrgRateLimitMiddleware_LimitsPerOrg(t *testing.T) {
	service := newRateLimitService(t, 2, false, true)

	app := fiber.New()
	// Simulate the auth middleware having populated the tenant
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(OrganizationIDKey, c.Get(OrgHeader))
		return c.Next()
	})
	app.Use(OrgRateLimitMiddleware(service))
	app.Post("/v1/audit/events", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	send := func(org string) int {
		req := httptest.NewRequest("POST", "/v1/audit/events", nil)
		req.Header.Set(OrgHeader, org)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp.StatusCode
	}

	// org-acme exhausts its burst
	for i := 0; i < 2; i++ {
		if status := send("org-acme"); status != fiber.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, status)
		}
	}
	if status := send("org-acme"); status != fiber.StatusTooManyRequests {
		t.Errorf("expected status 429 after burst, got %d", status)
	}

	// A different tenant is unaffected
	if status := send("org-globex"); status != fiber.StatusOK {
		t.Errorf("expected status 200 for different org, got %d", status)
	}
}

func TestOrgRateLimitMiddleware_SkipsWithoutOrg(t *testing.T) {
	service := newRateLimitService(t, 1, false, true)

	app := fiber.New()
	app.Use(OrgRateLimitMiddleware(service))
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	// No org in context; the org limiter must not apply
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i, resp.StatusCode)
		}
	}
}

func TestRateLimitMiddleware_RejectionBodyNamesClient(t *testing.T) {
	service := newRateLimitService(t, 1, true, false)

	app := fiber.New()
	app.Use(RateLimitMiddleware(service))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	req = httptest.NewRequest("GET", "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	raw, _ := io.ReadAll(resp.Body)
	if !contains(string(raw), "ip:") {
		t.Errorf("expected identifier with 'ip:' prefix in body, got: %s", string(raw))
	}
}
