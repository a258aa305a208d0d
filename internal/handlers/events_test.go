package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
	"github.com/verax-io/verax/internal/middleware"
	"github.com/verax-io/verax/internal/persistence"
)

// newHandlerService builds an audit service on the in-memory store and
// shuts it down when the test finishes.
func newHandlerService(t *testing.T) *audit.Service {
	t.Helper()
	service := audit.NewService(persistence.NewMemoryStore(), nil,
		audit.Options{RetentionFloorDays: 30}, logger.NewFromConfig("error", "text"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := service.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return service
}

// newHandlerApp wires the actor pipeline the way the server does, with
// identity headers enabled so tests can impersonate tenants.
func newHandlerApp() *fiber.App {
	app := fiber.New()
	app.Use(middleware.ActorInjection(true))
	return app
}

// doJSON issues a request with tenant identity headers. An empty org
// leaves the headers off entirely.
func doJSON(t *testing.T, app *fiber.App, method, path, body, org string) *http.Response {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	}
	if org != "" {
		req.Header.Set(middleware.OrgHeader, org)
		req.Header.Set(middleware.ActorHeader, "[email protected]")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return result
}

func setupEventsApp(t *testing.T) (*audit.Service, *fiber.App) {
	service := newHandlerService(t)
	handler := NewEventsHandler(service)
	app := newHandlerApp()

	app.Post("/v1/audit/events", handler.Log)
	app.Get("/v1/audit/records/:id", handler.Get)

	return service, app
}

func TestEventsHandler_Log(t *testing.T) {
	_, app := setupEventsApp(t)

	body := `{
		"action": "create",
		"category": "data_change",
		"severity": "info",
		"resource_type": "policy",
		"resource_id": "pol-1",
		"description": "created retention policy",
		"risk_score": 20
	}`
	resp := doJSON(t, app, http.MethodPost, "/v1/audit/events", body, "org-acme")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	record := decodeBody(t, resp)
	if record["id"] == "" || record["id"] == nil {
		t.Error("expected record id to be assigned")
	}
	if record["organization_id"] != "org-acme" {
		t.Errorf("expected org-acme, got %v", record["organization_id"])
	}
	if record["sequence_number"] != float64(1) {
		t.Errorf("expected sequence 1, got %v", record["sequence_number"])
	}
	if record["checksum"] == "" || record["checksum"] == nil {
		t.Error("expected checksum to be computed")
	}
	if record["actor"] != "[email protected]" {
		t.Errorf("expected actor from identity headers, got %v", record["actor"])
	}
}

func TestEventsHandler_Log_SequencesGrow(t *testing.T) {
	_, app := setupEventsApp(t)

	body := `{"action": "update", "category": "configuration", "severity": "info", "description": "tuned"}`
	for i := 1; i <= 3; i++ {
		resp := doJSON(t, app, http.MethodPost, "/v1/audit/events", body, "org-acme")
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("append %d: expected 201, got %d", i, resp.StatusCode)
		}
		record := decodeBody(t, resp)
		if record["sequence_number"] != float64(i) {
			t.Errorf("append %d: expected sequence %d, got %v", i, i, record["sequence_number"])
		}
	}
}

func TestEventsHandler_Log_InvalidJSON(t *testing.T) {
	_, app := setupEventsApp(t)

	resp := doJSON(t, app, http.MethodPost, "/v1/audit/events", `not json`, "org-acme")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", resp.StatusCode)
	}
}

func TestEventsHandler_Log_ValidationError(t *testing.T) {
	_, app := setupEventsApp(t)

	// Action is missing
	body := `{"category": "data_change", "severity": "info", "description": "no action"}`
	resp := doJSON(t, app, http.MethodPost, "/v1/audit/events", body, "org-acme")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid event, got %d", resp.StatusCode)
	}
}

func TestEventsHandler_Log_WithoutOrganization(t *testing.T) {
	_, app := setupEventsApp(t)

	body := `{"action": "create", "category": "data_change", "severity": "info", "description": "orphan"}`
	resp := doJSON(t, app, http.MethodPost, "/v1/audit/events", body, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without organization identity, got %d", resp.StatusCode)
	}
}

func TestEventsHandler_Get(t *testing.T) {
	_, app := setupEventsApp(t)

	body := `{"action": "delete", "category": "data_change", "severity": "warning", "description": "dropped a policy"}`
	resp := doJSON(t, app, http.MethodPost, "/v1/audit/events", body, "org-acme")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decodeBody(t, resp)
	recordID, _ := created["id"].(string)
	if recordID == "" {
		t.Fatal("expected record id")
	}

	resp = doJSON(t, app, http.MethodGet, "/v1/audit/records/"+recordID, "", "org-acme")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	fetched := decodeBody(t, resp)
	if fetched["id"] != recordID {
		t.Errorf("expected record %s, got %v", recordID, fetched["id"])
	}
	if fetched["description"] != "dropped a policy" {
		t.Errorf("unexpected description %v", fetched["description"])
	}
}

func TestEventsHandler_Get_OtherTenantLooksAbsent(t *testing.T) {
	_, app := setupEventsApp(t)

	body := `{"action": "read", "category": "data_access", "severity": "info", "description": "peeked"}`
	resp := doJSON(t, app, http.MethodPost, "/v1/audit/events", body, "org-acme")
	created := decodeBody(t, resp)
	recordID, _ := created["id"].(string)

	// A different organization must see a 404, not a 403
	resp = doJSON(t, app, http.MethodGet, "/v1/audit/records/"+recordID, "", "org-globex")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for another tenant's record, got %d", resp.StatusCode)
	}
}

func TestEventsHandler_Get_Missing(t *testing.T) {
	_, app := setupEventsApp(t)

	resp := doJSON(t, app, http.MethodGet, "/v1/audit/records/no-such-record", "", "org-acme")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing record, got %d", resp.StatusCode)
	}
}
