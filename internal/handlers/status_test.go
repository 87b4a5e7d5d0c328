package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/iamqiss/Pixelle-sub004/internal/confservice"
	"github.com/iamqiss/Pixelle-sub004/internal/models"
)

func TestHandler_Status(t *testing.T) {
	// Setup
	svc := newFakeService()
	svc.min = 3
	svc.max = 7
	svc.mappingEpoch = 7
	handler, _ := newTestHandler(svc)

	app := fiber.New()
	app.Get("/v1/status", handler.Status)

	// Test
	req := httptest.NewRequest("GET", "/v1/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}

	// Assertions
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status %d, got %d", fiber.StatusOK, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	var statusResp models.StatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if statusResp.Node != "node-1" {
		t.Errorf("Expected node 'node-1', got '%s'", statusResp.Node)
	}

	if statusResp.Lifecycle != "started" {
		t.Errorf("Expected lifecycle 'started', got '%s'", statusResp.Lifecycle)
	}

	if statusResp.MinEpoch != 3 || statusResp.MaxEpoch != 7 {
		t.Errorf("Expected epoch window [3,7], got [%d,%d]", statusResp.MinEpoch, statusResp.MaxEpoch)
	}

	if statusResp.MappingEpoch != 7 {
		t.Errorf("Expected mapping epoch 7, got %d", statusResp.MappingEpoch)
	}
}

func TestHandler_StatusBeforeStart(t *testing.T) {
	// Setup
	svc := newFakeService()
	svc.lifecycle = confservice.Initialized
	handler, _ := newTestHandler(svc)

	app := fiber.New()
	app.Get("/v1/status", handler.Status)

	// Test
	req := httptest.NewRequest("GET", "/v1/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	var statusResp models.StatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if statusResp.Lifecycle != "initialized" {
		t.Errorf("Expected lifecycle 'initialized', got '%s'", statusResp.Lifecycle)
	}
}
