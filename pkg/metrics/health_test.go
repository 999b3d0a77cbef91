package metrics

import (
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealth() {
	checker = &healthChecker{
		components: make(map[string]componentHealth),
		startTime:  time.Now(),
	}
}

func TestRegisterComponentAndGetHealth(t *testing.T) {
	resetHealth()

	RegisterComponent("membership", true, "")
	RegisterComponent("dispatch", true, "")

	health := GetHealth()
	if health.Status != "healthy" {
		t.Errorf("status = %q, want healthy", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("components = %d, want 2", len(health.Components))
	}
}

func TestGetHealthOneUnhealthy(t *testing.T) {
	resetHealth()

	RegisterComponent("membership", true, "")
	RegisterComponent("sink", false, "no archival sink reachable")

	health := GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", health.Status)
	}
}

func TestHealthHandlerStatusCode(t *testing.T) {
	resetHealth()
	RegisterComponent("sink", false, "down")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	HealthHandler()(rec, req)

	if rec.Code != 503 {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
}

func TestLivenessHandlerAlwaysOK(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/livez", nil)
	LivenessHandler()(rec, req)

	if rec.Code != 200 {
		t.Errorf("status code = %d, want 200", rec.Code)
	}
}
