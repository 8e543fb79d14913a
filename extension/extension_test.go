package extension

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/credits/billing"
	"github.com/xraph/credits/store/memory"
)

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{BasePath: "/api/credits", MaxRetries: 9}
	programmatic := Config{
		BasePath:       "/ignored",
		DisableMigrate: true,
		RemoteTimeout:  3 * time.Second,
		AuthSecret:     "s3cret",
	}

	got := mergeConfigurations(yaml, programmatic)

	if got.BasePath != "/api/credits" {
		t.Errorf("base path: got %q", got.BasePath)
	}
	if got.MaxRetries != 9 || got.RemoteTimeout != 3*time.Second {
		t.Errorf("retries/timeout: got %d/%s", got.MaxRetries, got.RemoteTimeout)
	}
	if !got.DisableMigrate || got.AuthSecret != "s3cret" {
		t.Errorf("programmatic values lost: %+v", got)
	}
	if got.PurchaseLockTTL != time.Minute {
		t.Errorf("default lock ttl: got %s", got.PurchaseLockTTL)
	}
}

func TestBuildStore(t *testing.T) {
	s, err := buildStore(nil, "")
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("got %T, want *memory.Store", s)
	}
}

func TestBuildRequiresAuthSecret(t *testing.T) {
	e := New()
	e.config = mergeWithDefaults(e.config)
	if err := e.build(); err == nil {
		t.Error("expected an error without auth secret")
	}
}

func TestBuildAndHandler(t *testing.T) {
	e := New(
		WithStore(memory.New()),
		WithBilling(billing.NewStatic()),
		WithConfig(Config{AuthSecret: "secret"}),
	)
	e.config = mergeWithDefaults(e.config)
	if err := e.build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if e.Engine() == nil || e.Verifier() == nil {
		t.Fatal("engine or verifier not built")
	}
	if err := e.Engine().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/credits/session", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}

	e.config.DisableRoutes = true
	if e.Handler() != nil {
		t.Error("handler built with routes disabled")
	}
}
