package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryCriticalFailure(t *testing.T) {
	r := NewRegistry()
	r.RegisterCritical("database", Ping(func(context.Context) error { return errors.New("connection refused") }))
	r.Register("scoring", Mode("managed", false, ""))

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("failed critical check should make the registry unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "database" || statuses[0].Detail != "connection refused" || !statuses[0].Critical {
		t.Fatalf("unexpected database status %+v", statuses[0])
	}
	if statuses[1].Mode != "managed" {
		t.Fatalf("expected mode managed, got %q", statuses[1].Mode)
	}
}

func TestRegistryDegradedBackendStillReady(t *testing.T) {
	r := NewRegistry()
	r.RegisterCritical("database", Ping(func(context.Context) error { return nil }))
	r.Register("graph", Mode("disabled", true, "NEO4J_URI not set"))

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("degraded optional backend must not block readiness")
	}
	if statuses[1].Healthy {
		t.Fatal("degraded backend should be reported unhealthy")
	}
}

func TestRegistryCheckTimeout(t *testing.T) {
	r := NewRegistry()
	r.timeout = 20 * time.Millisecond
	r.RegisterCritical("slow", Ping(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	healthy, _ := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed out check should fail")
	}
	if time.Since(start) > time.Second {
		t.Fatal("check was not bounded by the timeout")
	}
}

func TestRegistryNameOverridesChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("scoring", func(context.Context) Status { return Status{Name: "other", Healthy: true} })

	_, statuses := r.CheckAll(context.Background())
	if statuses[0].Name != "scoring" {
		t.Fatalf("expected registered name, got %q", statuses[0].Name)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", Mode("ok", false, ""))
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
