package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/keyrelay/internal/config"
)

func TestNewAutomationSubmitTaskPayload(t *testing.T) {
	task, err := NewAutomationSubmitTask(AutomationSubmitPayload{OrderID: 42})
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	if task.Type() != TaskAutomationSubmit {
		t.Fatalf("unexpected task type: %s", task.Type())
	}
	var payload AutomationSubmitPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if payload.OrderID != 42 {
		t.Fatalf("unexpected order id: %d", payload.OrderID)
	}
}

func TestDisabledClientSkipsEnqueue(t *testing.T) {
	client, err := NewClient(nil)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if client.Enabled() {
		t.Fatalf("expected disabled client")
	}
	if err := client.EnqueueAutomationSubmit(context.Background(), AutomationSubmitPayload{OrderID: 1}); err != nil {
		t.Fatalf("expected noop enqueue, got %v", err)
	}
	if err := client.EnqueueAutomationAlert(context.Background(), AutomationAlertPayload{OrderID: 1}, 3); err != nil {
		t.Fatalf("expected noop alert enqueue, got %v", err)
	}
}

func TestBuildServerConfigDefaults(t *testing.T) {
	opt, cfg := BuildServerConfig(nil)
	if opt.Addr != "127.0.0.1:6379" {
		t.Fatalf("unexpected addr: %s", opt.Addr)
	}
	if cfg.Concurrency != 10 {
		t.Fatalf("unexpected concurrency: %d", cfg.Concurrency)
	}
	if cfg.Queues["critical"] != 1 || cfg.Queues["default"] != 2 {
		t.Fatalf("unexpected queues: %+v", cfg.Queues)
	}
	if cfg.RetryDelayFunc == nil || cfg.ErrorHandler == nil || cfg.Logger == nil {
		t.Fatalf("server config should carry retry, error and log hooks")
	}
}

func TestBuildServerConfigOverrides(t *testing.T) {
	opt, cfg := BuildServerConfig(&config.QueueConfig{
		Host:        " redis.internal ",
		Port:        6380,
		DB:          3,
		Concurrency: 4,
		Queues:      map[string]int{"default": 5},
	})
	if opt.Addr != "redis.internal:6380" || opt.DB != 3 {
		t.Fatalf("unexpected redis opt: %+v", opt)
	}
	if cfg.Concurrency != 4 || cfg.Queues["default"] != 5 {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{n: 0, want: time.Second},
		{n: 3, want: 8 * time.Second},
		{n: 9, want: 512 * time.Second},
		{n: 10, want: 10 * time.Minute},
		{n: 50, want: 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := RetryDelay(tc.n, nil, nil); got != tc.want {
			t.Fatalf("retry %d: want %s got %s", tc.n, tc.want, got)
		}
	}
}

func TestSubmitTaskIDStable(t *testing.T) {
	if SubmitTaskID(7) != "automation-submit-7" {
		t.Fatalf("unexpected task id: %s", SubmitTaskID(7))
	}
}
