package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/queue"
)

func TestBuildAlertContent(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	subject, body := BuildAlertContent(AutomationAlert{
		Kind:       AlertKindAutomationFailed,
		OrderID:    42,
		QueueID:    "17",
		RequestID:  "req-42",
		PlayerID:   "P-42",
		LicenseKey: "AAA,BBB,CCC",
		Error:      "player banned",
		OccurredAt: occurred,
	}, "shop.example.com")

	if subject != "[shop.example.com] Automation failed for order #42" {
		t.Fatalf("unexpected subject: %s", subject)
	}
	for _, want := range []string{
		"Queue ID: 17",
		"Request ID: req-42",
		"Player ID: P-42",
		"License Key: AAA,BBB,CCC",
		"Error: player banned",
		"Time: 2026-03-01T08:30:00Z",
		"Source Site: shop.example.com",
		constants.AlertRetryDisabledNotes,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}

	subject, body = BuildAlertContent(AutomationAlert{Kind: AlertKindNoKeyAvailable, OrderID: 7}, "")
	if !strings.HasPrefix(subject, "[keyrelay] License key pool empty") || !strings.Contains(body, "Queue ID: -") {
		t.Fatalf("unexpected fallback content: %s\n%s", subject, body)
	}
}

func TestAlertServiceDeliver(t *testing.T) {
	mailer := &recordingMailer{}
	svc := NewAlertService(config.AlertConfig{Recipients: []string{" ops@example.com ", ""}}, mailer, nil, nil)

	svc.Notify(context.Background(), AutomationAlert{Kind: AlertKindAutomationFailed, OrderID: 1})
	if mailer.count() != 1 {
		t.Fatalf("expected inline delivery, got %d", mailer.count())
	}
	if got := mailer.last().recipients; len(got) != 1 || got[0] != "ops@example.com" {
		t.Fatalf("unexpected recipients: %v", got)
	}

	err := svc.DeliverPayload(context.Background(), queue.AutomationAlertPayload{Kind: AlertKindStoreFailure, OrderID: 2, OccurredAt: 1700000000})
	if err != nil || mailer.count() != 2 {
		t.Fatalf("deliver payload failed: %v", err)
	}
	if !strings.Contains(mailer.last().body, "2023-11-14T22:13:20Z") {
		t.Fatalf("expected payload timestamp in body:\n%s", mailer.last().body)
	}

	mailer.err = errors.New("smtp down")
	// 发送失败只记录日志
	svc.Notify(context.Background(), AutomationAlert{Kind: AlertKindAutomationFailed, OrderID: 3})
}

func TestAlertServiceWithoutRecipients(t *testing.T) {
	svc := NewAlertService(config.AlertConfig{}, &recordingMailer{}, nil, nil)
	if err := svc.Deliver(context.Background(), AutomationAlert{OrderID: 1}); !errors.Is(err, ErrAlertNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	var nilSvc *AlertService
	nilSvc.Notify(context.Background(), AutomationAlert{OrderID: 1})
}
