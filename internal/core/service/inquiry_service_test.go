package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

func TestInquiryUpdateStatus(t *testing.T) {
	store := newFaultyStore()
	store.PutInquiry(domain.Inquiry{ID: "inq-1", Name: "Ben", Email: "ben@example.com", Subject: "Pond setup", Status: domain.InquiryStatusPending})
	notifier := &recordingNotifier{}
	svc := NewInquiryService(store, notifier)
	ctx := context.Background()

	inq, err := svc.UpdateStatus(ctx, "inq-1", domain.InquiryStatusAccepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if inq.Status != domain.InquiryStatusAccepted {
		t.Errorf("expected accepted, got %s", inq.Status)
	}

	// Repeating the current status is a no-op.
	if _, err := svc.UpdateStatus(ctx, "inq-1", domain.InquiryStatusAccepted); err != nil {
		t.Errorf("expected no-op, got: %v", err)
	}

	events := notifier.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != domain.EventKindInquiry || events[0].OldStatus != "pending" || events[0].NewStatus != "accepted" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestInquiryUpdateStatus_Rejected(t *testing.T) {
	store := newFaultyStore()
	store.PutInquiry(domain.Inquiry{ID: "inq-1", Status: domain.InquiryStatusPending})
	svc := NewInquiryService(store, nil)
	ctx := context.Background()

	if _, err := svc.UpdateStatus(ctx, "inq-1", domain.InquiryStatusCompleted); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "missing", domain.InquiryStatusAccepted); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}
