package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/port"
)

type InquiryService struct {
	inquiries port.InquiryRepository
	notifier  Notifier
	now       func() time.Time
}

func NewInquiryService(inquiries port.InquiryRepository, notifier Notifier) *InquiryService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &InquiryService{inquiries: inquiries, notifier: notifier, now: time.Now}
}

func (s *InquiryService) UpdateStatus(ctx context.Context, inquiryID string, next domain.InquiryStatus) (*domain.Inquiry, error) {
	inq, err := s.inquiries.GetInquiry(ctx, inquiryID)
	if err != nil {
		return nil, err
	}

	prev := inq.Status
	if prev == next {
		return inq, nil
	}
	if !prev.CanTransitionTo(next) {
		return nil, &domain.TransitionError{From: string(prev), To: string(next)}
	}

	if err := s.inquiries.UpdateInquiryStatus(ctx, inquiryID, prev, next); err != nil {
		return nil, fmt.Errorf("update inquiry %s status: %w", inquiryID, err)
	}
	inq.Status = next
	inq.UpdatedAt = s.now()

	s.notifier.Publish(domain.StatusEvent{
		Kind:      domain.EventKindInquiry,
		ID:        inq.ID,
		OldStatus: string(prev),
		NewStatus: string(next),
		Timestamp: inq.UpdatedAt,
	})

	log.Info().Str("inquiryId", inq.ID).Str("from", string(prev)).Str("to", string(next)).Msg("inquiry status changed")
	return inq, nil
}
