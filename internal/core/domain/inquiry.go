package domain

import (
	"strconv"
	"strings"
	"time"
)

type InquiryStatus string

const (
	InquiryStatusPending    InquiryStatus = "pending"
	InquiryStatusAccepted   InquiryStatus = "accepted"
	InquiryStatusInProgress InquiryStatus = "in_progress"
	InquiryStatusCompleted  InquiryStatus = "completed"
	InquiryStatusCancelled  InquiryStatus = "cancelled"
)

var inquiryTransitions = map[InquiryStatus][]InquiryStatus{
	InquiryStatusPending:    {InquiryStatusAccepted, InquiryStatusCancelled},
	InquiryStatusAccepted:   {InquiryStatusInProgress, InquiryStatusCancelled},
	InquiryStatusInProgress: {InquiryStatusCompleted, InquiryStatusCancelled},
}

func ParseInquiryStatus(raw string) (InquiryStatus, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "pending":
		return InquiryStatusPending, nil
	case "accepted":
		return InquiryStatusAccepted, nil
	case "in_progress", "in-progress":
		return InquiryStatusInProgress, nil
	case "completed", "complete":
		return InquiryStatusCompleted, nil
	case "cancelled", "canceled", "cancel":
		return InquiryStatusCancelled, nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown inquiry status " + strconv.Quote(raw)}
}

func (s InquiryStatus) CanTransitionTo(next InquiryStatus) bool {
	for _, allowed := range inquiryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Inquiry struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Phone         string        `json:"phone,omitempty"`
	Subject       string        `json:"subject"`
	Message       string        `json:"message"`
	Status        InquiryStatus `json:"status"`
	AppointmentAt *time.Time    `json:"appointment_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
