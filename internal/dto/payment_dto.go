package dto

import "github.com/google/uuid"

type CreatePaymentRequest struct {
	PlanID uuid.UUID `json:"plan_id"`
	// Amount overrides the plan price; honored for admins only.
	Amount *int64 `json:"amount,omitempty"`
	// UserID creates the payment on behalf of another user; admins only.
	UserID *uuid.UUID `json:"user_id,omitempty"`
}

type PaymentDecisionRequest struct {
	Method string `json:"method"`
	Note   string `json:"note"`
}

type CreatePlanRequest struct {
	Name         string `json:"name"`
	DurationDays int    `json:"duration_days"`
	Price        int64  `json:"price"`
}

type SweepResponse struct {
	Expired       int64 `json:"expired"`
	QuotaExpired  int64 `json:"quota_expired"`
	LapsedExpired int64 `json:"subscriptions_expired"`
}

// PaymentCallbackRequest is posted by the payment gateway once a transfer
// settles or fails.
type PaymentCallbackRequest struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	Note      string `json:"note"`
}
