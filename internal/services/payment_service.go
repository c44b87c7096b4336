package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	mrand "math/rand/v2"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/notify"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	maxReferenceAttempts = 10
	maxDigitDraws        = 5
	referenceAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referenceSuffixLen   = 6
)

type PaymentConfig struct {
	Timeout    time.Duration
	MaxPending int
	RefPrefix  string
}

type CreatePaymentRequest struct {
	PlanID         uuid.UUID
	AmountOverride *int64
}

// Audit records who moved a payment out of pending and how.
type Audit struct {
	Method string
	By     uuid.UUID
	Note   string
}

// PaymentService owns the payment state machine:
//
//	pending -> verified | rejected | expired
//
// Every transition is a locked read followed by an UPDATE guarded on
// status = 'pending', so two concurrent admin actions cannot both win.
type PaymentService struct {
	db       *gorm.DB
	subs     *SubscriptionService
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cfg      PaymentConfig

	now    func() time.Time
	suffix func() string
	digits func() int
}

func NewPaymentService(db *gorm.DB, subs *SubscriptionService, notifier notify.Notifier, m *metrics.Metrics, cfg PaymentConfig) *PaymentService {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 24 * time.Hour
	}
	if cfg.RefPrefix == "" {
		cfg.RefPrefix = "PAY"
	}
	return &PaymentService{
		db:       db,
		subs:     subs,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		suffix:   randomSuffix,
		digits:   func() int { return 100 + mrand.IntN(900) },
	}
}

// Create opens a pending payment for a plan. The user row is locked for the
// pending-quota check, so concurrent requests from one user cannot both slip
// under the limit. Payments of this user that passed their deadline are
// expired first and do not count.
func (s *PaymentService) Create(ctx context.Context, userID uuid.UUID, req CreatePaymentRequest) (*models.Payment, error) {
	now := s.now()
	var (
		payment models.Payment
		plan    models.SubscriptionPlan
		user    models.User
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user", ErrNotFound)
			}
			return err
		}
		if err := tx.Take(&plan, "id = ? AND is_active = ?", req.PlanID, true).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: plan", ErrNotFound)
			}
			return err
		}

		if err := tx.Model(&models.Payment{}).
			Where("user_id = ? AND status = ? AND expired_at < ?", userID, models.PaymentPending, now).
			Update("status", models.PaymentExpired).Error; err != nil {
			return err
		}

		var pending int64
		if err := tx.Model(&models.Payment{}).
			Where("user_id = ? AND status = ?", userID, models.PaymentPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending >= int64(s.cfg.MaxPending) {
			return fmt.Errorf("%w: at most %d pending payments are allowed, complete or wait for an existing one", ErrTooManyPending, s.cfg.MaxPending)
		}

		base := plan.Price
		if req.AmountOverride != nil {
			if *req.AmountOverride <= 0 {
				return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
			}
			base = *req.AmountOverride
		}

		ref, err := s.generateReference(tx, now)
		if err != nil {
			return err
		}
		digits, err := s.pickUniqueDigits(tx, base)
		if err != nil {
			return err
		}

		payment = models.Payment{
			Reference:    ref,
			UserID:       userID,
			PlanID:       plan.ID,
			BaseAmount:   base,
			UniqueDigits: digits,
			TotalAmount:  base + int64(digits),
			Status:       models.PaymentPending,
			ExpiredAt:    now.Add(s.cfg.Timeout),
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.PaymentsCreated.Inc()
	s.notifier.Notify(notify.PaymentCreated(&payment, plan.Name, user.Email))
	slog.Info("payment created", "payment_ref", payment.Reference, "user_id", userID.String(), "total", payment.TotalAmount)
	return &payment, nil
}

// Verify moves a pending payment to verified and grants the plan's days in
// the same transaction. If the subscription cannot be extended the payment
// stays pending.
func (s *PaymentService) Verify(ctx context.Context, paymentID uuid.UUID, audit Audit) (*models.Payment, error) {
	var sub *models.Subscription
	p, err := s.transition(ctx, paymentID, models.PaymentVerified, audit, func(tx *gorm.DB, p *models.Payment, now time.Time) error {
		// Serializes grants per user: with no active subscription there is
		// no subscription row for ExtendOrCreate to lock.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&models.User{}, "id = ?", p.UserID).Error; err != nil {
			return err
		}
		var plan models.SubscriptionPlan
		if err := tx.Take(&plan, "id = ?", p.PlanID).Error; err != nil {
			return err
		}
		granted, err := s.subs.ExtendOrCreate(tx, p.UserID, &plan.ID, plan.DurationDays, now)
		if err != nil {
			return err
		}
		sub = granted
		p.SubscriptionID = &granted.ID
		return tx.Model(&models.Payment{}).Where("id = ?", p.ID).Update("subscription_id", granted.ID).Error
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(notify.PaymentVerified(p, sub))
	return p, nil
}

// Reject moves a pending payment to rejected. No subscription side effect.
func (s *PaymentService) Reject(ctx context.Context, paymentID uuid.UUID, audit Audit) (*models.Payment, error) {
	p, err := s.transition(ctx, paymentID, models.PaymentRejected, audit, nil)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(notify.PaymentRejected(p))
	return p, nil
}

func (s *PaymentService) transition(
	ctx context.Context,
	paymentID uuid.UUID,
	to string,
	audit Audit,
	after func(tx *gorm.DB, p *models.Payment, now time.Time) error,
) (*models.Payment, error) {
	method, err := normalizeMethod(audit.Method)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		payment   models.Payment
		lapsed    bool
		fromState string
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: payment", ErrNotFound)
			}
			return err
		}
		fromState = payment.Status
		if payment.IsTerminal() {
			return fmt.Errorf("%w: payment %s is already %s", ErrInvalidState, payment.Reference, payment.Status)
		}

		// A deadline that passed before the sweep ran still ends the payment.
		if payment.PastDeadline(now) {
			res := tx.Model(&models.Payment{}).
				Where("id = ? AND status = ?", payment.ID, models.PaymentPending).
				Update("status", models.PaymentExpired)
			if res.Error != nil {
				return res.Error
			}
			payment.Status = models.PaymentExpired
			lapsed = true
			return nil
		}

		// A gateway callback has no acting user; verified_by stays NULL.
		var by *uuid.UUID
		if audit.By != uuid.Nil {
			id := audit.By
			by = &id
		}
		updates := map[string]interface{}{
			"status":              to,
			"verified_at":         now,
			"verified_by":         by,
			"verification_method": method,
		}
		if audit.Note != "" {
			updates["note"] = audit.Note
		}
		if trail, err := json.Marshal(map[string]interface{}{
			"from":   payment.Status,
			"to":     to,
			"method": method,
			"at":     now,
		}); err == nil {
			updates["metadata"] = datatypes.JSON(trail)
		}
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: payment %s changed concurrently", ErrInvalidState, payment.Reference)
		}

		payment.Status = to
		payment.VerifiedAt = &now
		payment.VerifiedBy = by
		payment.VerificationMethod = method
		if trail, ok := updates["metadata"].(datatypes.JSON); ok {
			payment.Metadata = trail
		}
		if audit.Note != "" {
			payment.Note = audit.Note
		}

		if after != nil {
			return after(tx, &payment, now)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrNotFound) {
			slog.Error("payment transition failed", "payment_ref", payment.Reference, "action", "to_"+to, "error", err)
		}
		return nil, storeErr(err)
	}
	if lapsed {
		s.metrics.PaymentTransitions.WithLabelValues(models.PaymentExpired).Inc()
		return nil, fmt.Errorf("%w: payment %s expired at %s", ErrInvalidState, payment.Reference, payment.ExpiredAt.Format(time.RFC3339))
	}

	s.metrics.PaymentTransitions.WithLabelValues(to).Inc()
	slog.Info("payment transitioned", "payment_ref", payment.Reference, "from", fromState, "to", to, "method", method)
	return &payment, nil
}

// SweepExpired flips every pending payment whose deadline has passed.
func (s *PaymentService) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ? AND expired_at < ?", models.PaymentPending, now).
		Update("status", models.PaymentExpired)
	if res.Error != nil {
		return 0, storeErr(res.Error)
	}
	if res.RowsAffected > 0 {
		s.metrics.PaymentTransitions.WithLabelValues(models.PaymentExpired).Add(float64(res.RowsAffected))
		s.notifier.Notify(notify.PaymentsExpired(res.RowsAffected, now))
	}
	return res.RowsAffected, nil
}

// EnforcePendingQuota expires the oldest pending payments of a user that sit
// above the configured maximum. Creation already refuses to go over the
// limit, so this only trims users left above it, e.g. after the limit was
// lowered.
func (s *PaymentService) EnforcePendingQuota(ctx context.Context, userID uuid.UUID) (int64, error) {
	var expired int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status = ?", userID, models.PaymentPending).
			Order("created_at DESC").
			Find(&pending).Error; err != nil {
			return err
		}
		if len(pending) <= s.cfg.MaxPending {
			return nil
		}

		excess := pending[s.cfg.MaxPending:]
		ids := make([]uuid.UUID, len(excess))
		for i, p := range excess {
			ids[i] = p.ID
		}
		res := tx.Model(&models.Payment{}).
			Where("id IN ? AND status = ?", ids, models.PaymentPending).
			Updates(map[string]interface{}{
				"status": models.PaymentExpired,
				"note":   "expired: pending payment limit exceeded",
			})
		if res.Error != nil {
			return res.Error
		}
		expired = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, storeErr(err)
	}
	if expired > 0 {
		s.metrics.PaymentTransitions.WithLabelValues(models.PaymentExpired).Add(float64(expired))
		slog.Info("pending quota enforced", "user_id", userID.String(), "expired", expired)
	}
	return expired, nil
}

// EnforceAllPendingQuotas runs EnforcePendingQuota for every user above the limit.
func (s *PaymentService) EnforceAllPendingQuotas(ctx context.Context) (int64, error) {
	var userIDs []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ?", models.PaymentPending).
		Group("user_id").
		Having("COUNT(*) > ?", s.cfg.MaxPending).
		Pluck("user_id", &userIDs).Error; err != nil {
		return 0, storeErr(err)
	}

	var total int64
	for _, id := range userIDs {
		n, err := s.EnforcePendingQuota(ctx, id)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ListForUser returns a user's payments, newest first.
func (s *PaymentService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, storeErr(err)
}

// Get returns one payment to its owner or a privileged caller.
func (s *PaymentService) Get(ctx context.Context, caller identity.Caller, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).Take(&payment, "id = ?", paymentID).Error; err != nil {
		return nil, storeErr(err)
	}
	if !caller.CanAccess(payment.UserID) {
		return nil, fmt.Errorf("%w: payment belongs to another user", ErrForbidden)
	}
	return &payment, nil
}

// FindByReference looks a payment up by its public reference.
func (s *PaymentService) FindByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).Take(&payment, "reference = ?", reference).Error; err != nil {
		return nil, storeErr(err)
	}
	return &payment, nil
}

// generateReference draws PREFIX-YYYYMMDD-XXXXXX references until one is
// free, giving up after maxReferenceAttempts.
func (s *PaymentService) generateReference(tx *gorm.DB, now time.Time) (string, error) {
	for i := 0; i < maxReferenceAttempts; i++ {
		ref := fmt.Sprintf("%s-%s-%s", s.cfg.RefPrefix, now.Format("20060102"), s.suffix())
		var count int64
		if err := tx.Model(&models.Payment{}).Where("reference = ?", ref).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return ref, nil
		}
	}
	return "", fmt.Errorf("%w: no free payment reference after %d attempts", ErrGenerationExhausted, maxReferenceAttempts)
}

// pickUniqueDigits draws a 100-999 surcharge, preferring one whose total no
// other pending payment uses. Collisions are tolerated after maxDigitDraws.
func (s *PaymentService) pickUniqueDigits(tx *gorm.DB, base int64) (int, error) {
	digits := s.digits()
	for i := 0; i < maxDigitDraws; i++ {
		var count int64
		if err := tx.Model(&models.Payment{}).
			Where("status = ? AND total_amount = ?", models.PaymentPending, base+int64(digits)).
			Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			return digits, nil
		}
		digits = s.digits()
	}
	return digits, nil
}

func normalizeMethod(method string) (string, error) {
	switch method {
	case "":
		return models.VerificationManual, nil
	case models.VerificationManual, models.VerificationQRIS, models.VerificationTripay,
		models.VerificationBankTransfer, models.VerificationSystem:
		return method, nil
	default:
		return "", fmt.Errorf("%w: unknown verification method %q", ErrInvalidInput, method)
	}
}

func randomSuffix() string {
	b := make([]byte, referenceSuffixLen)
	limit := big.NewInt(int64(len(referenceAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			n = big.NewInt(int64(mrand.IntN(len(referenceAlphabet))))
		}
		b[i] = referenceAlphabet[n.Int64()]
	}
	return string(b)
}
