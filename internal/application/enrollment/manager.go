// Package enrollment implements paying for a course with credits.
//
// Enroll is a saga over two documents (the user and the course) plus the
// transaction log and notifications:
//
//	load course → load user → idempotency check → balance check →
//	debit → record enrollment → bump course counter → log → notify
//
// Only the debit and the enrollment record are critical. If recording
// fails after the debit, the debit is refunded before the error surfaces.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taosiq/p2pskillx-sub000/internal/application/credit"
	"github.com/taosiq/p2pskillx-sub000/internal/application/saga"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/course"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// STEPS
// ═══════════════════════════════════════════════════════════════════════════

const (
	StepDebit            = "debit"
	StepRecordEnrollment = "record_enrollment"
	StepIncrementCounter = "increment_counter"
	StepLogTransaction   = "log_transaction"
	StepNotifyEnrollee   = "notify_enrollee"
	StepNotifyCreator    = "notify_creator"
)

// ═══════════════════════════════════════════════════════════════════════════
// TYPES
// ═══════════════════════════════════════════════════════════════════════════

// Result of Enroll. AlreadyEnrolled is a success variant: nothing was
// charged.
type Result struct {
	Success         bool   `json:"success"`
	AlreadyEnrolled bool   `json:"alreadyEnrolled,omitempty"`
	CurrentCredits  int    `json:"currentCredits"`
	Message         string `json:"message,omitempty"`
}

// NeedsReconciliationError is returned when the enrollment record failed
// and the refund failed too. The user has been charged without an
// enrollment until an operator or reconcile pass repairs it.
type NeedsReconciliationError struct {
	UserID   string
	CourseID string
	Amount   int
	Cause    error
}

func (e *NeedsReconciliationError) Error() string {
	return fmt.Sprintf("enrollment of %s in %s charged %d credits without a record: %v",
		e.UserID, e.CourseID, e.Amount, e.Cause)
}

func (e *NeedsReconciliationError) Unwrap() error { return e.Cause }

func (e *NeedsReconciliationError) Is(target error) bool {
	return target == shared.ErrNeedsReconciliation
}

// Locker serializes enrollments of one (user, course) pair across
// processes. It narrows the race window; the conditional record write is
// what guarantees a single enrollment.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Config tunes the manager.
type Config struct {
	// LazyCreateProfile creates a default profile for an authenticated user
	// without one instead of failing with ErrUserProfileMissing.
	LazyCreateProfile bool
	LockTTL           time.Duration
}

// DefaultConfig keeps lazy creation off.
func DefaultConfig() Config {
	return Config{LazyCreateProfile: false, LockTTL: 10 * time.Second}
}

// ═══════════════════════════════════════════════════════════════════════════
// MANAGER
// ═══════════════════════════════════════════════════════════════════════════

// Manager runs enrollments.
type Manager struct {
	store    store.Store
	ledger   *credit.Ledger
	notifier notification.Notifier
	events   shared.EventPublisher
	locker   Locker
	runner   *saga.Runner
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithConfig(cfg Config) Option              { return func(m *Manager) { m.cfg = cfg } }
func WithLocker(l Locker) Option                { return func(m *Manager) { m.locker = l } }
func WithEvents(p shared.EventPublisher) Option { return func(m *Manager) { m.events = p } }
func WithClock(now func() time.Time) Option     { return func(m *Manager) { m.now = now } }

// NewManager wires a Manager. notifier may be nil.
func NewManager(s store.Store, ledger *credit.Ledger, notifier notification.Notifier, log *logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	if notifier == nil {
		notifier = notification.Nop
	}
	m := &Manager{
		store:    s,
		ledger:   ledger,
		notifier: notifier,
		cfg:      DefaultConfig(),
		log:      log.With(logger.Component("enrollment")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runner = saga.NewRunner("enrollment", m.log)
	return m
}

// Enroll charges userID the course price and records the enrollment.
func (m *Manager) Enroll(ctx context.Context, userID, courseID string) (*Result, error) {
	if err := shared.ValidateID(userID); err != nil {
		return nil, err
	}
	if err := shared.ValidateID(courseID); err != nil {
		return nil, err
	}
	log := m.log.With(logger.UserID(userID), logger.CourseID(courseID))

	// Step 1: course and price.
	crs, err := m.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	price := crs.Price()
	if price <= 0 {
		return nil, shared.NewDomainError("enrollment", "Enroll", shared.ErrValidation, "course has no valid price")
	}

	// Step 2: user profile.
	u, err := m.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if m.locker != nil {
		release, lockErr := m.locker.Acquire(ctx, lockKey(userID, courseID), m.cfg.LockTTL)
		if lockErr != nil {
			log.Warn("enrollment lock unavailable, relying on conditional write", logger.Err(lockErr))
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("failed to release enrollment lock", logger.Err(err))
				}
			}()
			// Re-read under the lock so a concurrent enrollment that just
			// finished is seen by the idempotency check.
			if u, err = m.loadUser(ctx, userID); err != nil {
				return nil, err
			}
		}
	}

	// Step 3: idempotency.
	if u.IsEnrolled(courseID) {
		return &Result{Success: true, AlreadyEnrolled: true, CurrentCredits: u.Credits, Message: "already enrolled"}, nil
	}

	// Drafts and archived courses take no new enrollments.
	if !crs.IsOpen() {
		return nil, shared.WrapError("enrollment", "Enroll", shared.ErrCourseNotOpen, "course "+courseID+" is "+string(crs.Status), nil)
	}

	// Step 4: balance.
	if u.Credits < price {
		return nil, &shared.InsufficientCreditsError{Balance: u.Credits, Required: price}
	}

	// Steps 5-9.
	var balance int
	enrolledAt := m.now().UTC()
	steps := []saga.Step{
		{
			Name: StepDebit,
			Action: func(ctx context.Context) error {
				adj, err := m.ledger.Adjust(ctx, userID, price, credit.Debit)
				if err != nil {
					return err
				}
				balance = adj.New
				return nil
			},
			Compensate: func(ctx context.Context) error {
				adj, err := m.ledger.Adjust(ctx, userID, price, credit.Credit)
				if err != nil {
					return err
				}
				balance = adj.New
				return nil
			},
		},
		{
			Name: StepRecordEnrollment,
			Action: func(ctx context.Context) error {
				rec := user.Enrollment{EnrolledAt: enrolledAt, CreditsSpent: price}
				return m.store.Update(ctx, store.Users, userID,
					[]store.Op{
						store.Set(user.EnrollmentPath(courseID), rec),
						store.Set(user.FieldUpdatedAt, enrolledAt),
					},
					store.Absent(user.EnrollmentPath(courseID)),
				)
			},
		},
		{
			Name:       StepIncrementCounter,
			BestEffort: true,
			Action: func(ctx context.Context) error {
				return m.store.Update(ctx, store.Courses, courseID, []store.Op{
					store.Increment(course.FieldEnrollments, 1),
					store.Set(course.FieldUpdatedAt, enrolledAt),
				})
			},
		},
		{
			Name:       StepLogTransaction,
			BestEffort: true,
			Action: func(ctx context.Context) error {
				_, err := m.ledger.Record(ctx, credit.Entry{
					UserID:          userID,
					CourseID:        courseID,
					CreditsDeducted: price,
					Timestamp:       enrolledAt,
					Type:            credit.EntryCourseEnrollment,
				})
				return err
			},
		},
		{
			Name:       StepNotifyEnrollee,
			BestEffort: true,
			Action: func(ctx context.Context) error {
				return m.notifier.Notify(ctx, notification.KindCreditDeduction, userID, map[string]any{
					notification.PayloadCourseID:  courseID,
					notification.PayloadTitle:     crs.Title,
					notification.PayloadAmount:    price,
					notification.PayloadRemaining: balance,
				})
			},
		},
	}
	if crs.CreatorID != "" && crs.CreatorID != userID {
		steps = append(steps, saga.Step{
			Name:       StepNotifyCreator,
			BestEffort: true,
			Action: func(ctx context.Context) error {
				return m.notifier.Notify(ctx, notification.KindCourseEnrollment, crs.CreatorID, map[string]any{
					notification.PayloadActorID:  userID,
					notification.PayloadCourseID: courseID,
					notification.PayloadTitle:    crs.Title,
				})
			},
		})
	}

	if _, err := m.runner.Run(ctx, steps...); err != nil {
		return m.handleFailure(ctx, log, userID, courseID, price, u.Credits, err)
	}

	m.publish(log, shared.NewEnrollmentCompletedEvent(userID, courseID, crs.CreatorID, price))
	log.Info("user enrolled", logger.Amount(price), logger.Credits(balance))
	return &Result{Success: true, CurrentCredits: balance, Message: "enrolled"}, nil
}

// handleFailure maps a failed saga to the caller-facing outcome.
func (m *Manager) handleFailure(ctx context.Context, log *logger.Logger, userID, courseID string, price, before int, err error) (*Result, error) {
	se, ok := saga.AsError(err)
	if !ok {
		return nil, err
	}

	if se.Step == StepDebit {
		// Nothing was written. The balance may have dropped since step 4.
		return nil, se.Cause
	}

	if !se.Compensated() {
		log.Error("refund failed, enrollment needs reconciliation",
			logger.Amount(price), logger.Err(se.Cause), logger.F("compensation_error", se.CompensationErr.Error()))
		return nil, &NeedsReconciliationError{
			UserID:   userID,
			CourseID: courseID,
			Amount:   price,
			Cause:    errors.Join(se.Cause, se.CompensationErr),
		}
	}

	m.recordRefund(ctx, log, userID, courseID, price)

	if errors.Is(se.Cause, store.ErrPreconditionFailed) {
		// A concurrent Enroll recorded the course first; our debit was undone.
		balance, berr := m.ledger.Balance(context.WithoutCancel(ctx), userID)
		if berr != nil {
			balance = before - price
		}
		log.Info("concurrent enrollment detected, debit refunded")
		return &Result{Success: true, AlreadyEnrolled: true, CurrentCredits: balance, Message: "already enrolled"}, nil
	}

	return nil, shared.WrapError("enrollment", "Enroll", shared.ErrEnrollmentWriteFailed,
		"enrollment write failed after debit, credits refunded", se.Cause)
}

func (m *Manager) recordRefund(ctx context.Context, log *logger.Logger, userID, courseID string, price int) {
	ctx = context.WithoutCancel(ctx)
	if _, err := m.ledger.Record(ctx, credit.Entry{
		UserID:          userID,
		CourseID:        courseID,
		CreditsDeducted: -price,
		Type:            credit.EntryEnrollmentRefund,
	}); err != nil {
		log.Warn("failed to log refund", logger.Err(err))
	}
	m.publish(log, shared.NewEnrollmentRefundedEvent(userID, courseID, price, "enrollment write failed"))
}

func (m *Manager) publish(log *logger.Logger, e shared.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(e); err != nil {
		log.Warn("failed to publish event", logger.String("event", string(e.EventType())), logger.Err(err))
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// LOADERS
// ═══════════════════════════════════════════════════════════════════════════

func (m *Manager) loadCourse(ctx context.Context, courseID string) (*course.Course, error) {
	doc, err := m.store.Get(ctx, store.Courses, courseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, shared.WrapError("enrollment", "Enroll", shared.ErrCourseNotFound, "course "+courseID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load course %s: %w", courseID, err)
	}
	return course.FromDocument(doc)
}

func (m *Manager) loadUser(ctx context.Context, userID string) (*user.User, error) {
	doc, err := m.store.Get(ctx, store.Users, userID)
	if err == nil {
		return user.FromDocument(doc)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if !m.cfg.LazyCreateProfile {
		return nil, shared.WrapError("enrollment", "Enroll", shared.ErrUserProfileMissing, "user "+userID, nil)
	}

	u := user.New(user.NewParams{ID: userID}, m.now())
	newDoc, err := u.Document()
	if err == nil {
		err = m.store.Set(ctx, store.Users, userID, newDoc)
	}
	if err != nil {
		return nil, shared.WrapError("enrollment", "Enroll", shared.ErrUserProfileMissing, "could not create profile", err)
	}
	m.log.Info("created missing profile", logger.UserID(userID), logger.Credits(u.Credits))
	return u, nil
}

func lockKey(userID, courseID string) string {
	return "enroll:" + userID + ":" + courseID
}
