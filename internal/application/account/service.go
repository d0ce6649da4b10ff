// Package account registers users and maintains profile fields outside
// the credit and follow protocols: skill verification, xp and admin
// credit grants.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/taosiq/p2pskillx-sub000/internal/application/credit"
	"github.com/taosiq/p2pskillx-sub000/internal/application/social"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/retry"
	"github.com/taosiq/p2pskillx-sub000/pkg/validation"
)

// CounterReconciler repairs follow counters. *social.Manager implements it.
type CounterReconciler interface {
	Reconcile(ctx context.Context, userID string) (social.ReconcileResult, error)
}

// RegisterInput is a new account.
type RegisterInput struct {
	Email       string   `json:"email" validate:"required,email,max=254"`
	Password    string   `json:"password" validate:"required,min=8,max=72"`
	DisplayName string   `json:"displayName" validate:"notblank,max=64"`
	Skills      []string `json:"skills" validate:"max=20,dive,notblank,max=40"`
	Interests   []string `json:"interests" validate:"max=20,dive,notblank,max=40"`
}

// QuizResult is a graded skill quiz.
type QuizResult struct {
	Skill    string `json:"skill" validate:"notblank,max=40"`
	Category string `json:"category" validate:"max=40"`
	Score    int    `json:"score" validate:"min=0"`
	Total    int    `json:"total" validate:"min=1,gtefield=Score"`
}

// SkillResult is the outcome of VerifySkill.
type SkillResult struct {
	Skill     string            `json:"skill"`
	Passed    bool              `json:"passed"`
	Percent   int               `json:"percent"`
	Level     shared.SkillLevel `json:"level,omitempty"`
	XPAwarded int               `json:"xpAwarded"`
	XP        int               `json:"xp"`
	UserLevel int               `json:"userLevel"`
}

// Service handles accounts.
type Service struct {
	store      store.Store
	ledger     *credit.Ledger
	reconciler CounterReconciler
	events     shared.EventPublisher
	retrier    *retry.Retrier
	log        *logger.Logger
	now        func() time.Time
	bcryptCost int
}

// Option configures a Service.
type Option func(*Service)

func WithReconciler(r CounterReconciler) Option { return func(s *Service) { s.reconciler = r } }
func WithEvents(p shared.EventPublisher) Option { return func(s *Service) { s.events = p } }
func WithClock(now func() time.Time) Option     { return func(s *Service) { s.now = now } }

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.bcryptCost = cost } }

// NewService creates a Service.
func NewService(st store.Store, ledger *credit.Ledger, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		store:      st,
		ledger:     ledger,
		log:        log.With(logger.Component("account")),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
		retrier: retry.ConflictRetrier(func(err error) bool {
			return errors.Is(err, store.ErrPreconditionFailed)
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the user document with the starting balance. Every
// later operation can rely on the profile existing.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	if err := validation.Struct(in); err != nil {
		return nil, shared.WrapError("account", "Register", shared.ErrValidation, "invalid registration", err)
	}
	email := shared.NormalizeEmail(in.Email)

	taken, err := s.store.Query(ctx, store.Query{
		Collection: store.Users,
		Filters:    []store.Filter{store.Eq(user.FieldEmail, email)},
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if len(taken) > 0 {
		return nil, shared.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := user.New(user.NewParams{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  in.DisplayName,
		PasswordHash: string(hash),
		Skills:       trimAll(in.Skills),
		Interests:    trimAll(in.Interests),
	}, s.now())
	doc, err := u.Document()
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, store.Users, u.ID, doc); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.publish(shared.NewEntityEvent(shared.EventUserRegistered, u.ID, u.ID))
	s.log.Info("user registered", logger.UserID(u.ID), logger.Credits(u.Credits))
	return u.Public(), nil
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*user.User, error) {
	docs, err := s.store.Query(ctx, store.Query{
		Collection: store.Users,
		Filters:    []store.Filter{store.Eq(user.FieldEmail, shared.NormalizeEmail(email))},
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	if len(docs) == 0 {
		return nil, shared.ErrUnauthorized
	}
	u, err := user.FromDocument(docs[0])
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, shared.ErrUnauthorized
	}
	return u.Public(), nil
}

// GetProfile returns the public profile. Follow counters are reconciled
// on the way when a reconciler is configured.
func (s *Service) GetProfile(ctx context.Context, userID string) (*user.User, error) {
	if err := shared.ValidateID(userID); err != nil {
		return nil, err
	}
	if s.reconciler != nil {
		if _, err := s.reconciler.Reconcile(ctx, userID); err != nil && !shared.IsNotFound(err) {
			s.log.Debug("profile reconcile failed", logger.UserID(userID), logger.Err(err))
		}
	}
	u, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

// VerifySkill records a passed quiz. Re-verifying at the same or a lower
// level changes nothing; an upgrade awards the xp difference.
func (s *Service) VerifySkill(ctx context.Context, userID string, q QuizResult) (*SkillResult, error) {
	if err := shared.ValidateID(userID); err != nil {
		return nil, err
	}
	if err := validation.Struct(q); err != nil {
		return nil, shared.WrapError("account", "VerifySkill", shared.ErrValidation, "invalid quiz result", err)
	}
	skill := strings.TrimSpace(q.Skill)
	res := &SkillResult{Skill: skill, Percent: q.Score * 100 / q.Total}

	level, passed := shared.SkillLevelForScore(q.Score, q.Total)
	if !passed {
		u, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		res.XP, res.UserLevel = u.XP, user.LevelForXP(u.XP)
		return res, nil
	}
	res.Passed, res.Level = true, level

	out, err := retry.DoWithData(ctx, s.retrier, func(ctx context.Context) (*SkillResult, error) {
		r := *res
		return &r, s.verifyOnce(ctx, userID, skill, q.Category, &r)
	})
	if errors.Is(err, store.ErrPreconditionFailed) {
		return nil, shared.WrapError("account", "VerifySkill", shared.ErrConcurrentModification, "profile kept changing", err)
	}
	if err != nil {
		return nil, err
	}

	if out.XPAwarded > 0 {
		s.publish(shared.NewEntityEvent(shared.EventSkillVerified, userID, userID))
		s.log.Info("skill verified", logger.UserID(userID), logger.String("skill", skill),
			logger.String("level", string(level)), logger.Int("xp_awarded", out.XPAwarded))
	}
	return out, nil
}

func (s *Service) verifyOnce(ctx context.Context, userID, skill, category string, res *SkillResult) error {
	doc, err := s.store.Get(ctx, store.Users, userID)
	if errors.Is(err, store.ErrNotFound) {
		return retry.Permanent(shared.ErrUserNotFound)
	}
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to load user %s: %w", userID, err))
	}
	u, err := user.FromDocument(doc)
	if err != nil {
		return retry.Permanent(err)
	}

	award := user.SkillXP(res.Level)
	if prev, ok := u.VerifiedSkills[user.SkillKey(skill)]; ok {
		award -= user.SkillXP(prev.Level)
	}
	res.XP, res.UserLevel = u.XP, user.LevelForXP(u.XP)
	if award <= 0 {
		return nil
	}

	xp := u.XP + award
	rawXP, _ := store.Lookup(doc, user.FieldXP)
	guard := store.Equals(user.FieldXP, rawXP)
	if rawXP == nil {
		guard = store.Absent(user.FieldXP)
	}
	now := s.now().UTC()
	err = s.store.Update(ctx, store.Users, userID, []store.Op{
		store.Set(user.VerifiedSkillPath(skill), user.VerifiedSkill{Level: res.Level, VerifiedAt: now, Category: category}),
		store.AddToSet(user.FieldSkills, skill),
		store.Set(user.FieldXP, xp),
		store.Set(user.FieldLevel, user.LevelForXP(xp)),
		store.Set(user.FieldUpdatedAt, now),
	}, guard)
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return err
		}
		return retry.Permanent(fmt.Errorf("failed to record skill: %w", err))
	}
	res.XPAwarded, res.XP, res.UserLevel = award, xp, user.LevelForXP(xp)
	return nil
}

// GrantCredits tops up a balance and logs the grant.
func (s *Service) GrantCredits(ctx context.Context, userID string, amount int) (credit.Adjustment, error) {
	if err := shared.ValidateID(userID); err != nil {
		return credit.Adjustment{}, err
	}
	adj, err := s.ledger.Adjust(ctx, userID, amount, credit.Credit)
	if err != nil {
		return credit.Adjustment{}, err
	}
	if _, err := s.ledger.Record(context.WithoutCancel(ctx), credit.Entry{
		UserID:          userID,
		CreditsDeducted: -amount,
		Type:            credit.EntryGrant,
	}); err != nil {
		s.log.Warn("failed to log credit grant", logger.UserID(userID), logger.Err(err))
	}
	s.log.Info("credits granted", logger.UserID(userID), logger.Amount(amount), logger.Credits(adj.New))
	return adj, nil
}

func (s *Service) load(ctx context.Context, userID string) (*user.User, error) {
	doc, err := s.store.Get(ctx, store.Users, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return user.FromDocument(doc)
}

func (s *Service) publish(e shared.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(e); err != nil {
		s.log.Warn("failed to publish event", logger.String("event", string(e.EventType())), logger.Err(err))
	}
}

func trimAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
