package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taosiq/p2pskillx-sub000/internal/application/credit"
	"github.com/taosiq/p2pskillx-sub000/internal/application/social"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/memory"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/validation"
)

func newService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]Option{WithBcryptCost(bcrypt.MinCost)}, opts...)
	return NewService(s, credit.NewLedger(s, logger.Nop()), logger.Nop(), opts...), s
}

func validInput() RegisterInput {
	return RegisterInput{
		Email:       " Ada@Example.com ",
		Password:    "correct horse",
		DisplayName: "Ada",
		Skills:      []string{"Go", " "},
		Interests:   []string{"cooking"},
	}
}

func TestRegister(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, user.DefaultCredits, u.Credits)
	assert.Equal(t, 1, u.Level)
	assert.Equal(t, []string{"Go"}, u.Skills)
	assert.Empty(t, u.PasswordHash, "hash is never returned")

	doc, ok := s.Peek(store.Users, u.ID)
	require.True(t, ok)
	assert.NotEmpty(t, doc["passwordHash"])

	_, err = svc.Register(ctx, validInput())
	assert.ErrorIs(t, err, shared.ErrEmailTaken)
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestRegister_Validation(t *testing.T) {
	svc, s := newService(t)
	in := validInput()
	in.Email = "not-an-email"
	in.Password = "short"

	_, err := svc.Register(context.Background(), in)
	assert.True(t, shared.IsValidation(err))
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
	assert.Equal(t, 0, s.Writes())
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	registered, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	u, err := svc.Authenticate(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, u.ID)

	_, err = svc.Authenticate(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestVerifySkill(t *testing.T) {
	svc, s := newService(t, WithClock(func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }))
	require.NoError(t, s.Seed(store.Users, "u1", user.New(user.NewParams{ID: "u1"}, time.Now())))
	ctx := context.Background()

	res, err := svc.VerifySkill(ctx, "u1", QuizResult{Skill: "Data Science", Category: "science", Score: 6, Total: 10})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 60, res.Percent)
	assert.Equal(t, 0, res.XPAwarded)

	res, err = svc.VerifySkill(ctx, "u1", QuizResult{Skill: "Data Science", Category: "science", Score: 7, Total: 10})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, shared.SkillBeginner, res.Level)
	assert.Equal(t, 20, res.XPAwarded)

	res, err = svc.VerifySkill(ctx, "u1", QuizResult{Skill: "data science", Score: 7, Total: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, res.XPAwarded, "same level twice awards nothing")

	res, err = svc.VerifySkill(ctx, "u1", QuizResult{Skill: "Data Science", Score: 19, Total: 20})
	require.NoError(t, err)
	assert.Equal(t, shared.SkillAdvanced, res.Level)
	assert.Equal(t, 30, res.XPAwarded)
	assert.Equal(t, 50, res.XP)

	doc, _ := s.Peek(store.Users, "u1")
	u, err := user.FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, shared.SkillAdvanced, u.VerifiedSkills["data-science"].Level)
	assert.Equal(t, 50, u.XP)
	assert.Contains(t, u.Skills, "Data Science")
}

func TestVerifySkill_Invalid(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.VerifySkill(ctx, "u1", QuizResult{Skill: "go", Score: 11, Total: 10})
	assert.True(t, shared.IsValidation(err))

	_, err = svc.VerifySkill(ctx, "ghost", QuizResult{Skill: "go", Score: 10, Total: 10})
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}

func TestGrantCredits(t *testing.T) {
	svc, s := newService(t)
	require.NoError(t, s.Seed(store.Users, "u1", map[string]any{"credits": 5}))

	adj, err := svc.GrantCredits(context.Background(), "u1", 20)
	require.NoError(t, err)
	assert.Equal(t, 25, adj.New)

	txs, err := s.Query(context.Background(), store.Query{Collection: store.Transactions})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "grant", txs[0]["type"])
	assert.Equal(t, float64(-20), txs[0]["creditsDeducted"])

	_, err = svc.GrantCredits(context.Background(), "u1", 0)
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	assert.True(t, shared.IsValidation(err))
}

type countingReconciler struct{ calls []string }

func (r *countingReconciler) Reconcile(_ context.Context, userID string) (social.ReconcileResult, error) {
	r.calls = append(r.calls, userID)
	return social.ReconcileResult{UserID: userID}, nil
}

func TestGetProfile(t *testing.T) {
	rec := &countingReconciler{}
	svc, s := newService(t, WithReconciler(rec))
	u := user.New(user.NewParams{ID: "u1", PasswordHash: "secret"}, time.Now())
	require.NoError(t, s.Seed(store.Users, "u1", u))

	got, err := svc.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Empty(t, got.PasswordHash)
	assert.Equal(t, []string{"u1"}, rec.calls)

	_, err = svc.GetProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}
