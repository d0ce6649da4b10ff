package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/course"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/memory"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

type sink struct{ to []string }

func (s *sink) Notify(_ context.Context, kind notification.Kind, to string, _ map[string]any) error {
	s.to = append(s.to, string(kind)+":"+to)
	return nil
}

func setup(t *testing.T) (*Service, *memory.Store, *sink) {
	t.Helper()
	st := memory.New()
	n := &sink{}
	creator := user.New(user.NewParams{ID: "mentor"}, time.Now())
	creator.Followers = []string{"f1", "f2"}
	require.NoError(t, st.Seed(store.Users, "mentor", creator))
	require.NoError(t, st.Seed(store.Users, "other", user.New(user.NewParams{ID: "other"}, time.Now())))
	return NewService(st, n, logger.Nop()), st, n
}

func input() CourseInput {
	return CourseInput{
		Title:    "  Go Concurrency ",
		Category: "Distributed Systems",
		Tags:     []string{"Go", "go", " channels "},
		Credits:  25,
	}
}

func TestCreateCourse(t *testing.T) {
	svc, st, n := setup(t)

	c, err := svc.CreateCourse(context.Background(), "mentor", input())
	require.NoError(t, err)
	assert.Equal(t, "Go Concurrency", c.Title)
	assert.Equal(t, "distributed-systems", c.Category)
	assert.Equal(t, []string{"go", "channels"}, c.Tags)
	assert.Equal(t, course.StatusPublished, c.Status)
	assert.Equal(t, 0, c.Enrollments)

	owner, _ := st.Peek(store.Users, "mentor")
	assert.Equal(t, []any{c.ID}, owner["courses"])
	assert.Equal(t, []string{"following-course:f1", "following-course:f2"}, n.to)
}

func TestCreateCourse_Draft(t *testing.T) {
	svc, _, n := setup(t)
	in := input()
	in.Draft = true

	c, err := svc.CreateCourse(context.Background(), "mentor", in)
	require.NoError(t, err)
	assert.Equal(t, course.StatusDraft, c.Status)
	assert.Empty(t, n.to)
}

func TestCreateCourse_Rejections(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()

	cheap := input()
	cheap.Credits = 4
	_, err := svc.CreateCourse(ctx, "mentor", cheap)
	assert.ErrorIs(t, err, shared.ErrCoursePriceTooLow)

	untitled := input()
	untitled.Title = "  "
	_, err = svc.CreateCourse(ctx, "mentor", untitled)
	assert.True(t, shared.IsValidation(err))

	_, err = svc.CreateCourse(ctx, "nobody", input())
	assert.ErrorIs(t, err, shared.ErrActorProfileMissing)
	assert.Equal(t, 0, st.Writes())
}

func TestUpdateCourse(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()
	c, err := svc.CreateCourse(ctx, "mentor", input())
	require.NoError(t, err)

	price := 40
	title := "Advanced Go"
	updated, err := svc.UpdateCourse(ctx, "mentor", c.ID, CourseUpdate{Title: &title, Credits: &price})
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Credits)

	doc, _ := st.Peek(store.Courses, c.ID)
	assert.Equal(t, "Advanced Go", doc["title"])
	assert.Equal(t, float64(40), doc["credits"])
	assert.Equal(t, "mentor", doc["creatorId"])

	_, err = svc.UpdateCourse(ctx, "other", c.ID, CourseUpdate{Title: &title})
	assert.ErrorIs(t, err, shared.ErrNotCourseOwner)
	assert.True(t, shared.IsForbidden(err))

	low := 1
	_, err = svc.UpdateCourse(ctx, "mentor", c.ID, CourseUpdate{Credits: &low})
	assert.True(t, shared.IsValidation(err))
}

func TestDeleteCourse(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()
	c, err := svc.CreateCourse(ctx, "mentor", input())
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteCourse(ctx, "other", c.ID), shared.ErrNotCourseOwner)
	require.NoError(t, svc.DeleteCourse(ctx, "mentor", c.ID))

	_, err = svc.GetCourse(ctx, c.ID)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
	owner, _ := st.Peek(store.Users, "mentor")
	assert.Empty(t, owner["courses"])
}

func TestListByCreator(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()
	_, err := svc.CreateCourse(ctx, "mentor", input())
	require.NoError(t, err)
	_, err = svc.CreateCourse(ctx, "mentor", input())
	require.NoError(t, err)

	list, err := svc.ListByCreator(ctx, "mentor", 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = svc.ListByCreator(ctx, "other", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
