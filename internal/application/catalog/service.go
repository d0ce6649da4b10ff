// Package catalog lets creators publish, edit and withdraw courses.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/course"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/validation"
)

// CourseInput creates a course.
type CourseInput struct {
	Title       string           `json:"title" validate:"notblank,max=120"`
	Description string           `json:"description" validate:"max=4000"`
	Category    string           `json:"category" validate:"notblank,max=40"`
	Tags        []string         `json:"tags" validate:"max=10,dive,max=30"`
	Credits     int              `json:"credits" validate:"min=5,max=1000"`
	Sections    []course.Section `json:"sections" validate:"max=50"`
	Draft       bool             `json:"draft"`
}

// CourseUpdate changes a course. Nil fields are left alone. The creator
// can never change.
type CourseUpdate struct {
	Title       *string          `json:"title" validate:"omitnil,notblank,max=120"`
	Description *string          `json:"description" validate:"omitnil,max=4000"`
	Category    *string          `json:"category" validate:"omitnil,notblank,max=40"`
	Tags        []string         `json:"tags" validate:"omitempty,max=10,dive,max=30"`
	Credits     *int             `json:"credits" validate:"omitnil,min=5,max=1000"`
	Sections    []course.Section `json:"sections" validate:"omitempty,max=50"`
	Status      *course.Status   `json:"status" validate:"omitnil,oneof=draft published archived"`
}

// Service manages courses.
type Service struct {
	store    store.Store
	notifier notification.Notifier
	events   shared.EventPublisher
	log      *logger.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithEvents(p shared.EventPublisher) Option { return func(s *Service) { s.events = p } }
func WithClock(now func() time.Time) Option     { return func(s *Service) { s.now = now } }

// NewService creates a Service. notifier may be nil.
func NewService(st store.Store, notifier notification.Notifier, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if notifier == nil {
		notifier = notification.Nop
	}
	s := &Service{
		store:    st,
		notifier: notifier,
		log:      log.With(logger.Component("catalog")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCourse stores a new course owned by creatorID and tells the
// creator's followers about it when it is published.
func (s *Service) CreateCourse(ctx context.Context, creatorID string, in CourseInput) (*course.Course, error) {
	if err := shared.ValidateID(creatorID); err != nil {
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		if in.Credits < course.MinPrice {
			return nil, shared.WrapError("catalog", "CreateCourse", shared.ErrCoursePriceTooLow, "invalid course", err)
		}
		return nil, shared.WrapError("catalog", "CreateCourse", shared.ErrValidation, "invalid course", err)
	}

	creatorDoc, err := s.store.Get(ctx, store.Users, creatorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, shared.ErrActorProfileMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load creator %s: %w", creatorID, err)
	}
	creator, err := user.FromDocument(creatorDoc)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status := course.StatusPublished
	if in.Draft {
		status = course.StatusDraft
	}
	c := &course.Course{
		ID:          uuid.NewString(),
		CreatorID:   creatorID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Category:    course.NormalizeCategory(in.Category),
		Tags:        course.NormalizeTags(in.Tags),
		Credits:     in.Credits,
		Sections:    nonNilSections(in.Sections),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	doc, err := c.Document()
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, store.Courses, c.ID, doc); err != nil {
		return nil, fmt.Errorf("failed to create course: %w", err)
	}

	// The owner's course list is denormalized; a miss is repaired by
	// listing courses by creator.
	if err := s.store.Update(ctx, store.Users, creatorID, []store.Op{
		store.AddToSet(user.FieldCourses, c.ID),
	}); err != nil {
		s.log.Warn("failed to add course to owner", logger.CourseID(c.ID), logger.Err(err))
	}

	if status == course.StatusPublished {
		s.fanOut(ctx, creator.Followers, notification.KindFollowingCourse, map[string]any{
			notification.PayloadActorID:  creatorID,
			notification.PayloadCourseID: c.ID,
			notification.PayloadTitle:    c.Title,
		})
	}
	s.publish(shared.NewEntityEvent(shared.EventCourseCreated, c.ID, creatorID))
	s.log.Info("course created", logger.CourseID(c.ID), logger.UserID(creatorID), logger.Amount(c.Credits))
	return c, nil
}

// UpdateCourse applies upd if actorID owns the course.
func (s *Service) UpdateCourse(ctx context.Context, actorID, courseID string, upd CourseUpdate) (*course.Course, error) {
	if err := validation.Struct(upd); err != nil {
		return nil, shared.WrapError("catalog", "UpdateCourse", shared.ErrValidation, "invalid update", err)
	}
	c, err := s.owned(ctx, actorID, courseID)
	if err != nil {
		return nil, err
	}

	var ops []store.Op
	if upd.Title != nil {
		c.Title = strings.TrimSpace(*upd.Title)
		ops = append(ops, store.Set("title", c.Title))
	}
	if upd.Description != nil {
		c.Description = strings.TrimSpace(*upd.Description)
		ops = append(ops, store.Set("description", c.Description))
	}
	if upd.Category != nil {
		c.Category = course.NormalizeCategory(*upd.Category)
		ops = append(ops, store.Set(course.FieldCategory, c.Category))
	}
	if upd.Tags != nil {
		c.Tags = course.NormalizeTags(upd.Tags)
		ops = append(ops, store.Set(course.FieldTags, c.Tags))
	}
	if upd.Credits != nil {
		c.Credits = *upd.Credits
		ops = append(ops, store.Set(course.FieldCredits, c.Credits))
	}
	if upd.Sections != nil {
		c.Sections = upd.Sections
		ops = append(ops, store.Set("sections", c.Sections))
	}
	if upd.Status != nil {
		c.Status = *upd.Status
		ops = append(ops, store.Set(course.FieldStatus, c.Status))
	}
	if len(ops) == 0 {
		return c, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	c.UpdatedAt = s.now().UTC()
	ops = append(ops, store.Set(course.FieldUpdatedAt, c.UpdatedAt))
	// Guard against an ownership change between the read and the write.
	if err := s.store.Update(ctx, store.Courses, courseID, ops, store.Equals(course.FieldCreatorID, actorID)); err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return nil, shared.ErrNotCourseOwner
		}
		return nil, fmt.Errorf("failed to update course %s: %w", courseID, err)
	}
	s.log.Info("course updated", logger.CourseID(courseID), logger.Int("fields", len(ops)-1))
	return c, nil
}

// DeleteCourse removes a course owned by actorID. Enrollment records held
// by learners stay in place.
func (s *Service) DeleteCourse(ctx context.Context, actorID, courseID string) error {
	if _, err := s.owned(ctx, actorID, courseID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, store.Courses, courseID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return shared.ErrCourseNotFound
		}
		return fmt.Errorf("failed to delete course %s: %w", courseID, err)
	}
	if err := s.store.Update(ctx, store.Users, actorID, []store.Op{
		store.RemoveFromSet(user.FieldCourses, courseID),
	}); err != nil {
		s.log.Warn("failed to remove course from owner", logger.CourseID(courseID), logger.Err(err))
	}
	s.publish(shared.NewEntityEvent(shared.EventCourseDeleted, courseID, actorID))
	s.log.Info("course deleted", logger.CourseID(courseID), logger.UserID(actorID))
	return nil
}

// GetCourse loads a course.
func (s *Service) GetCourse(ctx context.Context, courseID string) (*course.Course, error) {
	if err := shared.ValidateID(courseID); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, store.Courses, courseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, shared.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load course %s: %w", courseID, err)
	}
	return course.FromDocument(doc)
}

// ListByCreator returns a creator's courses, newest first.
func (s *Service) ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*course.Course, error) {
	if err := shared.ValidateID(creatorID); err != nil {
		return nil, err
	}
	docs, err := s.store.Query(ctx, store.Query{
		Collection: store.Courses,
		Filters:    []store.Filter{store.Eq(course.FieldCreatorID, creatorID)},
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list courses of %s: %w", creatorID, err)
	}
	out := make([]*course.Course, 0, len(docs))
	for _, d := range docs {
		c, err := course.FromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Service) owned(ctx context.Context, actorID, courseID string) (*course.Course, error) {
	if err := shared.ValidateID(actorID); err != nil {
		return nil, err
	}
	c, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if c.CreatorID != actorID {
		return nil, shared.ErrNotCourseOwner
	}
	return c, nil
}

func (s *Service) fanOut(ctx context.Context, recipients []string, kind notification.Kind, payload map[string]any) {
	for _, id := range recipients {
		if err := s.notifier.Notify(ctx, kind, id, payload); err != nil {
			s.log.Warn("notification failed", logger.NotificationKind(string(kind)), logger.UserID(id), logger.Err(err))
		}
	}
}

func (s *Service) publish(e shared.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(e); err != nil {
		s.log.Warn("failed to publish event", logger.String("event", string(e.EventType())), logger.Err(err))
	}
}

func nonNilSections(ss []course.Section) []course.Section {
	if ss == nil {
		return []course.Section{}
	}
	return ss
}
