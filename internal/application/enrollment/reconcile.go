package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/course"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// CounterResult reports a course counter reconciliation.
type CounterResult struct {
	CourseID string `json:"courseId"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
	Changed  bool   `json:"changed"`
}

// ReconcileCourse recomputes course.enrollments from the users holding an
// enrollment record for it and overwrites the counter on drift.
func (m *Manager) ReconcileCourse(ctx context.Context, courseID string) (CounterResult, error) {
	doc, err := m.store.Get(ctx, store.Courses, courseID)
	if errors.Is(err, store.ErrNotFound) {
		return CounterResult{}, shared.WrapError("enrollment", "ReconcileCourse", shared.ErrCourseNotFound, "course "+courseID, nil)
	}
	if err != nil {
		return CounterResult{}, fmt.Errorf("failed to load course %s: %w", courseID, err)
	}
	stored, _ := store.Lookup(doc, course.FieldEnrollments)
	before := store.AsInt(stored)

	enrolled, err := m.store.Query(ctx, store.Query{
		Collection: store.Users,
		Filters:    []store.Filter{store.FieldExists(user.EnrollmentPath(courseID))},
	})
	if err != nil {
		return CounterResult{}, fmt.Errorf("failed to count enrollments of %s: %w", courseID, err)
	}

	res := CounterResult{CourseID: courseID, Before: before, After: len(enrolled)}
	if res.Before == res.After {
		return res, nil
	}

	// Guarded so a concurrent enrollment bump is not overwritten.
	guard := store.Equals(course.FieldEnrollments, stored)
	if stored == nil {
		guard = store.Absent(course.FieldEnrollments)
	}
	err = m.store.Update(ctx, store.Courses, courseID,
		[]store.Op{store.Set(course.FieldEnrollments, res.After)}, guard)
	if err != nil {
		return res, fmt.Errorf("failed to write enrollment counter of %s: %w", courseID, err)
	}
	res.Changed = true
	m.log.Info("course enrollment counter reconciled",
		logger.CourseID(courseID), logger.Int("before", res.Before), logger.Int("after", res.After))
	return res, nil
}
