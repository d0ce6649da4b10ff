// Package recommend ranks courses for a user by blending four candidate
// sources with fixed weights.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/course"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// Source tells where a candidate came from.
type Source string

const (
	SourceSkill    Source = "skill"
	SourceSocial   Source = "social"
	SourceInterest Source = "interest"
	SourcePopular  Source = "popular"
	SourceFallback Source = "fallback"
)

// Weight of each source. Higher ranks first.
func (s Source) Weight() float64 {
	switch s {
	case SourceSkill:
		return 3
	case SourceSocial:
		return 2
	case SourceInterest:
		return 1
	case SourcePopular:
		return 0.5
	default:
		return 0
	}
}

const (
	DefaultLimit = 10
	// perSourceLimit bounds each candidate query.
	perSourceLimit = 20
)

// Recommendation is one ranked course.
type Recommendation struct {
	CourseID  string  `json:"courseId"`
	Title     string  `json:"title"`
	Category  string  `json:"category,omitempty"`
	CreatorID string  `json:"creatorId,omitempty"`
	Credits   int     `json:"credits"`
	Source    Source  `json:"source"`
	Weight    float64 `json:"weight"`
}

// Cache keeps ranked lists per user for a short time.
type Cache interface {
	Get(ctx context.Context, userID string) ([]Recommendation, bool, error)
	Set(ctx context.Context, userID string, recs []Recommendation, ttl time.Duration) error
}

// Fallback is returned when no source yields anything.
var Fallback = []Recommendation{
	{CourseID: "sample-intro-programming", Title: "Introduction to Programming", Category: "programming", Credits: 10, Source: SourceFallback},
	{CourseID: "sample-public-speaking", Title: "Public Speaking Basics", Category: "public-speaking", Credits: 10, Source: SourceFallback},
	{CourseID: "sample-digital-photography", Title: "Digital Photography 101", Category: "photography", Credits: 10, Source: SourceFallback},
	{CourseID: "sample-conversational-spanish", Title: "Conversational Spanish", Category: "spanish", Credits: 10, Source: SourceFallback},
	{CourseID: "sample-home-cooking", Title: "Everyday Home Cooking", Category: "cooking", Credits: 10, Source: SourceFallback},
}

// Ranker produces recommendations.
type Ranker struct {
	store    store.Store
	skills   SkillTable
	cache    Cache
	cacheTTL time.Duration
	limit    int
	log      *logger.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithCache enables per-user caching for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Ranker) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

func WithSkillTable(t SkillTable) Option { return func(r *Ranker) { r.skills = t } }
func WithLimit(n int) Option             { return func(r *Ranker) { r.limit = n } }

// NewRanker creates a Ranker with the embedded skill table.
func NewRanker(s store.Store, log *logger.Logger, opts ...Option) *Ranker {
	if log == nil {
		log = logger.Nop()
	}
	r := &Ranker{
		store: s,
		limit: DefaultLimit,
		log:   log.With(logger.Component("recommend")),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.skills == nil {
		r.skills = DefaultSkillTable()
	}
	if r.limit <= 0 {
		r.limit = DefaultLimit
	}
	return r
}

// Recommend returns at most limit courses for userID, or Fallback when
// nothing qualifies. A source that fails is logged and counts as empty.
func (r *Ranker) Recommend(ctx context.Context, userID string) ([]Recommendation, error) {
	if err := shared.ValidateID(userID); err != nil {
		return nil, err
	}
	log := r.log.With(logger.UserID(userID))

	if r.cache != nil {
		recs, ok, err := r.cache.Get(ctx, userID)
		if err != nil {
			log.Warn("recommendation cache read failed", logger.Err(err))
		} else if ok {
			return recs, nil
		}
	}

	u, err := r.loadUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrUserNotFound) {
			return nil, err
		}
		// Store unreachable: rank from an empty profile.
		log.Warn("profile unavailable, ranking without it", logger.Err(err))
		u = &user.User{ID: userID}
	}

	lists := r.gather(ctx, log, u)
	recs := Rank(lists, r.limit, exclusion(u))
	if len(recs) == 0 {
		return slices.Clone(Fallback), nil
	}

	if r.cache != nil {
		if err := r.cache.Set(context.WithoutCancel(ctx), userID, recs, r.cacheTTL); err != nil {
			log.Warn("recommendation cache write failed", logger.Err(err))
		}
	}
	return recs, nil
}

// gather fetches the four sources concurrently. The result is in source
// order: skill, social, interest, popular.
func (r *Ranker) gather(ctx context.Context, log *logger.Logger, u *user.User) [][]Recommendation {
	sources := []struct {
		source Source
		fetch  func(context.Context, *user.User) ([]*course.Course, error)
	}{
		{SourceSkill, r.bySkill},
		{SourceSocial, r.bySocial},
		{SourceInterest, r.byInterest},
		{SourcePopular, r.byPopularity},
	}

	lists := make([][]Recommendation, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			courses, err := src.fetch(ctx, u)
			if err != nil {
				log.Warn("recommendation source failed", logger.String("source", string(src.source)), logger.Err(err))
				return nil
			}
			lists[i] = tag(courses, src.source)
			return nil
		})
	}
	_ = g.Wait()
	return lists
}

// Rank merges candidate lists. Per course id the highest weight wins, and
// the first seen wins a tie. The merged list is sorted by weight
// descending, keeping first-seen order among equal weights, and truncated
// to limit. Candidates for which skip returns true are dropped first.
func Rank(lists [][]Recommendation, limit int, skip func(Recommendation) bool) []Recommendation {
	index := make(map[string]int)
	var merged []Recommendation
	for _, list := range lists {
		for _, c := range list {
			if skip != nil && skip(c) {
				continue
			}
			if i, ok := index[c.CourseID]; ok {
				if c.Weight > merged[i].Weight {
					merged[i] = c
				}
				continue
			}
			index[c.CourseID] = len(merged)
			merged = append(merged, c)
		}
	}
	slices.SortStableFunc(merged, func(a, b Recommendation) int {
		switch {
		case a.Weight > b.Weight:
			return -1
		case a.Weight < b.Weight:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// ═══════════════════════════════════════════════════════════════════════════
// SOURCES
// ═══════════════════════════════════════════════════════════════════════════

func (r *Ranker) bySkill(ctx context.Context, u *user.User) ([]*course.Course, error) {
	related := r.skills.Related(userSkills(u))
	if len(related) == 0 {
		return nil, nil
	}
	return r.courses(ctx, store.In(course.FieldCategory, store.Strings(related)...))
}

func (r *Ranker) bySocial(ctx context.Context, u *user.User) ([]*course.Course, error) {
	if len(u.Following) == 0 {
		return nil, nil
	}
	return r.courses(ctx, store.In(course.FieldCreatorID, store.Strings(u.Following)...))
}

func (r *Ranker) byInterest(ctx context.Context, u *user.User) ([]*course.Course, error) {
	interests := course.NormalizeTags(u.Interests)
	if len(interests) == 0 {
		return nil, nil
	}
	return r.courses(ctx, store.ContainsAny(course.FieldTags, store.Strings(interests)...))
}

func (r *Ranker) byPopularity(ctx context.Context, _ *user.User) ([]*course.Course, error) {
	return r.courses(ctx)
}

// courses runs a query over published courses ordered by enrollments, most
// popular first.
func (r *Ranker) courses(ctx context.Context, filters ...store.Filter) ([]*course.Course, error) {
	filters = append(filters, store.Eq(course.FieldStatus, string(course.StatusPublished)))
	docs, err := r.store.Query(ctx, store.Query{
		Collection: store.Courses,
		Filters:    filters,
		OrderBy:    course.FieldEnrollments,
		Descending: true,
		Limit:      perSourceLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	out := make([]*course.Course, 0, len(docs))
	for _, d := range docs {
		c, err := course.FromDocument(d)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Ranker) loadUser(ctx context.Context, userID string) (*user.User, error) {
	doc, err := r.store.Get(ctx, store.Users, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return user.FromDocument(doc)
}

func tag(courses []*course.Course, src Source) []Recommendation {
	out := make([]Recommendation, len(courses))
	for i, c := range courses {
		out[i] = Recommendation{
			CourseID:  c.ID,
			Title:     strings.TrimSpace(c.Title),
			Category:  c.Category,
			CreatorID: c.CreatorID,
			Credits:   c.Credits,
			Source:    src,
			Weight:    src.Weight(),
		}
	}
	return out
}

// exclusion drops courses the user created or already owns.
func exclusion(u *user.User) func(Recommendation) bool {
	return func(c Recommendation) bool {
		return c.CreatorID == u.ID || u.IsEnrolled(c.CourseID)
	}
}
