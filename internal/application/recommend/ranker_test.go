package recommend

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/memory"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

func rec(id string, src Source) Recommendation {
	return Recommendation{CourseID: id, Source: src, Weight: src.Weight()}
}

func ids(recs []Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.CourseID
	}
	return out
}

func TestRank_KeepsHighestWeightPerCourse(t *testing.T) {
	lists := [][]Recommendation{
		{rec("a", SourceSkill)},
		{rec("b", SourceSocial), rec("a", SourceSocial)},
		{rec("c", SourceInterest), rec("b", SourceInterest)},
		{rec("d", SourcePopular), rec("c", SourcePopular), rec("a", SourcePopular)},
	}

	got := Rank(lists, DefaultLimit, nil)

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(got))
	assert.Equal(t, SourceSkill, got[0].Source)
	assert.Equal(t, SourceSocial, got[1].Source)
	assert.Equal(t, SourceInterest, got[2].Source)
	assert.Equal(t, 0.5, got[3].Weight)
}

func TestRank_TieKeepsFirstSeen(t *testing.T) {
	first := rec("x", SourceSocial)
	first.Title = "first"
	second := rec("x", SourceSocial)
	second.Title = "second"

	got := Rank([][]Recommendation{{first, rec("y", SourceSocial)}, {second}}, DefaultLimit, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Title)
	assert.Equal(t, []string{"x", "y"}, ids(got))
}

func TestRank_TruncatesAndSkips(t *testing.T) {
	var popular []Recommendation
	for i := 0; i < 15; i++ {
		popular = append(popular, rec(fmt.Sprintf("p%02d", i), SourcePopular))
	}
	lists := [][]Recommendation{{rec("s1", SourceSkill), rec("own", SourceSkill)}, popular}

	got := Rank(lists, 10, func(r Recommendation) bool { return r.CourseID == "own" })

	require.Len(t, got, 10)
	assert.Equal(t, "s1", got[0].CourseID)
	assert.Equal(t, "p00", got[1].CourseID)
	assert.NotContains(t, ids(got), "own")
}

func TestRank_Empty(t *testing.T) {
	assert.Empty(t, Rank(nil, DefaultLimit, nil))
}

type catalog struct {
	t *testing.T
	s *memory.Store
}

func (c catalog) course(id string, fields map[string]any) {
	doc := map[string]any{"title": "Course " + id, "credits": 10, "status": "published", "enrollments": 0}
	for k, v := range fields {
		doc[k] = v
	}
	require.NoError(c.t, c.s.Seed(store.Courses, id, doc))
}

func TestRecommend_NewUserEmptyCatalogGetsFallback(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Seed(store.Users, "newbie", map[string]any{"credits": 100}))

	got, err := NewRanker(s, logger.Nop()).Recommend(context.Background(), "newbie")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, Fallback, got)
}

func TestRecommend_BlendsSources(t *testing.T) {
	s := memory.New()
	cat := catalog{t, s}
	require.NoError(t, s.Seed(store.Users, "u1", map[string]any{
		"skills":          []string{"Go"},
		"following":       []string{"mentor"},
		"interests":       []string{"Cooking"},
		"enrolledCourses": map[string]any{"owned": map[string]any{"creditsSpent": 10}},
	}))
	cat.course("devops-101", map[string]any{"category": "devops", "creatorId": "x", "enrollments": 3})
	cat.course("mentor-bread", map[string]any{"category": "baking", "creatorId": "mentor", "tags": []string{"cooking"}})
	cat.course("pasta", map[string]any{"category": "cooking", "creatorId": "y", "tags": []string{"cooking"}, "enrollments": 1})
	cat.course("hit", map[string]any{"category": "music", "creatorId": "z", "enrollments": 100})
	cat.course("mine", map[string]any{"category": "devops", "creatorId": "u1"})
	cat.course("owned", map[string]any{"category": "devops", "creatorId": "x"})
	cat.course("draft", map[string]any{"category": "devops", "creatorId": "x", "status": "draft"})

	got, err := NewRanker(s, logger.Nop()).Recommend(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, []string{"devops-101", "mentor-bread", "pasta", "hit"}, ids(got))
	assert.Equal(t, []Source{SourceSkill, SourceSocial, SourceInterest, SourcePopular},
		[]Source{got[0].Source, got[1].Source, got[2].Source, got[3].Source})
}

func TestRecommend_UnpublishedCoursesDoNotCrowdOutPopular(t *testing.T) {
	s := memory.New()
	cat := catalog{t, s}
	for i := 0; i < perSourceLimit+5; i++ {
		status := "draft"
		if i%2 == 1 {
			status = "archived"
		}
		cat.course(fmt.Sprintf("hidden-%02d", i), map[string]any{"creatorId": "z", "enrollments": 1000 + i, "status": status})
	}
	cat.course("live", map[string]any{"creatorId": "z", "enrollments": 1})
	require.NoError(t, s.Seed(store.Users, "u1", map[string]any{}))

	got, err := NewRanker(s, logger.Nop()).Recommend(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids(got))
	assert.Equal(t, SourcePopular, got[0].Source)
}

func TestRecommend_FailingSourcesFallBack(t *testing.T) {
	s := memory.New()
	catalog{t, s}.course("hit", map[string]any{"creatorId": "z", "enrollments": 100})
	require.NoError(t, s.Seed(store.Users, "u1", map[string]any{"skills": []string{"go"}}))
	s.InjectFault(memory.Fault{Method: memory.MethodQuery})

	got, err := NewRanker(s, logger.Nop()).Recommend(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Fallback, got)
}

func TestRecommend_UnknownUser(t *testing.T) {
	_, err := NewRanker(memory.New(), logger.Nop()).Recommend(context.Background(), "ghost")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}

type mapCache struct {
	data map[string][]Recommendation
	sets int
}

func (c *mapCache) Get(_ context.Context, userID string) ([]Recommendation, bool, error) {
	recs, ok := c.data[userID]
	return recs, ok, nil
}

func (c *mapCache) Set(_ context.Context, userID string, recs []Recommendation, _ time.Duration) error {
	c.data[userID] = recs
	c.sets++
	return nil
}

func TestRecommend_UsesCache(t *testing.T) {
	s := memory.New()
	catalog{t, s}.course("hit", map[string]any{"creatorId": "z", "enrollments": 100})
	require.NoError(t, s.Seed(store.Users, "u1", map[string]any{}))
	cache := &mapCache{data: map[string][]Recommendation{}}
	r := NewRanker(s, logger.Nop(), WithCache(cache, time.Minute))
	ctx := context.Background()

	first, err := r.Recommend(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hit"}, ids(first))
	assert.Equal(t, 1, cache.sets)

	s.ResetCalls()
	second, err := r.Recommend(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 0, s.Calls(memory.MethodQuery))
	assert.Equal(t, 0, s.Calls(memory.MethodGet))
}

func TestSkillTable(t *testing.T) {
	table, err := ParseSkillTable([]byte("version: 1\nrelated:\n  Go: [devops, Rust, devops]\n  rust: [go]\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"devops", "rust"}, table.Related([]string{"go"}))
	assert.Equal(t, []string{"devops"}, table.Related([]string{"Go", "rust"}))
	assert.Empty(t, table.Related(nil))

	_, err = ParseSkillTable([]byte("version: 2\n"))
	assert.Error(t, err)

	assert.NotEmpty(t, DefaultSkillTable().Related([]string{"python"}))
}
