package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
)

func TestConditionFilter(t *testing.T) {
	f, err := conditionFilter("u1", nil)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: "u1"}}, f)

	f, err = conditionFilter("u1", []store.Precondition{
		store.Absent("enrolledCourses.c1"),
		store.Equals("credits", 80),
		store.Exists("email"),
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "_id", Value: "u1"}},
		bson.D{{Key: "enrolledCourses.c1", Value: nil}},
		bson.D{{Key: "credits", Value: bson.D{{Key: "$eq", Value: float64(80)}}}},
		bson.D{{Key: "email", Value: bson.D{{Key: "$ne", Value: nil}}}},
	}}}, f)
}

func TestUpdateDocument(t *testing.T) {
	u, err := updateDocument([]store.Op{
		store.AddToSet("following", "b"),
		store.Set("followingCount", 3),
		store.Increment("enrollments", 1),
		store.RemoveFromSet("followers", "c"),
		store.Unset("draft"),
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: "following", Value: "b"}}},
		{Key: "$inc", Value: bson.D{{Key: "enrollments", Value: float64(1)}}},
		{Key: "$pull", Value: bson.D{{Key: "followers", Value: "c"}}},
		{Key: "$set", Value: bson.D{{Key: "followingCount", Value: float64(3)}}},
		{Key: "$unset", Value: bson.D{{Key: "draft", Value: ""}}},
	}, u)

	_, err = updateDocument([]store.Op{store.Set("id", "x")})
	assert.ErrorIs(t, err, store.ErrTypeMismatch)
}

func TestMergeSet(t *testing.T) {
	u := mergeSet(map[string]any{
		"credits":         float64(5),
		"enrolledCourses": map[string]any{"c1": map[string]any{"creditsSpent": float64(30)}},
		"skills":          []any{"go"},
		"empty":           map[string]any{},
	})
	assert.Equal(t, bson.D{{Key: "$set", Value: bson.D{
		{Key: "credits", Value: float64(5)},
		{Key: "empty", Value: map[string]any{}},
		{Key: "enrolledCourses.c1.creditsSpent", Value: float64(30)},
		{Key: "skills", Value: []any{"go"}},
	}}}, u)
}

func TestQueryFilter(t *testing.T) {
	f, err := queryFilter(nil)
	require.NoError(t, err)
	assert.Empty(t, f)

	f, err = queryFilter([]store.Filter{
		store.ContainsAny("tags", "go"),
		store.In("creatorId", "a", "b"),
		store.FieldExists("enrolledCourses.c1"),
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "tags", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$in", Value: []any{"go"}}}}}}},
		bson.D{{Key: "creatorId", Value: bson.D{{Key: "$in", Value: []any{"a", "b"}}}}},
		bson.D{{Key: "enrolledCourses.c1", Value: bson.D{{Key: "$ne", Value: nil}}}},
	}}}, f)
}

func TestSortOrder(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, sortOrder(store.Query{}))
	assert.Equal(t,
		bson.D{{Key: "enrollments", Value: -1}, {Key: "_id", Value: 1}},
		sortOrder(store.Query{OrderBy: "enrollments", Descending: true}))
}

func TestDecode(t *testing.T) {
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: "u1"},
		{Key: "credits", Value: int32(80)},
		{Key: "balance", Value: 1.5},
		{Key: "following", Value: bson.A{"a"}},
		{Key: "enrolledCourses", Value: bson.D{{Key: "c1", Value: bson.D{{Key: "creditsSpent", Value: int64(30)}}}}},
	})
	require.NoError(t, err)

	doc, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.ID())
	assert.NotContains(t, doc, "_id")
	assert.Equal(t, float64(80), doc["credits"])
	assert.Equal(t, 1.5, doc["balance"])
	assert.Equal(t, []any{"a"}, doc["following"])
	v, ok := store.Lookup(doc, "enrolledCourses.c1.creditsSpent")
	require.True(t, ok)
	assert.Equal(t, float64(30), v)
}
