package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("user_42-a"))
	assert.True(t, IsValidation(ValidateID("")))
	assert.True(t, IsValidation(ValidateID("a.b")))
	assert.True(t, IsValidation(ValidateID("users/x")))
}

func TestSkillLevelForScore(t *testing.T) {
	tests := []struct {
		score, total int
		want         SkillLevel
		ok           bool
	}{
		{10, 10, SkillAdvanced, true},
		{8, 10, SkillIntermediate, true},
		{7, 10, SkillBeginner, true},
		{6, 10, "", false},
		{1, 0, "", false},
	}
	for _, tt := range tests {
		got, ok := SkillLevelForScore(tt.score, tt.total)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.ok, ok)
	}
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFrom(context.Background())
	assert.False(t, ok)

	id, ok := ActorFrom(WithActor(context.Background(), "u1"))
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestDomainErrorMatching(t *testing.T) {
	err := WrapError("enrollment", "Enroll", ErrCourseNotFound, "course c1", errors.New("boom"))

	assert.True(t, errors.Is(err, ErrCourseNotFound))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))

	var ic error = &InsufficientCreditsError{Balance: 3, Required: 5}
	assert.True(t, IsBusinessRule(ic))
	assert.Equal(t, "insufficient credits: balance 3, required 5", ic.Error())
}
