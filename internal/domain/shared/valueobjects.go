package shared

import (
	"context"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// IDS
// ═══════════════════════════════════════════════════════════════════════════

// Document ids end up inside dotted field paths (enrolledCourses.<id>), so
// dots and slashes are not allowed.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID checks a user, course or post id.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return WrapError("shared", "ValidateID", ErrInvalidID, "malformed id", nil)
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ═══════════════════════════════════════════════════════════════════════════
// SKILL LEVELS
// ═══════════════════════════════════════════════════════════════════════════

// SkillLevel is the verified proficiency recorded for a skill.
type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
)

// PassingScorePercent is the minimum quiz score that verifies a skill.
const PassingScorePercent = 70

// SkillLevelForScore maps a quiz score to a level. ok is false below the
// passing score.
func SkillLevelForScore(score, total int) (level SkillLevel, ok bool) {
	if total <= 0 || score < 0 {
		return "", false
	}
	pct := score * 100 / total
	switch {
	case pct >= 90:
		return SkillAdvanced, true
	case pct >= 80:
		return SkillIntermediate, true
	case pct >= PassingScorePercent:
		return SkillBeginner, true
	default:
		return "", false
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ACTOR
// ═══════════════════════════════════════════════════════════════════════════

type actorKey struct{}

// WithActor records the authenticated user id on the request context.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the user id set by WithActor.
func ActorFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}
