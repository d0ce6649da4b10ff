// Package user holds the SkillX user profile document and its field paths.
package user

import (
	"strings"
	"time"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
)

// DefaultCredits is the starting balance of every new profile.
const DefaultCredits = 100

// Field paths inside a users/<id> document.
const (
	FieldCredits         = "credits"
	FieldXP              = "xp"
	FieldLevel           = "level"
	FieldFollowers       = "followers"
	FieldFollowing       = "following"
	FieldFollowersCount  = "followersCount"
	FieldFollowingCount  = "followingCount"
	FieldEnrolledCourses = "enrolledCourses"
	FieldVerifiedSkills  = "verifiedSkills"
	FieldSkills          = "skills"
	FieldInterests       = "interests"
	FieldPosts           = "posts"
	FieldCourses         = "courses"
	FieldEmail           = "email"
	FieldUpdatedAt       = "updatedAt"
)

// XPPerLevel is the experience needed to gain one level.
const XPPerLevel = 100

// LevelForXP derives the level shown on a profile.
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + xp/XPPerLevel
}

// SkillXP is awarded for verifying a skill at level.
func SkillXP(level shared.SkillLevel) int {
	switch level {
	case shared.SkillAdvanced:
		return 50
	case shared.SkillIntermediate:
		return 35
	case shared.SkillBeginner:
		return 20
	default:
		return 0
	}
}

// EnrollmentPath is the key whose presence means the user owns the course.
func EnrollmentPath(courseID string) string {
	return FieldEnrolledCourses + "." + courseID
}

// VerifiedSkillPath addresses one verified skill entry.
func VerifiedSkillPath(skill string) string {
	return FieldVerifiedSkills + "." + SkillKey(skill)
}

// SkillKey turns a display skill name into a map key usable in a path.
// Course categories use the same form so skills and categories compare.
func SkillKey(skill string) string {
	k := strings.ToLower(strings.TrimSpace(skill))
	return strings.NewReplacer(".", "_", " ", "-", "/", "-").Replace(k)
}

// Enrollment is the record embedded at enrolledCourses.<courseId>.
type Enrollment struct {
	EnrolledAt   time.Time `json:"enrolledAt"`
	CreditsSpent int       `json:"creditsSpent"`
}

// VerifiedSkill is the record embedded at verifiedSkills.<skill>.
type VerifiedSkill struct {
	Level      shared.SkillLevel `json:"level"`
	VerifiedAt time.Time         `json:"verifiedAt"`
	Category   string            `json:"category,omitempty"`
}

// User is the users/<id> document.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`

	Credits int `json:"credits"`
	XP      int `json:"xp"`
	Level   int `json:"level"`

	Followers      []string `json:"followers"`
	Following      []string `json:"following"`
	FollowersCount int      `json:"followersCount"`
	FollowingCount int      `json:"followingCount"`

	EnrolledCourses map[string]Enrollment    `json:"enrolledCourses"`
	VerifiedSkills  map[string]VerifiedSkill `json:"verifiedSkills"`
	Skills          []string                 `json:"skills"`
	Interests       []string                 `json:"interests"`
	Posts           []string                 `json:"posts"`
	Courses         []string                 `json:"courses"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewParams are the inputs for a fresh profile.
type NewParams struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Skills       []string
	Interests    []string
}

// New builds a profile with the registration defaults.
func New(p NewParams, now time.Time) *User {
	return &User{
		ID:              p.ID,
		Email:           shared.NormalizeEmail(p.Email),
		DisplayName:     strings.TrimSpace(p.DisplayName),
		PasswordHash:    p.PasswordHash,
		Credits:         DefaultCredits,
		XP:              0,
		Level:           1,
		Followers:       []string{},
		Following:       []string{},
		EnrolledCourses: map[string]Enrollment{},
		VerifiedSkills:  map[string]VerifiedSkill{},
		Skills:          nonNil(p.Skills),
		Interests:       nonNil(p.Interests),
		Posts:           []string{},
		Courses:         []string{},
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// IsEnrolled reports whether the enrollment record for courseID exists.
func (u *User) IsEnrolled(courseID string) bool {
	_, ok := u.EnrolledCourses[courseID]
	return ok
}

// IsFollowing reports whether id is in the following set.
func (u *User) IsFollowing(id string) bool {
	return contains(u.Following, id)
}

// HasFollower reports whether id is in the followers set.
func (u *User) HasFollower(id string) bool {
	return contains(u.Followers, id)
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// FromDocument decodes a users document.
func FromDocument(doc store.Document) (*User, error) {
	var u User
	if err := store.Decode(doc, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		u.ID = doc.ID()
	}
	return &u, nil
}

// Document encodes the profile for storage. The password hash is kept.
func (u *User) Document() (store.Document, error) {
	return store.Encode(u)
}

// Public strips private fields before returning a profile to a client.
func (u *User) Public() *User {
	cp := *u
	cp.PasswordHash = ""
	return &cp
}
