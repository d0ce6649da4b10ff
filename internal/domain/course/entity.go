// Package course holds the course document taught by one creator and paid
// for with credits.
package course

import (
	"strings"
	"time"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
)

// MinPrice is the lowest price a course may be listed at.
const MinPrice = 5

// Field paths inside a courses/<id> document.
const (
	FieldCreatorID   = "creatorId"
	FieldCredits     = "credits"
	FieldEnrollments = "enrollments"
	FieldCategory    = "category"
	FieldTags        = "tags"
	FieldStatus      = "status"
	FieldUpdatedAt   = "updatedAt"
)

// Status of a course listing.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Section is one ordered part of the course content.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Course is the courses/<id> document.
type Course struct {
	ID          string    `json:"id"`
	CreatorID   string    `json:"creatorId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	Credits     int       `json:"credits"`
	Enrollments int       `json:"enrollments"`
	Sections    []Section `json:"sections"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Price is the enrollment cost in credits.
func (c *Course) Price() int {
	return c.Credits
}

// IsOpen reports whether users may enroll. Only published courses are open.
func (c *Course) IsOpen() bool {
	return c.Status == StatusPublished
}

// Validate checks invariants that hold for every stored course.
func (c *Course) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return shared.NewDomainError("course", "Validate", shared.ErrValidation, "title is required")
	}
	if c.CreatorID == "" {
		return shared.NewDomainError("course", "Validate", shared.ErrValidation, "creator is required")
	}
	if c.Credits < MinPrice {
		return shared.ErrCoursePriceTooLow
	}
	if !c.Status.IsValid() {
		return shared.NewDomainError("course", "Validate", shared.ErrValidation, "unknown status")
	}
	return nil
}

// NormalizeCategory brings a category to the key form shared with skills.
func NormalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	return strings.NewReplacer(".", "_", " ", "-", "/", "-").Replace(c)
}

// NormalizeTags lowercases, trims and de-duplicates tags keeping order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// FromDocument decodes a courses document.
func FromDocument(doc store.Document) (*Course, error) {
	var c Course
	if err := store.Decode(doc, &c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = doc.ID()
	}
	return &c, nil
}

// Document encodes the course for storage.
func (c *Course) Document() (store.Document, error) {
	return store.Encode(c)
}
