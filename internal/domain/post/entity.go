// Package post holds feed posts that followers are notified about.
package post

import (
	"time"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
)

const (
	FieldLikes    = "likes"
	FieldComments = "comments"
)

// Comment is embedded in a post.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post is the posts/<id> document.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	Likes     []string  `json:"likes"`
	Comments  []Comment `json:"comments"`
	CreatedAt time.Time `json:"createdAt"`
}

func FromDocument(doc store.Document) (*Post, error) {
	var p Post
	if err := store.Decode(doc, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = doc.ID()
	}
	return &p, nil
}

func (p *Post) Document() (store.Document, error) {
	return store.Encode(p)
}
