// Package feed handles posts, likes and comments.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/post"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/validation"
)

type postInput struct {
	Content string `json:"content" validate:"notblank,max=2000"`
}

type commentInput struct {
	Text string `json:"text" validate:"notblank,max=1000"`
}

// Service manages the feed.
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
	s := &Service{store: st, notifier: notifier, log: log.With(logger.Component("feed")), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePost publishes a post and notifies the author's followers.
func (s *Service) CreatePost(ctx context.Context, authorID, content string) (*post.Post, error) {
	if err := shared.ValidateID(authorID); err != nil {
		return nil, err
	}
	if err := validation.Struct(postInput{Content: content}); err != nil {
		return nil, shared.WrapError("feed", "CreatePost", shared.ErrValidation, "invalid post", err)
	}
	author, err := s.loadUser(ctx, authorID)
	if err != nil {
		return nil, err
	}

	p := &post.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Content:   strings.TrimSpace(content),
		Likes:     []string{},
		Comments:  []post.Comment{},
		CreatedAt: s.now().UTC(),
	}
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, store.Posts, p.ID, doc); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	if err := s.store.Update(ctx, store.Users, authorID, []store.Op{store.AddToSet(user.FieldPosts, p.ID)}); err != nil {
		s.log.Warn("failed to add post to author", logger.PostID(p.ID), logger.Err(err))
	}

	for _, follower := range author.Followers {
		s.notify(ctx, notification.KindFollowingPost, follower, map[string]any{
			notification.PayloadActorID: authorID,
			notification.PayloadPostID:  p.ID,
		})
	}
	s.publish(shared.NewEntityEvent(shared.EventPostCreated, p.ID, authorID))
	return p, nil
}

// LikePost adds actorID to the post's likes. Liking twice is a no-op and
// does not notify again.
func (s *Service) LikePost(ctx context.Context, actorID, postID string) (*post.Post, error) {
	p, err := s.loadPost(ctx, actorID, postID)
	if err != nil {
		return nil, err
	}
	if contains(p.Likes, actorID) {
		return p, nil
	}
	if err := s.store.Update(ctx, store.Posts, postID, []store.Op{store.AddToSet(post.FieldLikes, actorID)}); err != nil {
		return nil, fmt.Errorf("failed to like post %s: %w", postID, err)
	}
	p.Likes = append(p.Likes, actorID)

	if p.AuthorID != actorID {
		s.notify(ctx, notification.KindPostLike, p.AuthorID, map[string]any{
			notification.PayloadActorID: actorID,
			notification.PayloadPostID:  postID,
		})
	}
	return p, nil
}

// UnlikePost removes actorID from the post's likes.
func (s *Service) UnlikePost(ctx context.Context, actorID, postID string) (*post.Post, error) {
	p, err := s.loadPost(ctx, actorID, postID)
	if err != nil {
		return nil, err
	}
	if !contains(p.Likes, actorID) {
		return p, nil
	}
	if err := s.store.Update(ctx, store.Posts, postID, []store.Op{store.RemoveFromSet(post.FieldLikes, actorID)}); err != nil {
		return nil, fmt.Errorf("failed to unlike post %s: %w", postID, err)
	}
	p.Likes = remove(p.Likes, actorID)
	return p, nil
}

// Comment appends a comment and notifies the post author.
func (s *Service) Comment(ctx context.Context, actorID, postID, text string) (*post.Comment, error) {
	if err := validation.Struct(commentInput{Text: text}); err != nil {
		return nil, shared.WrapError("feed", "Comment", shared.ErrValidation, "invalid comment", err)
	}
	p, err := s.loadPost(ctx, actorID, postID)
	if err != nil {
		return nil, err
	}
	c := post.Comment{
		ID:        uuid.NewString(),
		AuthorID:  actorID,
		Text:      strings.TrimSpace(text),
		CreatedAt: s.now().UTC(),
	}
	// Comment ids are unique, so add-to-set behaves as append.
	if err := s.store.Update(ctx, store.Posts, postID, []store.Op{store.AddToSet(post.FieldComments, c)}); err != nil {
		return nil, fmt.Errorf("failed to comment on post %s: %w", postID, err)
	}
	if p.AuthorID != actorID {
		s.notify(ctx, notification.KindPostComment, p.AuthorID, map[string]any{
			notification.PayloadActorID: actorID,
			notification.PayloadPostID:  postID,
		})
	}
	return &c, nil
}

// ListByAuthor returns an author's posts, newest first.
func (s *Service) ListByAuthor(ctx context.Context, authorID string, limit, offset int) ([]*post.Post, error) {
	if err := shared.ValidateID(authorID); err != nil {
		return nil, err
	}
	docs, err := s.store.Query(ctx, store.Query{
		Collection: store.Posts,
		Filters:    []store.Filter{store.Eq("authorId", authorID)},
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list posts of %s: %w", authorID, err)
	}
	out := make([]*post.Post, 0, len(docs))
	for _, d := range docs {
		p, err := post.FromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) loadPost(ctx context.Context, actorID, postID string) (*post.Post, error) {
	if err := shared.ValidateID(actorID); err != nil {
		return nil, err
	}
	if err := shared.ValidateID(postID); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, store.Posts, postID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, shared.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", postID, err)
	}
	return post.FromDocument(doc)
}

func (s *Service) loadUser(ctx context.Context, id string) (*user.User, error) {
	doc, err := s.store.Get(ctx, store.Users, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, shared.ErrActorProfileMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return user.FromDocument(doc)
}

func (s *Service) notify(ctx context.Context, kind notification.Kind, to string, payload map[string]any) {
	if err := s.notifier.Notify(ctx, kind, to, payload); err != nil {
		s.log.Warn("notification failed", logger.NotificationKind(string(kind)), logger.UserID(to), logger.Err(err))
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

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func remove(ss []string, s string) []string {
	out := ss[:0]
	for _, x := range ss {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
