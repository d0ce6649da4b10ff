package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taosiq/p2pskillx-sub000/internal/application/account"
	"github.com/taosiq/p2pskillx-sub000/internal/application/catalog"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/course"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// ─────────────────────────────────────────────────────────────────────────────
// Users & graph
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleRegister(c *gin.Context) {
	var in account.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "malformed JSON body")
		return
	}
	u, err := s.deps.Accounts.Register(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleLogin checks credentials and returns the profile whose id the
// client sends as X-User-ID.
func (s *Server) handleLogin(c *gin.Context) {
	var in loginRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	u, err := s.deps.Accounts.Authenticate(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, u)
}

func (s *Server) handleGetProfile(c *gin.Context) {
	u, err := s.deps.Accounts.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, u)
}

func (s *Server) handleFollowers(c *gin.Context) {
	ids, err := s.deps.Graph.Followers(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"followers": ids})
}

func (s *Server) handleFollowing(c *gin.Context) {
	ids, err := s.deps.Graph.Following(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"following": ids})
}

func (s *Server) handleFollow(c *gin.Context) {
	res, err := s.deps.Graph.Follow(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

func (s *Server) handleUnfollow(c *gin.Context) {
	res, err := s.deps.Graph.Unfollow(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

func (s *Server) handleRemoveFollower(c *gin.Context) {
	res, err := s.deps.Graph.RemoveFollower(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

func (s *Server) handleReconcile(c *gin.Context) {
	res, err := s.deps.Graph.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

func (s *Server) handleVerifySkill(c *gin.Context) {
	var q account.QuizResult
	if err := c.ShouldBindJSON(&q); err != nil {
		badRequest(c, "malformed JSON body")
		return
	}
	res, err := s.deps.Accounts.VerifySkill(c.Request.Context(), actor(c), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Courses
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleCreateCourse(c *gin.Context) {
	var in catalog.CourseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "malformed JSON body")
		return
	}
	crs, err := s.deps.Catalog.CreateCourse(c.Request.Context(), actor(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusCreated, crs)
}

func (s *Server) handleUpdateCourse(c *gin.Context) {
	var upd catalog.CourseUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "malformed JSON body")
		return
	}
	crs, err := s.deps.Catalog.UpdateCourse(c.Request.Context(), actor(c), c.Param("id"), upd)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, crs)
}

func (s *Server) handleDeleteCourse(c *gin.Context) {
	if err := s.deps.Catalog.DeleteCourse(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetCourse(c *gin.Context) {
	crs, err := s.deps.Catalog.GetCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, crs)
}

// handleUserCourses lists a creator's courses. Unpublished ones are shown
// to the creator only.
func (s *Server) handleUserCourses(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	creatorID := c.Param("id")
	courses, err := s.deps.Catalog.ListByCreator(c.Request.Context(), creatorID, limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	if c.GetHeader(HeaderUserID) != creatorID {
		open := courses[:0]
		for _, crs := range courses {
			if crs.IsOpen() {
				open = append(open, crs)
			}
		}
		courses = open
	}
	if courses == nil {
		courses = []*course.Course{}
	}
	respondOK(c, http.StatusOK, gin.H{"courses": courses})
}

func (s *Server) handleEnroll(c *gin.Context) {
	res, err := s.deps.Enroller.Enroll(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, res)
}

func (s *Server) handleRecommendations(c *gin.Context) {
	recs, err := s.deps.Recommender.Recommend(c.Request.Context(), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"recommendations": recs})
}

// ─────────────────────────────────────────────────────────────────────────────
// Posts
// ─────────────────────────────────────────────────────────────────────────────

type postBody struct {
	Content string `json:"content"`
}

type commentBody struct {
	Text string `json:"text"`
}

func (s *Server) handleCreatePost(c *gin.Context) {
	var body postBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "malformed JSON body")
		return
	}
	p, err := s.deps.Feed.CreatePost(c.Request.Context(), actor(c), body.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusCreated, p)
}

func (s *Server) handleLikePost(c *gin.Context) {
	p, err := s.deps.Feed.LikePost(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, p)
}

func (s *Server) handleUnlikePost(c *gin.Context) {
	p, err := s.deps.Feed.UnlikePost(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, p)
}

func (s *Server) handleComment(c *gin.Context) {
	var body commentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "malformed JSON body")
		return
	}
	cm, err := s.deps.Feed.Comment(c.Request.Context(), actor(c), c.Param("id"), body.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusCreated, cm)
}

func (s *Server) handleUserPosts(c *gin.Context) {
	limit, offset, ok := page(c)
	if !ok {
		return
	}
	posts, err := s.deps.Feed.ListByAuthor(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"posts": posts})
}

// ─────────────────────────────────────────────────────────────────────────────
// Notifications
// ─────────────────────────────────────────────────────────────────────────────

const (
	maxNotifications = 100
	defaultPageSize  = 20
	maxPageSize      = 100
)

// page reads ?limit and ?offset. On bad input it writes the 400 and
// returns false.
func page(c *gin.Context) (limit, offset int, ok bool) {
	limit = defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = min(n, maxPageSize)
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func (s *Server) handleNotifications(c *gin.Context) {
	limit := maxNotifications
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxNotifications)
	}
	notes, err := s.deps.Inbox.ListForRecipient(c.Request.Context(), actor(c), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"notifications": notes})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if err := s.deps.Inbox.MarkRead(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
