package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/pollbox/pollbox/internal/auth"
	"github.com/pollbox/pollbox/internal/models"
	"github.com/pollbox/pollbox/internal/polls"
)

// --- Structs for request binding ---

type RegisterInput struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required,min=1,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreatePollInput struct {
	Title          string   `json:"title" binding:"required,min=1,max=64"`
	Options        []string `json:"options" binding:"required,min=2,max=15"`
	AllowAnonymous bool     `json:"allowAnonymous"`
}

type UpdatePollInput struct {
	Title   string              `json:"title" binding:"required,min=1,max=64"`
	Options []polls.OptionInput `json:"options" binding:"required,min=2,max=15"`
}

type SubmitResponseInput struct {
	Content string `json:"content" binding:"required"`
	Kind    string `json:"kind" binding:"required,oneof=ballot emoji"`
}

type AnonymousBallotInput struct {
	OptionID string `json:"optionId" binding:"required"`
}

// Env holds the handlers' dependencies.
type Env struct {
	Auth  *auth.Service
	Polls *polls.Service
}

// serviceError translates the service's error taxonomy into HTTP statuses.
// Anything unclassified is reported as a generic failure so no store detail
// leaks to the caller.
func serviceError(c *gin.Context, err error) {
	var e *polls.Error
	if !errors.As(err, &e) {
		log.Errorf("unclassified error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong. Please try again."})
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case polls.KindUnauthenticated:
		status = http.StatusUnauthorized
	case polls.KindInvalidInput:
		status = http.StatusBadRequest
	case polls.KindDuplicate:
		status = http.StatusConflict
	case polls.KindNotFound:
		status = http.StatusNotFound
	case polls.KindForbidden:
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": e.Message})
}

// --- Auth handlers ---

func (e *Env) Register(c *gin.Context) {
	var input RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	user, err := e.Auth.Register(c.Request.Context(), input.Email, input.Name, input.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrBadRegistration):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		}
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (e *Env) Login(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	session, user, err := e.Auth.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log in"})
		}
		return
	}

	maxAge := int(session.ExpiresAt.Sub(session.CreatedAt).Seconds())
	c.SetCookie(SessionCookie, session.Token, maxAge, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": session.Token, "user": user})
}

func (e *Env) Logout(c *gin.Context) {
	if err := e.Auth.Logout(c.Request.Context(), sessionToken(c)); err != nil {
		log.Errorf("failed to delete session: %v", err)
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (e *Env) Me(c *gin.Context) {
	user, _ := c.Get(ctxUserKey)
	c.JSON(http.StatusOK, user.(*models.User))
}

// --- Poll handlers ---

func (e *Env) CreatePoll(c *gin.Context) {
	var input CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	poll, err := e.Polls.CreatePoll(c.Request.Context(), currentUserID(c), polls.CreatePollInput{
		Title:          input.Title,
		Options:        input.Options,
		AllowAnonymous: input.AllowAnonymous,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

func (e *Env) GetPoll(c *gin.Context) {
	view, err := e.Polls.GetPoll(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (e *Env) GetResults(c *gin.Context) {
	view, err := e.Polls.GetPoll(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tally":        view.Tally,
		"emojiCounts":  view.EmojiCounts,
		"totalBallots": view.TotalBallots,
	})
}

func (e *Env) UpdatePoll(c *gin.Context) {
	var input UpdatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	poll, err := e.Polls.UpdatePoll(c.Request.Context(), currentUserID(c), c.Param("id"), polls.UpdatePollInput{
		Title:   input.Title,
		Options: input.Options,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

func (e *Env) DeletePoll(c *gin.Context) {
	if err := e.Polls.DeletePoll(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Poll deleted"})
}

// --- Response handlers ---

func (e *Env) SubmitResponse(c *gin.Context) {
	var input SubmitResponseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	response, err := e.Polls.SubmitResponse(c.Request.Context(), currentUserID(c), polls.SubmitResponseInput{
		PollID:  c.Param("id"),
		Content: input.Content,
		Kind:    input.Kind,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response)
}

func (e *Env) SubmitAnonymousBallot(c *gin.Context) {
	var input AnonymousBallotInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	response, err := e.Polls.SubmitAnonymousBallot(c.Request.Context(), c.Param("id"), input.OptionID, c.ClientIP())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response)
}

// --- Dashboard ---

func (e *Env) MyPolls(c *gin.Context) {
	list, err := e.Polls.ListByCreator(c.Request.Context(), currentUserID(c))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
