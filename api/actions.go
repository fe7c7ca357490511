package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type upsertUserRequest struct {
	Email                   string  `json:"email" binding:"required,email"`
	GithubToken             *string `json:"github_token"`
	TrelloToken             *string `json:"trello_token"`
	ChecklistFeatureEnabled bool    `json:"checklist_feature_enabled"`
}

type userResponse struct {
	ID                      uint   `json:"id"`
	Email                   string `json:"email"`
	ChecklistFeatureEnabled bool   `json:"checklist_feature_enabled"`
	Github                  bool   `json:"github_connected"`
	Trello                  bool   `json:"trello_connected"`
}

type syncRepositoriesRequest struct {
	RepositoryIDs []int64 `json:"repository_ids" binding:"omitempty,dive,gt=0"`
}

type registerListRequest struct {
	ListID string `json:"list_id" binding:"required"`
}

type checklistFeatureRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) UpsertUserHandler(c *gin.Context) {
	var req upsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := &models.User{
		Email:                   req.Email,
		GithubToken:             req.GithubToken,
		TrelloToken:             req.TrelloToken,
		ChecklistFeatureEnabled: req.ChecklistFeatureEnabled,
	}
	if err := h.Engine.UpsertUser(c.Request.Context(), user); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userResponse{
		ID:                      user.ID,
		Email:                   user.Email,
		ChecklistFeatureEnabled: user.ChecklistFeatureEnabled,
		Github:                  user.HasGithub(),
		Trello:                  user.HasTrello(),
	})
}

func (h *Handler) SyncRepositoriesHandler(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req syncRepositoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Engine.SyncRepositories(c.Request.Context(), userID, req.RepositoryIDs); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Repositories synced"})
}

func (h *Handler) TransferRepositoryHandler(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	repoID, err := strconv.ParseInt(c.Param("repo_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid repository id"})
		return
	}
	if err := h.Engine.TransferRepository(c.Request.Context(), userID, repoID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Repository transferred"})
}

func (h *Handler) RegisterListHandler(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req registerListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	list, err := h.Engine.RegisterList(c.Request.Context(), userID, req.ListID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"list_id":    list.ID,
		"list_name":  list.Name,
		"board_id":   list.BoardID,
		"board_name": list.BoardName,
	})
}

func (h *Handler) UnregisterListHandler(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	if err := h.Engine.UnregisterList(c.Request.Context(), userID, c.Param("list_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ChecklistFeatureHandler(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req checklistFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Engine.SetChecklistFeature(c.Request.Context(), userID, *req.Enabled); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checklist_feature_enabled": *req.Enabled})
}

func (h *Handler) IntegrationStatusHandler(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	status, err := h.Engine.IntegrationStatus(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) RevokeIntegrationHandler(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var err error
	switch c.Param("provider") {
	case apperr.ServiceGithub:
		err = h.Engine.RevokeGithub(c.Request.Context(), userID)
	case apperr.ServiceTrello:
		err = h.Engine.RevokeTrello(c.Request.Context(), userID)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteAccountHandler(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	if err := h.Engine.DeleteAccount(c.Request.Context(), userID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func userIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return 0, false
	}
	return uint(id), true
}

// writeError maps engine errors onto HTTP responses. Aggregated errors are
// reported with the status of the first one.
func (h *Handler) writeError(c *gin.Context, err error) {
	errs := multierr.Errors(err)
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Error())
	}

	status := http.StatusInternalServerError
	first := errs[0]
	if ae, ok := apperr.As(first); ok {
		switch ae.Kind {
		case apperr.KindUnauthorized:
			status = http.StatusUnauthorized
		case apperr.KindResourceMissing:
			status = http.StatusNotFound
		case apperr.KindConflict:
			status = http.StatusConflict
		case apperr.KindInvalidRequest:
			status = http.StatusBadGateway
		}
	} else if errors.Is(first, database.ErrNotFound) {
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger().Error("Action failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"errors": messages})
}
