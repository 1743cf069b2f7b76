package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/roulette-signaling/internal/friends"
	"github.com/mossy-p/roulette-signaling/internal/middleware"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

// FriendsHandler serves the friendship API used after a successful
// stay-connected vote. Routes require JWTAuth.
type FriendsHandler struct {
	store  friends.Store
	limits friends.Limits
	logger *slog.Logger
}

func NewFriendsHandler(store friends.Store, limits friends.Limits, logger *slog.Logger) *FriendsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FriendsHandler{store: store, limits: limits, logger: logger}
}

// AddFriend creates a friendship between the caller and a partner.
// 201 for a new record, 200 when it already existed, 409 at the cap.
func (h *FriendsHandler) AddFriend(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.AddFriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	store := friends.Limited(h.store, h.limits.For(claims.Premium))
	f, err := store.AddFriend(c.Request.Context(), claims.UserID, req.PartnerUserID)
	switch {
	case err == nil:
		h.logger.Info("friendship created", "user", claims.UserID, "partner", req.PartnerUserID)
		c.JSON(http.StatusCreated, models.AddFriendResponse{Friendship: f, Created: true})
	case errors.Is(err, friends.ErrAlreadyFriends):
		c.JSON(http.StatusOK, models.AddFriendResponse{Friendship: f, Created: false})
	case errors.Is(err, friends.ErrFriendLimit):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, friends.ErrInvalidPartner):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("failed to create friendship", "user", claims.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create friendship"})
	}
}

// ListFriends returns the caller's friends.
func (h *FriendsHandler) ListFriends(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ids, err := h.store.Friends(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list friends", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list friends"})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, models.FriendsResponse{UserID: userID, Friends: ids})
}
