package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/roulette-signaling/internal/matchmaking"
	"github.com/mossy-p/roulette-signaling/internal/middleware"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

const tokenTTL = 24 * time.Hour

// Login handles user login and JWT generation
// For demo purposes, accepts any username/password combination and
// trusts the premium flag from the request
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		gender := matchmaking.Gender(req.Gender)
		switch gender {
		case matchmaking.GenderUnknown, matchmaking.GenderMale, matchmaking.GenderFemale:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "gender must be male, female or empty"})
			return
		}

		name := req.Name
		if name == "" {
			name = req.Username
		}

		// For demo: accept any username/password
		// In production, validate against a user database
		claims := middleware.JWTClaims{
			UserID:  req.Username,
			Name:    name,
			Premium: req.Premium,
			Gender:  string(gender),
		}

		tokenString, err := middleware.IssueToken(jwtSecret, claims, tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.JSON(http.StatusOK, models.LoginResponse{
			Token:   tokenString,
			UserID:  claims.UserID,
			Premium: claims.Premium,
		})
	}
}
