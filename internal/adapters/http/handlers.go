package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

type RegisterRequest struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type RegisterResponse struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	Token    string        `json:"token"`
}

// handleRegister persists a new identity and hands back its opaque token.
// The token stays stable for the identity's lifetime; clients present it on
// the WS signal endpoint.
func handleRegister(dir core.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid username"})
			return
		}

		identity, err := domain.NewIdentity(req.Username)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.UserID != "" {
			if len(req.UserID) > domain.MaxUserIDLen {
				c.JSON(http.StatusBadRequest, gin.H{"error": "userId too long"})
				return
			}
			if _, err := dir.FindByID(c.Request.Context(), domain.UserID(req.UserID)); err == nil {
				c.JSON(http.StatusConflict, gin.H{"error": "userId already taken"})
				return
			}
			identity.ID = domain.UserID(req.UserID)
		}

		if err := dir.Save(c.Request.Context(), identity); err != nil {
			if errors.Is(err, core.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
				return
			}
			log.Error().Err(err).Str("module", "adapters.http").Msg("register save failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server error"})
			return
		}

		log.Info().Str("module", "adapters.http").Str("user", string(identity.ID)).Str("username", identity.Username).Msg("registered identity")
		c.JSON(http.StatusOK, RegisterResponse{
			UserID:   identity.ID,
			Username: identity.Username,
			Token:    identity.Token,
		})
	}
}
