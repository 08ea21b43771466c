package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	"gig_marketplace/internal/middleware"
	apperrors "gig_marketplace/pkg/errors"
)

func currentUser(c *gin.Context) (uuid.UUID, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, apperrors.ErrUnauthorized
	}
	return id, nil
}

func parseScope(raw string) (domain.ThreadScope, error) {
	if raw == "" || raw == string(domain.DirectScope) {
		return domain.DirectScope, nil
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid job id %q: %w", raw, apperrors.ErrBadRequest)
	}
	return domain.ScopeOf(&jobID), nil
}

// threadKey reads the counterpart from the path and the scope from ?job_id=.
func threadKey(c *gin.Context) (domain.ConversationKey, error) {
	other, err := uuid.Parse(c.Param("counterpartId"))
	if err != nil {
		return domain.ConversationKey{}, fmt.Errorf("invalid counterpart id: %w", apperrors.ErrBadRequest)
	}
	scope, err := parseScope(c.Query("job_id"))
	if err != nil {
		return domain.ConversationKey{}, err
	}
	return domain.ConversationKey{Scope: scope, OtherPartyID: other}, nil
}

// requestContext pulls the caller and thread key, recording the first error on c.
func requestContext(c *gin.Context) (uuid.UUID, domain.ConversationKey, bool) {
	userID, err := currentUser(c)
	if err != nil {
		_ = c.Error(err)
		return uuid.Nil, domain.ConversationKey{}, false
	}
	key, err := threadKey(c)
	if err != nil {
		_ = c.Error(err)
		return uuid.Nil, domain.ConversationKey{}, false
	}
	return userID, key, true
}
