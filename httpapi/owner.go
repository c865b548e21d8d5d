package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const DefaultOwnerHeader = "X-Owner-ID"

var ErrOwnerUnresolved = errors.New("httpapi: owner could not be resolved")

// OwnerResolver maps a request to the id of the user that owns the
// authorizations it acts on. Authentication itself happens upstream.
type OwnerResolver interface {
	ResolveOwner(c *gin.Context) (string, error)
}

type OwnerResolverFunc func(c *gin.Context) (string, error)

func (f OwnerResolverFunc) ResolveOwner(c *gin.Context) (string, error) {
	return f(c)
}

// HeaderOwnerResolver reads the owner id from a header set by a trusted
// proxy or middleware.
type HeaderOwnerResolver struct {
	Header string
}

func (r HeaderOwnerResolver) ResolveOwner(c *gin.Context) (string, error) {
	header := strings.TrimSpace(r.Header)
	if header == "" {
		header = DefaultOwnerHeader
	}
	ownerID := strings.TrimSpace(c.GetHeader(header))
	if ownerID == "" {
		return "", ErrOwnerUnresolved
	}
	return ownerID, nil
}

// ContextOwnerResolver reads the owner id stored on the gin context under
// Key, typically by an authentication middleware.
type ContextOwnerResolver struct {
	Key string
}

func (r ContextOwnerResolver) ResolveOwner(c *gin.Context) (string, error) {
	value, ok := c.Get(r.Key)
	if !ok {
		return "", ErrOwnerUnresolved
	}
	ownerID, _ := value.(string)
	if ownerID = strings.TrimSpace(ownerID); ownerID == "" {
		return "", ErrOwnerUnresolved
	}
	return ownerID, nil
}

func (h *Handler) requireOwner(c *gin.Context) (string, bool) {
	ownerID, err := h.owners.ResolveOwner(c)
	if err != nil || strings.TrimSpace(ownerID) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
			Error: errorPayload{TextCode: textCodeUnauthenticated, Message: "owner is not authenticated"},
		})
		return "", false
	}
	return strings.TrimSpace(ownerID), true
}
