package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const DefaultSessionName = "authorizations_session"

type RouterConfig struct {
	// Prefix is the route group the handler is mounted on, e.g. "/google".
	Prefix        string
	SessionName   string
	SessionSecret []byte
	SecureCookies bool
	// SessionMaxAge bounds how long an authorize round trip may take, in
	// seconds.
	SessionMaxAge int
}

// NewRouter builds a gin engine with cookie sessions and the authorization
// routes mounted under cfg.Prefix.
func NewRouter(handler *Handler, cfg RouterConfig) (*gin.Engine, error) {
	if handler == nil {
		return nil, fmt.Errorf("httpapi: handler is required")
	}
	if len(cfg.SessionSecret) == 0 {
		return nil, fmt.Errorf("httpapi: session secret is required")
	}
	name := strings.TrimSpace(cfg.SessionName)
	if name == "" {
		name = DefaultSessionName
	}
	maxAge := cfg.SessionMaxAge
	if maxAge <= 0 {
		maxAge = 600
	}

	store := cookie.NewStore(cfg.SessionSecret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sessions.Sessions(name, store))
	handler.Register(router.Group(strings.TrimRight(strings.TrimSpace(cfg.Prefix), "/")))
	return router, nil
}
