package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-authorizations/core"
	authquery "github.com/goliatone/go-authorizations/query"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	sessionKeyName     = "authorizations.name"
	sessionKeyFinalURL = "authorizations.final_url"
	sessionKeyState    = "authorizations.state"

	stateBytes = 32
)

// Service is the part of the authorization service the HTTP surface uses.
type Service interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.InitiateResult, error)
	Complete(ctx context.Context, req core.CompleteRequest) (core.Authorization, error)
	Revoke(ctx context.Context, key core.RecordKey) (bool, error)
	authquery.Reader
	Scopes() core.ScopeSet
}

type Config struct {
	// CallbackURL is the absolute redirect URI registered with the provider.
	CallbackURL string
	// FinalRedirect is used when a request carries no final_url.
	FinalRedirect string
	Owners        OwnerResolver
	Logger        glog.Logger
}

type Handler struct {
	service       Service
	list          *authquery.ListAuthorizationsQuery
	callbackURL   string
	finalRedirect string
	owners        OwnerResolver
	logger        glog.Logger
}

func NewHandler(service Service, cfg Config) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("httpapi: authorization service is required")
	}
	owners := cfg.Owners
	if owners == nil {
		owners = HeaderOwnerResolver{}
	}
	finalRedirect := strings.TrimSpace(cfg.FinalRedirect)
	if finalRedirect == "" {
		finalRedirect = "/"
	}
	return &Handler{
		service:       service,
		list:          authquery.NewListAuthorizationsQuery(service),
		callbackURL:   strings.TrimSpace(cfg.CallbackURL),
		finalRedirect: finalRedirect,
		owners:        owners,
		logger:        glog.Ensure(cfg.Logger),
	}, nil
}

// Register mounts the authorization routes on group. Session middleware must
// already be installed.
func (h *Handler) Register(group gin.IRoutes) {
	group.POST("/authorize", h.Authorize)
	group.GET("/callback", h.Callback)
	group.DELETE("/revoke", h.Revoke)
	group.GET("/authorizations", h.List)
}

type authorizeRequest struct {
	Name      string   `form:"name" json:"name"`
	Scopes    []string `form:"scopes" json:"scopes"`
	AddScopes []string `form:"add_scopes" json:"add_scopes"`
	FinalURL  string   `form:"final_url" json:"final_url"`
}

// Authorize starts the consent flow and redirects to the provider.
func (h *Handler) Authorize(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeError(c, "authorize", fmt.Errorf("httpapi: invalid authorize request: %w", err))
		return
	}
	state, err := newState()
	if err != nil {
		h.writeError(c, "authorize", err)
		return
	}

	result, err := h.service.Initiate(c.Request.Context(), core.InitiateRequest{
		OwnerID:     ownerID,
		Name:        req.Name,
		Scopes:      splitScopes(req.Scopes),
		AddScopes:   splitScopes(req.AddScopes),
		RedirectURI: h.callbackURL,
		State:       state,
	})
	if err != nil {
		h.writeError(c, "authorize", err)
		return
	}

	session := sessions.Default(c)
	session.Set(sessionKeyName, result.Authorization.Name)
	session.Set(sessionKeyState, state)
	if finalURL := safeLocalURL(req.FinalURL); finalURL != "" {
		session.Set(sessionKeyFinalURL, finalURL)
	} else {
		session.Delete(sessionKeyFinalURL)
	}
	if err := session.Save(); err != nil {
		h.writeError(c, "authorize", fmt.Errorf("httpapi: save session: %w", err))
		return
	}
	c.Redirect(http.StatusFound, result.AuthorizeURL)
}

// Callback completes the consent flow started by Authorize.
func (h *Handler) Callback(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	session := sessions.Default(c)
	name, _ := session.Get(sessionKeyName).(string)
	savedState, _ := session.Get(sessionKeyState).(string)
	finalURL, _ := session.Get(sessionKeyFinalURL).(string)

	session.Delete(sessionKeyName)
	session.Delete(sessionKeyState)
	session.Delete(sessionKeyFinalURL)
	if err := session.Save(); err != nil {
		h.writeError(c, "callback", fmt.Errorf("httpapi: save session: %w", err))
		return
	}

	if providerErr := strings.TrimSpace(c.Query("error")); providerErr != "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
			Error: errorPayload{TextCode: textCodeProviderDenied, Message: providerErr},
		})
		return
	}
	state := c.Query("state")
	if savedState == "" || subtle.ConstantTimeCompare([]byte(savedState), []byte(state)) != 1 {
		h.writeError(c, "callback", fmt.Errorf("httpapi: oauth state mismatch"))
		return
	}

	if _, err := h.service.Complete(c.Request.Context(), core.CompleteRequest{
		OwnerID:     ownerID,
		Name:        name,
		Code:        c.Query("code"),
		RedirectURI: h.callbackURL,
	}); err != nil {
		h.writeError(c, "callback", err)
		return
	}
	c.Redirect(http.StatusFound, h.finalTarget(finalURL))
}

type revokeRequest struct {
	Name     string `form:"name" json:"name"`
	FinalURL string `form:"final_url" json:"final_url"`
}

// Revoke deactivates the named authorization and redirects back.
func (h *Handler) Revoke(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	var req revokeRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeError(c, "revoke", fmt.Errorf("httpapi: invalid revoke request: %w", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = c.Query("name")
	}
	key := core.NewRecordKey(ownerID, req.Name)
	revoked, err := h.service.Revoke(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, "revoke", err)
		return
	}
	if !revoked {
		h.writeError(c, "revoke", fmt.Errorf("%w: no active authorization %s", core.ErrNotFound, key))
		return
	}

	target := safeLocalURL(req.FinalURL)
	if target == "" {
		target = safeLocalURL(c.GetHeader("Referer"))
	}
	c.Redirect(http.StatusFound, h.finalTarget(target))
}

// List returns the owner's authorizations with tokens withheld.
func (h *Handler) List(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	msg := authquery.ListAuthorizationsMessage{
		OwnerID: ownerID,
		State:   core.AuthorizationState(strings.TrimSpace(c.Query("state"))),
	}
	if err := msg.Validate(); err != nil {
		h.writeError(c, "list", err)
		return
	}
	records, err := h.list.Query(c.Request.Context(), msg)
	if err != nil {
		h.writeError(c, "list", err)
		return
	}
	scopes := h.service.Scopes()
	views := make([]authorizationView, 0, len(records))
	for _, record := range records {
		views = append(views, newAuthorizationView(scopes, record))
	}
	c.JSON(http.StatusOK, gin.H{"authorizations": views})
}

func (h *Handler) finalTarget(candidate string) string {
	if candidate = safeLocalURL(candidate); candidate != "" {
		return candidate
	}
	return h.finalRedirect
}

// safeLocalURL accepts same-origin paths only. Referer values are reduced to
// their path and query.
func safeLocalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if parsed.IsAbs() {
		parsed = &url.URL{Path: parsed.Path, RawQuery: parsed.RawQuery}
	}
	if parsed.Host != "" || !strings.HasPrefix(parsed.Path, "/") || strings.HasPrefix(parsed.Path, "//") {
		return ""
	}
	return parsed.RequestURI()
}

// splitScopes accepts repeated values as well as space or comma separated
// lists.
func splitScopes(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, strings.FieldsFunc(value, func(r rune) bool {
			return r == ' ' || r == ','
		})...)
	}
	return out
}

func newState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("httpapi: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
