package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lanternlabs/keyline/internal/storage"
	"github.com/lanternlabs/keyline/internal/users"
	"go.uber.org/zap"
)

const userUIDContextKey = "keyline_user_uid"

var (
	errMissingStore         = errors.New("user store dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingDigest        = errors.New("digest dependency required")
	errMissingGenerator     = errors.New("token generator dependency required")
	errMissingIDProvider    = errors.New("id provider dependency required")
	errMissingSender        = errors.New("oob sender dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// UserStore is the persistence surface the API needs: the entity's storage
// contract plus the lookup paths used by sign-up and sign-in.
type UserStore interface {
	users.Storage
	CreateUser(ctx context.Context, record *users.Record) error
	FindUserByUID(ctx context.Context, uid string) (*users.Record, error)
	FindUserByEmail(ctx context.Context, email string) (*users.Record, error)
}

// TokenManager issues and validates ID tokens.
type TokenManager interface {
	SignIDToken(ctx context.Context, record *users.Record) (string, error)
	ValidateToken(token string) (string, error)
	TokenTTL() time.Duration
}

// OobSender delivers out-of-band action codes to users.
type OobSender interface {
	SendOobCode(to string, mode users.OobMode, code string) error
}

// Dependencies wires the HTTP layer to its collaborators.
type Dependencies struct {
	Store      UserStore
	Tokens     TokenManager
	Digest     users.Digest
	Generator  users.TokenGenerator
	IDProvider users.IDProvider
	Sender     OobSender
	OobTTL     time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// NewHTTPHandler builds the gin router for the identity API. The
// request/response schema is built on the record's public Info projection;
// credential material never leaves this layer.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Digest == nil {
		return nil, errMissingDigest
	}
	if deps.Generator == nil {
		return nil, errMissingGenerator
	}
	if deps.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if deps.Sender == nil {
		return nil, errMissingSender
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:     deps.Store,
		tokens:    deps.Tokens,
		digest:    deps.Digest,
		generator: deps.Generator,
		ids:       deps.IDProvider,
		sender:    deps.Sender,
		oobTTL:    deps.OobTTL,
		clock:     clock,
		logger:    logger,
	}

	router.POST("/auth/signup", handler.handleSignup)
	router.POST("/auth/signin", handler.handleSignin)
	router.POST("/auth/refresh", handler.handleRefresh)
	router.POST("/auth/oob", handler.handleOobRequest)
	router.POST("/auth/oob/confirm", handler.handleOobConfirm)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users/me", handler.handleGetMe)
	protected.PATCH("/users/me", handler.handleUpdateMe)
	protected.DELETE("/users/me", handler.handleDeleteMe)

	return router, nil
}

type httpHandler struct {
	store     UserStore
	tokens    TokenManager
	digest    users.Digest
	generator users.TokenGenerator
	ids       users.IDProvider
	sender    OobSender
	oobTTL    time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

// entityFor wraps a loaded record with the handler's collaborators.
func (h *httpHandler) entityFor(record *users.Record) (*users.Entity, error) {
	return users.NewEntity(users.EntityConfig{
		Record:    record,
		Storage:   h.store,
		Signer:    h.tokens,
		Digest:    h.digest,
		Generator: h.generator,
		Clock:     h.clock,
	})
}

type signupRequestPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

type userResponsePayload struct {
	User users.Info `json:"user"`
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	email := strings.TrimSpace(request.Email)

	if _, err := h.store.FindUserByEmail(ctx, email); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email_in_use"})
		return
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		h.logger.Error("signup lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	uid, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("uid generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	record := &users.Record{
		UID:        uid,
		ProviderID: "password",
		Email:      email,
		Username:   strings.TrimSpace(request.Username),
	}
	entity, err := h.entityFor(record)
	if err != nil {
		h.logger.Error("entity construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}
	entity.SetPassword(request.Password).UpdateProfile(map[string]string{
		"displayName": request.DisplayName,
		"photoURL":    request.PhotoURL,
	})

	if err := h.store.CreateUser(ctx, record); err != nil {
		h.logger.Error("user creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	c.JSON(http.StatusCreated, userResponsePayload{User: entity.Info()})
}

type signinRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponsePayload struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	User         users.Info `json:"user"`
}

func (h *httpHandler) handleSignin(c *gin.Context) {
	var request signinRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	record, err := h.store.FindUserByEmail(ctx, strings.TrimSpace(request.Email))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	entity, err := h.entityFor(record)
	if err != nil {
		h.logger.Error("entity construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signin_failed"})
		return
	}
	if !entity.ComparePassword(request.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	if _, err := entity.SetLastLogin().SetRefreshToken().Save(ctx); err != nil {
		h.logger.Error("signin persistence failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signin_failed"})
		return
	}

	token, err := entity.IDToken(ctx)
	if err != nil {
		h.logger.Error("id token issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken:  token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.tokens.TokenTTL().Seconds()),
		RefreshToken: entity.Data().RefreshToken,
		User:         entity.Info(),
	})
}

type refreshRequestPayload struct {
	UID          string `json:"uid"`
	RefreshToken string `json:"refresh_token"`
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.UID) == "" || request.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	record, err := h.store.FindUserByUID(ctx, strings.TrimSpace(request.UID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}

	entity, err := h.entityFor(record)
	if err != nil {
		h.logger.Error("entity construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed"})
		return
	}
	if !entity.CompareRefreshToken(request.RefreshToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}

	token, err := entity.IDToken(ctx)
	if err != nil {
		h.logger.Error("id token issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.tokens.TokenTTL().Seconds()),
		User:        entity.Info(),
	})
}

type oobRequestPayload struct {
	Email string `json:"email"`
	Mode  string `json:"mode"`
}

func (h *httpHandler) handleOobRequest(c *gin.Context) {
	var request oobRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	// The core normalizes unknown modes to none; at the API boundary an
	// unknown mode is a caller mistake and gets rejected instead.
	mode := users.ParseOobMode(request.Mode)
	if mode == users.OobModeNone {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mode"})
		return
	}

	ctx := c.Request.Context()
	record, err := h.store.FindUserByEmail(ctx, strings.TrimSpace(request.Email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Same response as the success path so callers cannot probe
			// which addresses have accounts.
			c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
			return
		}
		h.logger.Error("oob lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "oob_failed"})
		return
	}

	entity, err := h.entityFor(record)
	if err != nil {
		h.logger.Error("entity construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "oob_failed"})
		return
	}
	if _, err := entity.SetOob(request.Mode).Save(ctx); err != nil {
		h.logger.Error("oob persistence failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "oob_failed"})
		return
	}

	data := entity.Data()
	if err := h.sender.SendOobCode(data.Email, data.OobMode, data.OobCode); err != nil {
		h.logger.Error("oob delivery failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "oob_failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

type oobConfirmPayload struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *httpHandler) handleOobConfirm(c *gin.Context) {
	var request oobConfirmPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || request.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	record, err := h.store.FindUserByEmail(ctx, strings.TrimSpace(request.Email))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}

	entity, err := h.entityFor(record)
	if err != nil {
		h.logger.Error("entity construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "oob_confirm_failed"})
		return
	}

	mode, ok := entity.ConsumeOob(request.Code, h.oobTTL)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}

	switch mode {
	case users.OobModeResetPassword:
		if request.NewPassword == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "new_password_required"})
			return
		}
		entity.SetPassword(request.NewPassword)
	case users.OobModeVerifyEmail:
		entity.ConfirmEmail()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}

	if _, err := entity.Save(ctx); err != nil {
		h.logger.Error("oob confirm persistence failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "oob_confirm_failed"})
		return
	}

	c.JSON(http.StatusOK, userResponsePayload{User: entity.Info()})
}

func (h *httpHandler) handleGetMe(c *gin.Context) {
	entity, ok := h.loadAuthorizedUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, userResponsePayload{User: entity.Info()})
}

type updateMePayload struct {
	DisplayName  *string                `json:"displayName"`
	PhotoURL     *string                `json:"photoURL"`
	Username     *string                `json:"username"`
	PhoneNumber  *string                `json:"phoneNumber"`
	Email        *string                `json:"email"`
	Claims       map[string]interface{} `json:"claims"`
	ProviderData map[string]interface{} `json:"providerData"`
}

func (h *httpHandler) handleUpdateMe(c *gin.Context) {
	entity, ok := h.loadAuthorizedUser(c)
	if !ok {
		return
	}

	var request updateMePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile := map[string]string{}
	if request.DisplayName != nil {
		profile["displayName"] = *request.DisplayName
	}
	if request.PhotoURL != nil {
		profile["photoURL"] = *request.PhotoURL
	}
	entity.UpdateProfile(profile)

	if request.Username != nil {
		entity.SetUsername(*request.Username)
	}
	if request.PhoneNumber != nil {
		entity.SetPhoneNumber(*request.PhoneNumber)
	}
	if request.Email != nil {
		entity.SetEmail(strings.TrimSpace(*request.Email))
	}
	if request.Claims != nil {
		entity.UpdateClaims(request.Claims)
	}
	if request.ProviderData != nil {
		entity.SetProviderData(request.ProviderData)
	}

	if _, err := entity.Save(c.Request.Context()); err != nil {
		h.logger.Error("profile update persistence failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	c.JSON(http.StatusOK, userResponsePayload{User: entity.Info()})
}

func (h *httpHandler) handleDeleteMe(c *gin.Context) {
	entity, ok := h.loadAuthorizedUser(c)
	if !ok {
		return
	}
	if _, err := entity.Delete(c.Request.Context()); err != nil {
		h.logger.Error("user deletion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// loadAuthorizedUser resolves the authenticated uid into a wrapped entity.
// It writes the error response itself when resolution fails.
func (h *httpHandler) loadAuthorizedUser(c *gin.Context) (*users.Entity, bool) {
	uid := c.GetString(userUIDContextKey)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	record, err := h.store.FindUserByUID(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return nil, false
		}
		h.logger.Error("user lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return nil, false
	}
	entity, err := h.entityFor(record)
	if err != nil {
		h.logger.Error("entity construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return nil, false
	}
	return entity, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userUIDContextKey, subject)
	c.Next()
}
