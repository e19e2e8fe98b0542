package auth

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// RouteGuards are the middlewares RegisterAuthRoutes puts in front of
// session aware routes. Protected rejects requests without a valid access
// token, Optional lets them through without a session.
type RouteGuards struct {
	Protected fiber.Handler
	Optional  fiber.Handler
}

// RegisterAuthRoutes mounts the JSON auth API on r.
func RegisterAuthRoutes(r fiber.Router, controller *AuthController, guards RouteGuards) {
	if guards.Protected == nil {
		panic("AUTH: RegisterAuthRoutes requires a Protected guard")
	}

	r.Post(controller.Routes.Login, controller.LoginPost).Name("auth.login")
	r.Post(controller.Routes.Refresh, controller.RefreshPost).Name("auth.refresh")

	logout := []fiber.Handler{controller.LogoutPost}
	if guards.Optional != nil {
		logout = append([]fiber.Handler{guards.Optional}, logout...)
	}
	r.Post(controller.Routes.Logout, logout...).Name("auth.logout")

	r.Post(controller.Routes.LogoutAll, guards.Protected, controller.LogoutAllPost).Name("auth.logout_all")
	r.Get(controller.Routes.Permissions, guards.Protected, controller.PermissionsGet).Name("auth.permissions")
}

type AuthControllerRoutes struct {
	Login       string
	Refresh     string
	Logout      string
	LogoutAll   string
	Permissions string
}

type AuthController struct {
	Debug                   bool
	DisclosePrincipalErrors bool
	Logger                  Logger
	Routes                  *AuthControllerRoutes
	Auther                  *Authenticator
	ErrorHandler            fiber.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerConfig copies the disclosure policy from cfg
func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.DisclosePrincipalErrors = cfg.GetDisclosePrincipalErrors()
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

func WithControllerRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithControllerErrorHandler(handler fiber.ErrorHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

func NewAuthController(auther *Authenticator, opts ...AuthControllerOption) *AuthController {
	if auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	c := &AuthController{
		Logger: defLogger{},
		Auther: auther,
		Routes: &AuthControllerRoutes{
			Login:       "/auth/login",
			Refresh:     "/auth/refresh",
			Logout:      "/auth/logout",
			LogoutAll:   "/auth/logout-all",
			Permissions: "/auth/permissions",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = NewErrorHandler(c.Logger)
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	DeviceID   string `form:"device_id" json:"device_id"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.DeviceID, validation.Length(0, 128)),
	)
}

func (r LoginRequest) credentials(c *fiber.Ctx) Credentials {
	return Credentials{
		Identifier:    r.Identifier,
		Password:      r.Password,
		DeviceID:      r.DeviceID,
		SourceAddress: c.IP(),
		UserAgent:     c.Get(fiber.HeaderUserAgent),
	}
}

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	*TokenPair
	UserID              int64 `json:"user_id"`
	TenantID            int64 `json:"tenant_id"`
	ForcePasswordChange bool  `json:"force_password_change"`
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(c, validationError(err))
	}

	if a.Debug {
		a.Logger.Debug("login request", "payload", print.MaybePrettyJSON(map[string]string{
			"identifier": payload.Identifier,
			"device_id":  payload.DeviceID,
			"source":     c.IP(),
		}))
	}

	result, err := a.Auther.Login(c.UserContext(), payload.credentials(c))
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	if !result.OK() {
		return a.ErrorHandler(c, a.publicFailure(result))
	}

	return c.JSON(LoginResponse{
		TokenPair:           result.Tokens,
		UserID:              result.Session.UserID,
		TenantID:            result.Session.TenantID,
		ForcePasswordChange: result.ForcePasswordChange,
	})
}

// publicFailure hides which of identifier or password was wrong unless the
// deployment opted into disclosing it.
func (a *AuthController) publicFailure(result *LoginResult) error {
	if result.Status.IsPrincipalFailure() && !a.DisclosePrincipalErrors {
		return ErrInvalidCredentials
	}
	if result.Failure != nil {
		return result.Failure
	}
	return ErrorForStatus(result.Status)
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (a *AuthController) RefreshPost(c *fiber.Ctx) error {
	payload := new(RefreshRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(c, validationError(err))
	}

	pair, err := a.Auther.Refresh(c.UserContext(), payload.RefreshToken)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.JSON(pair)
}

// LogoutPost always answers 204 for unknown or unreadable tokens.
func (a *AuthController) LogoutPost(c *fiber.Ctx) error {
	payload := new(LogoutRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return a.ErrorHandler(c, validationError(err))
		}
	}

	if err := a.Auther.Logout(c.UserContext(), *payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// LogoutAllRequest payload
type LogoutAllRequest struct {
	DeviceID string `form:"device_id" json:"device_id"`
}

func (a *AuthController) LogoutAllPost(c *fiber.Ctx) error {
	session, ok := SessionFromContext(c.UserContext())
	if !ok {
		return a.ErrorHandler(c, ErrUnableToFindSession)
	}

	payload := new(LogoutAllRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return a.ErrorHandler(c, validationError(err))
		}
	}

	revoked, err := a.Auther.LogoutAll(c.UserContext(), session.UserID, payload.DeviceID)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	session.End()

	return c.JSON(fiber.Map{"revoked": revoked})
}

// PermissionsResponse is the effective set of the calling session.
type PermissionsResponse struct {
	UserID      int64    `json:"user_id"`
	TenantID    int64    `json:"tenant_id"`
	Permissions []string `json:"permissions"`
	SuperAdmin  bool     `json:"super_admin"`
}

func (a *AuthController) PermissionsGet(c *fiber.Ctx) error {
	session, ok := SessionFromContext(c.UserContext())
	if !ok {
		return a.ErrorHandler(c, ErrUnableToFindSession)
	}

	set, err := session.Permissions(c.UserContext())
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.JSON(PermissionsResponse{
		UserID:      session.UserID,
		TenantID:    session.TenantID,
		Permissions: set.Codes(),
		SuperAdmin:  set.GrantsAll(),
	})
}

// NewErrorHandler renders errors as go-errors JSON responses. Infrastructure
// failures are logged and answered with a generic 500 body.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			richErr := goerrors.New(fiberErr.Message, goerrors.HTTPStatusToCategory(fiberErr.Code)).
				WithCode(fiberErr.Code).
				WithTextCode(goerrors.HTTPStatusToTextCode(fiberErr.Code))
			return c.Status(fiberErr.Code).JSON(richErr.ToErrorResponse(false, nil))
		}

		if IsInfrastructureError(err) {
			logger.Error("request failed", "path", c.Path(), "error", err)
			richErr := goerrors.New("an unexpected server error occurred", goerrors.CategoryInternal).
				WithCode(goerrors.CodeInternal).
				WithTextCode(TextCodeInfrastructure)
			return c.Status(fiber.StatusInternalServerError).JSON(richErr.ToErrorResponse(false, nil))
		}

		var richErr *goerrors.Error
		if !errors.As(err, &richErr) {
			richErr = ErrValidation
		}
		public := richErr.Clone()
		public.Source = nil

		status := StatusCodeFromError(err)
		if status == fiber.StatusUnauthorized {
			c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
		}

		logger.Debug("request rejected", "path", c.Path(), "text_code", public.TextCode)
		return c.Status(status).JSON(public.ToErrorResponse(false, nil))
	}
}
