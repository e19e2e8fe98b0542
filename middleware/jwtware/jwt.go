package jwtware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-franchise-auth"
)

var defaultTokenLookup = "header:" + fiber.HeaderAuthorization

// ErrJWTMissingOrMalformed is returned when no extractor finds a token.
var ErrJWTMissingOrMalformed = goerrors.New("missing or malformed JWT", goerrors.CategoryAuth).
	WithTextCode("TOKEN_MISSING").
	WithCode(goerrors.CodeUnauthorized)

// TokenValidator is satisfied by *auth.TokenService.
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string, expected auth.TokenKind) (*auth.TokenClaims, error)
}

// ValidationListener is invoked after a token has been validated but before
// permission checks run.
type ValidationListener func(c *fiber.Ctx, claims *auth.TokenClaims) error

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler
	// TokenValidator is required for token validation
	TokenValidator TokenValidator
	// Resolver is required to bind the session to permission resolution
	Resolver *auth.PermissionResolver
	// ContextKey holds the claims in fiber locals
	ContextKey string
	// SessionKey holds the *auth.SessionContext in fiber locals
	SessionKey  string
	TokenLookup string
	AuthScheme  string
	// Optional lets requests without a token through with no session.
	// Invalid tokens are still rejected.
	Optional bool
	// RequiredPermissions must all be granted in the token tenant.
	RequiredPermissions []string

	ValidationListeners []ValidationListener
}

func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			if cfg.Optional {
				return c.Next()
			}
			return cfg.ErrorHandler(c, err)
		}

		ctx := c.UserContext()
		claims, err := cfg.TokenValidator.Validate(ctx, raw, auth.TokenKindAccess)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		if err := cfg.runValidationListeners(c, claims); err != nil {
			return cfg.ErrorHandler(c, err)
		}

		session := auth.SessionFromClaims(claims, cfg.Resolver)
		ctx = auth.WithSession(auth.WithClaimsContext(ctx, claims), session)

		for _, code := range cfg.RequiredPermissions {
			if err := session.Require(ctx, code); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		c.Locals(cfg.ContextKey, claims)
		c.Locals(cfg.SessionKey, session)
		c.SetUserContext(ctx)

		return cfg.SuccessHandler(c)
	}
}

// RequirePermission gates a route on codes for the session set by New.
// Requests without a session are rejected as unauthenticated.
func RequirePermission(errorHandler fiber.ErrorHandler, codes ...string) fiber.Handler {
	if errorHandler == nil {
		errorHandler = auth.NewErrorHandler(nil)
	}
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		session, ok := auth.SessionFromContext(ctx)
		if !ok {
			return errorHandler(c, auth.ErrUnableToFindSession)
		}
		for _, code := range codes {
			if err := session.Require(ctx, code); err != nil {
				return errorHandler(c, err)
			}
		}
		return c.Next()
	}
}

// RequireAnyPermission passes when at least one of codes is granted.
func RequireAnyPermission(errorHandler fiber.ErrorHandler, codes ...string) fiber.Handler {
	if errorHandler == nil {
		errorHandler = auth.NewErrorHandler(nil)
	}
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		session, ok := auth.SessionFromContext(ctx)
		if !ok {
			return errorHandler(c, auth.ErrUnableToFindSession)
		}
		for _, code := range codes {
			granted, err := session.Can(ctx, code)
			if err != nil {
				return errorHandler(c, err)
			}
			if granted {
				return c.Next()
			}
		}
		return errorHandler(c, auth.ErrForbidden)
	}
}

// ExtractRawToken returns the first token found by extractors.
func ExtractRawToken(c *fiber.Ctx, extractors []JWTExtractor) (string, error) {
	var raw string
	err := error(ErrJWTMissingOrMalformed)

	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = auth.NewErrorHandler(nil)
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: JWT middleware configuration: TokenValidator is required.")
	}

	if cfg.Resolver == nil {
		panic("AUTH: JWT middleware configuration: Resolver is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.SessionKey == "" {
		cfg.SessionKey = "session"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

// SessionFrom returns the session New stored in locals under key.
func SessionFrom(c *fiber.Ctx, key string) (*auth.SessionContext, bool) {
	session, ok := c.Locals(key).(*auth.SessionContext)
	return session, ok && session != nil
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(c *fiber.Ctx, claims *auth.TokenClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(c, claims); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, jwtFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, jwtFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(parts[1]))
		}
	}

	return extractors
}

type JWTExtractor func(c *fiber.Ctx) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Params(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
