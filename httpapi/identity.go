package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/transport"
	goerrors "github.com/goliatone/go-errors"
)

// IdentityResolver returns the authenticated caller of r. Every link route
// acts on behalf of the resolved caller, never on a user named in the body.
type IdentityResolver func(r *http.Request) (core.UserIdentity, error)

// WithIdentityResolver sets how callers are authenticated. Without one the
// handler only accepts callers stored by ContextWithCaller.
func WithIdentityResolver(resolver IdentityResolver) Option {
	return func(h *Handler) {
		if resolver != nil {
			h.identity = resolver
		}
	}
}

type callerKey struct{}

// ContextWithCaller stores user for middleware that authenticates upstream of
// the handler.
func ContextWithCaller(ctx context.Context, user core.UserIdentity) context.Context {
	return context.WithValue(ctx, callerKey{}, user)
}

func CallerFromContext(ctx context.Context) (core.UserIdentity, bool) {
	user, ok := ctx.Value(callerKey{}).(core.UserIdentity)
	if !ok || strings.TrimSpace(user.ID) == "" {
		return core.UserIdentity{}, false
	}
	return user, true
}

func contextCaller(r *http.Request) (core.UserIdentity, error) {
	user, ok := CallerFromContext(r.Context())
	if !ok {
		return core.UserIdentity{}, unauthenticated(nil, "httpapi: request is not authenticated")
	}
	return user, nil
}

// TokenVerifier maps a bearer token to the user it was issued to.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (core.UserIdentity, error)
}

// BearerTokenResolver authenticates the Authorization bearer token with
// verifier.
func BearerTokenResolver(verifier TokenVerifier) IdentityResolver {
	return func(r *http.Request) (core.UserIdentity, error) {
		if verifier == nil {
			return core.UserIdentity{}, unauthenticated(nil, "httpapi: token verifier is not configured")
		}
		token, ok := bearerToken(r)
		if !ok {
			return core.UserIdentity{}, unauthenticated(nil, "httpapi: bearer token is required")
		}
		user, err := verifier.VerifyToken(r.Context(), token)
		if err != nil {
			return core.UserIdentity{}, unauthenticated(err, "httpapi: bearer token rejected")
		}
		if strings.TrimSpace(user.ID) == "" {
			return core.UserIdentity{}, unauthenticated(nil, "httpapi: bearer token has no subject")
		}
		return user, nil
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTVerifier accepts HS256 tokens whose subject is the caller's user id.
type JWTVerifier struct {
	cfg JWTConfig
}

type callerClaims struct {
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	jwt.RegisteredClaims
}

func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("httpapi: jwt secret must be at least 32 bytes")
	}
	return &JWTVerifier{cfg: cfg}, nil
}

func (v *JWTVerifier) VerifyToken(_ context.Context, token string) (core.UserIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	var claims callerClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	}, opts...); err != nil {
		return core.UserIdentity{}, err
	}
	return core.UserIdentity{
		ID:        claims.Subject,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
	}, nil
}

// IntrospectionResult is the auth service introspection response.
type IntrospectionResult struct {
	Active bool   `json:"active"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// IntrospectionVerifier validates opaque tokens against a remote introspect
// endpoint.
type IntrospectionVerifier struct {
	url            string
	resourceSecret string
	adapter        transport.Adapter
}

func NewIntrospectionVerifier(url, resourceSecret string, adapter transport.Adapter) (*IntrospectionVerifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("httpapi: introspection url is required")
	}
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	return &IntrospectionVerifier{url: strings.TrimSpace(url), resourceSecret: resourceSecret, adapter: adapter}, nil
}

func (v *IntrospectionVerifier) VerifyToken(ctx context.Context, token string) (core.UserIdentity, error) {
	req := transport.Request{
		Method:  http.MethodPost,
		URL:     v.url,
		Headers: map[string]string{"Authorization": "Bearer " + token, "Accept": "application/json"},
		Timeout: 5 * time.Second,
	}
	if v.resourceSecret != "" {
		req.Headers["X-Resource-Secret"] = v.resourceSecret
	}
	res, err := v.adapter.Do(ctx, req)
	if err != nil {
		return core.UserIdentity{}, fmt.Errorf("introspect request: %w", err)
	}
	if !res.Success() {
		return core.UserIdentity{}, fmt.Errorf("introspect returned %d", res.StatusCode)
	}
	var result IntrospectionResult
	if err := res.DecodeJSON(&result); err != nil {
		return core.UserIdentity{}, err
	}
	if !result.Active || strings.TrimSpace(result.UserID) == "" {
		return core.UserIdentity{}, fmt.Errorf("introspect: token is not active")
	}
	return core.UserIdentity{ID: result.UserID, Email: result.Email}, nil
}

func unauthenticated(err error, message string) error {
	var rich *goerrors.Error
	if errors.As(err, &rich) && (rich.Category == goerrors.CategoryAuth || rich.Category == goerrors.CategoryAuthz) {
		return err
	}
	if err == nil {
		err = errors.New(message)
	}
	return goerrors.Wrap(err, goerrors.CategoryAuth, message).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.LinkErrorUnauthorized)
}

func forbidden(message string) error {
	return goerrors.New(message, goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(core.LinkErrorForbidden)
}

func itemNotFound(itemID string) error {
	return goerrors.New("httpapi: item not found", goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.LinkErrorItemNotFound).
		WithMetadata(map[string]any{"item_id": itemID})
}

var (
	_ TokenVerifier = (*JWTVerifier)(nil)
	_ TokenVerifier = (*IntrospectionVerifier)(nil)
)
