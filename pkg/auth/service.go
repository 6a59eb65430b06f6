package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenCookieName is the cookie browser clients carry the token in.
const TokenCookieName = "protocol_jwt"

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrInvalidSubject       = errors.New("token subject is not a user id")
)

// AuthService extracts and validates the caller's token.
type AuthService interface {
	// ValidateRequest reads the token from the protocol_jwt cookie or a
	// Bearer Authorization header and validates it.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireActor checks that the subject is a user UUID.
	RequireActor(claims *Claims) (uuid.UUID, error)
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService creates a new AuthService with the given validator and logger.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	var tokenString string
	var tokenSource string

	if cookie, err := r.Cookie(TokenCookieName); err == nil {
		tokenString = cookie.Value
		tokenSource = "cookie"
	} else {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.logger.Debug("No JWT found in request",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method))
			return nil, "", ErrMissingAuthorization
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			s.logger.Debug("Invalid Authorization header format",
				zap.String("path", r.URL.Path))
			return nil, "", ErrInvalidAuthFormat
		}
		tokenString = token
		tokenSource = "header"
	}

	claims, err := s.validator.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", tokenSource))
		return nil, "", err
	}

	return claims, tokenString, nil
}

func (s *authService) RequireActor(claims *Claims) (uuid.UUID, error) {
	actor, err := uuid.Parse(claims.Subject)
	if err != nil {
		s.logger.Debug("Token subject is not a UUID", zap.String("subject", claims.Subject))
		return uuid.Nil, ErrInvalidSubject
	}
	return actor, nil
}

var _ AuthService = (*authService)(nil)
