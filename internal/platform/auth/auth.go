// Package auth resolves the acting principal for each request. Tokens are
// issued elsewhere; this package only validates bearer JWTs and exposes the
// Actor (staff user or patient, plus hospital scope) to domain handlers.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

// ActorKey carries the resolved Actor in the request context.
const ActorKey contextKey = "actor"

// Actor identifies who is performing a request. Exactly one of UserID or
// PatientID is set for authenticated requests.
type Actor struct {
	UserID     *uuid.UUID
	PatientID  *uuid.UUID
	HospitalID uuid.UUID
	Role       string
}

// IsStaff reports whether the actor is a staff user.
func (a Actor) IsStaff() bool { return a.UserID != nil }

// IsPatient reports whether the actor is a patient.
func (a Actor) IsPatient() bool { return a.PatientID != nil }

// Claims is the JWT payload shape issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	HospitalID string `json:"hospital_id"`
	PatientID  string `json:"patient_id,omitempty"`
	Role       string `json:"role,omitempty"`
}

// JWTConfig configures the bearer-token middleware.
type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// JWTMiddleware validates the Authorization bearer token and stores the
// resolved Actor in the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			ctx := context.WithValue(c.Request().Context(), ActorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func actorFromClaims(claims *Claims) (Actor, error) {
	hospitalID, err := uuid.Parse(claims.HospitalID)
	if err != nil {
		return Actor{}, errInvalidHospital
	}

	actor := Actor{HospitalID: hospitalID, Role: claims.Role}

	if claims.PatientID != "" {
		pid, err := uuid.Parse(claims.PatientID)
		if err != nil {
			return Actor{}, errInvalidSubject
		}
		actor.PatientID = &pid
		return actor, nil
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Actor{}, errInvalidSubject
	}
	actor.UserID = &uid
	return actor, nil
}

var (
	errInvalidHospital = echo.NewHTTPError(http.StatusUnauthorized, "token has no valid hospital_id")
	errInvalidSubject  = echo.NewHTTPError(http.StatusUnauthorized, "token has no valid subject")
)

// DevAuthMiddleware is a permissive middleware for development: requests
// without a token act as an admin staff user of a fixed hospital.
func DevAuthMiddleware(devHospitalID uuid.UUID) echo.MiddlewareFunc {
	devUser := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid := devUser
			actor := Actor{
				UserID:     &uid,
				HospitalID: devHospitalID,
				Role:       "admin",
			}
			ctx := context.WithValue(c.Request().Context(), ActorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ActorFromContext retrieves the Actor from a request context. The zero Actor
// is returned when no middleware ran (tests, internal calls).
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(ActorKey).(Actor)
	return actor
}

// WithActor returns a context carrying actor; used by tests and internal jobs.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// RequireRole checks that the actor is staff with one of the given roles.
// Admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFromContext(c.Request().Context())
			if !actor.IsStaff() {
				return echo.NewHTTPError(http.StatusForbidden, "staff access required")
			}
			if actor.Role == "admin" {
				return next(c)
			}
			for _, r := range roles {
				if actor.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				"required role: "+strings.Join(roles, " or "))
		}
	}
}
