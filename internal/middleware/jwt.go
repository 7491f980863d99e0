package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-review-engine/internal/utils"
)

// JWTConfig describes how access tokens are verified.
type JWTConfig struct {
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	Leeway time.Duration
}

// JWTProtected validates HMAC-signed bearer tokens and binds the caller's id
// and role to the request as user_id (uint) and user_role (lower case).
func JWTProtected(cfg JWTConfig) fiber.Handler {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(options...)
	secret := []byte(cfg.Secret)
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "bearer token required")
		}

		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return utils.SendError(c, fiber.StatusUnauthorized, "token expired")
			}
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		userID, ok := subjectFromClaims(claims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "token subject missing")
		}

		c.Locals("user_id", userID)
		if role := roleFromClaims(claims); role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// subjectFromClaims reads a positive numeric user id from sub, falling back to
// the user_id and id claims some issuers use.
func subjectFromClaims(claims jwt.MapClaims) (uint, bool) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		if id, err := strconv.ParseUint(sub, 10, 64); err == nil && id > 0 {
			return uint(id), true
		}
	}

	for _, key := range []string{"sub", "user_id", "id"} {
		switch v := claims[key].(type) {
		case float64:
			if v >= 1 && v == float64(uint64(v)) {
				return uint(v), true
			}
		case string:
			if id, err := strconv.ParseUint(v, 10, 64); err == nil && id > 0 {
				return uint(id), true
			}
		}
	}
	return 0, false
}

// roleFromClaims returns the first non-empty role from role or roles.
func roleFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"role", "roles"} {
		switch v := claims[key].(type) {
		case string:
			if role := strings.ToLower(strings.TrimSpace(v)); role != "" {
				return role
			}
		case []interface{}:
			for _, item := range v {
				if str, ok := item.(string); ok {
					if role := strings.ToLower(strings.TrimSpace(str)); role != "" {
						return role
					}
				}
			}
		}
	}
	return ""
}
