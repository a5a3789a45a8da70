package middleware

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

// Locals keys set by RequireAuth
const (
	LocalsUserID = "userID"
	LocalsClaims = "claims"
)

// UserClaims identifies the caller. Subject carries the user id.
type UserClaims struct {
	UserName string `json:"user_name"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID
func IssueToken(secret, userID, userName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies a token signed with secret and returns its claims
func ParseToken(secret, token string) (*UserClaims, error) {
	var claims UserClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w, %v", apperrors.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w, token has no subject", apperrors.ErrUnauthorized)
	}
	return &claims, nil
}

// RequireAuth rejects requests without a valid bearer token. With allowQuery
// the token may also come from ?token=, which browsers need for WebSockets.
func RequireAuth(secret string, allowQuery bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" && allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
				Error:   "Unauthorized",
				Message: apperrors.ErrUnauthorized.Error(),
			})
		}

		claims, err := ParseToken(secret, token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
				Error:   "Unauthorized",
				Message: apperrors.ErrUnauthorized.Error(),
			})
		}

		c.Locals(LocalsClaims, claims)
		c.Locals(LocalsUserID, claims.Subject)
		return c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside RequireAuth
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalsUserID).(string)
	return id
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
