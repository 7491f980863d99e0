package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newJWTApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected(JWTConfig{Secret: "secret", Issuer: "gema-auth", Leeway: time.Second}))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": c.Locals("user_id"), "role": c.Locals("user_role")})
	})
	return app
}

func TestJWTProtectedBindsSubjectAndRole(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub":  "42",
		"iss":  "gema-auth",
		"role": []interface{}{"Teacher"},
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := newJWTApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		ID   uint   `json:"id"`
		Role string `json:"role"`
	}
	require.NoError(t, jsonDecode(resp, &body))
	require.Equal(t, uint(42), body.ID)
	require.Equal(t, "teacher", body.Role)
}

func TestJWTProtectedAcceptsNumericUserIDClaim(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS512, []byte("secret"), jwt.MapClaims{
		"user_id": 7,
		"iss":     "gema-auth",
		"roles":   []interface{}{"", "Student"},
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp, err := newJWTApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		ID   uint   `json:"id"`
		Role string `json:"role"`
	}
	require.NoError(t, jsonDecode(resp, &body))
	require.Equal(t, uint(7), body.ID)
	require.Equal(t, "student", body.Role)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	expired := signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub": "42",
		"iss": "gema-auth",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "42", "iss": "gema-auth", "exp": exp})
	noSubject := signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"role": "admin", "iss": "gema-auth", "exp": exp})
	zeroSubject := signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": "0", "iss": "gema-auth", "exp": exp})
	noExpiry := signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": "42", "iss": "gema-auth"})
	wrongIssuer := signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": "42", "iss": "elsewhere", "exp": exp})

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"empty bearer": "Bearer ",
		"expired":      "Bearer " + expired,
		"wrong key":    "Bearer " + wrongKey,
		"no subject":   "Bearer " + noSubject,
		"zero subject": "Bearer " + zeroSubject,
		"no expiry":    "Bearer " + noExpiry,
		"wrong issuer": "Bearer " + wrongIssuer,
	} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := newJWTApp().Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, name)
	}
}

func jsonDecode(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
