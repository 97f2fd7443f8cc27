package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, typ string, ttl time.Duration) string {
	t.Helper()
	claims := &Claims{
		UserID:   42,
		Username: "rahim",
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newRouter(opt AuthOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(opt), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetUint64("userId"), "username": c.GetString("username")})
	})
	return r
}

func do(r http.Handler, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Local(t *testing.T) {
	r := newRouter(AuthOptions{Mode: AuthModeLocal, JWTSecret: "s3cret"})

	w := do(r, "/me", signToken(t, "s3cret", "access", time.Minute))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":42,"username":"rahim"}`, w.Body.String())

	// WebSocket 场景：token 放在 query 里
	w = do(r, "/me?token="+signToken(t, "s3cret", "access", time.Minute), "")
	assert.Equal(t, http.StatusOK, w.Code)

	cases := map[string]string{
		"missing":       "",
		"wrong secret":  signToken(t, "other", "access", time.Minute),
		"expired":       signToken(t, "s3cret", "access", -time.Minute),
		"refresh token": signToken(t, "s3cret", "refresh", time.Minute),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(r, "/me", token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "UNAUTHENTICATED")
		})
	}
}

func TestAuthMiddleware_Remote(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/verify" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"userId":7,"username":"karim","type":"access"}`))
	}))
	defer upstream.Close()

	r := newRouter(AuthOptions{Mode: AuthModeRemote, BaseURL: upstream.URL + "/"})

	w := do(r, "/me", "good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":7,"username":"karim"}`, w.Body.String())

	w = do(r, "/me", "bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}

func TestAuthMiddleware_RemoteUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	r := newRouter(AuthOptions{Mode: AuthModeRemote, BaseURL: upstream.URL})
	w := do(r, "/me", "any")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_UPSTREAM_ERROR")
}

func TestAuthMiddleware_None(t *testing.T) {
	r := newRouter(AuthOptions{Mode: AuthModeNone})
	w := do(r, "/me?username=dev", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":0,"username":"dev"}`, w.Body.String())
}
