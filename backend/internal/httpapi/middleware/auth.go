package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AuthModeLocal  = "local"  // 本地用共享密钥校验 JWT
	AuthModeRemote = "remote" // 调 auth-service /v1/auth/verify
	AuthModeNone   = "none"   // 本地开发：不校验
)

type AuthOptions struct {
	Mode      string
	BaseURL   string // 不要带路径，例如 http://localhost:3001
	JWTSecret string
	Timeout   time.Duration
}

type verifyErrResp struct {
	Error string `json:"error"`
}

type VerifyClaims struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
	Type     string `json:"type"` // "access"
}

// Claims 与 auth-service 签发的 token 保持一致
type Claims struct {
	UserID   uint64 `json:"sub"`
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

var errAccessTokenRequired = errors.New("access token required")

func AuthMiddleware(opt AuthOptions) gin.HandlerFunc {
	if opt.Timeout <= 0 {
		opt.Timeout = 1200 * time.Millisecond
	}
	switch opt.Mode {
	case AuthModeNone:
		return func(c *gin.Context) {
			c.Set("userId", uint64(0))
			c.Set("username", strings.TrimSpace(c.Query("username")))
			c.Next()
		}
	case AuthModeLocal:
		secret := []byte(opt.JWTSecret)
		return func(c *gin.Context) {
			tokenString := tokenFromRequest(c)
			if tokenString == "" {
				abortUnauthenticated(c, "Authorization header is missing or invalid")
				return
			}
			claims, err := ParseToken(tokenString, secret)
			if err != nil {
				abortUnauthenticated(c, err.Error())
				return
			}
			c.Set("userId", claims.UserID)
			c.Set("username", claims.Username)
			c.Next()
		}
	default:
		return remoteAuth(opt)
	}
}

// ParseToken 校验签名 / 过期时间，并要求是 access token
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != "" && claims.Type != "access" {
		return nil, errAccessTokenRequired
	}
	return claims, nil
}

func remoteAuth(opt AuthOptions) gin.HandlerFunc {
	client := &http.Client{}
	// 统一拼接 verify URL（避免 double slash）
	verifyURL := strings.TrimRight(opt.BaseURL, "/") + "/v1/auth/verify"

	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			abortUnauthenticated(c, "Authorization header is missing or invalid")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), opt.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, verifyURL, bytes.NewReader([]byte("{}")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "build verify request failed"})
			return
		}
		req.Header.Set("Authorization", "Bearer "+tokenString)
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			// 这里包含超时：context deadline exceeded
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "auth-service verify failed",
			})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			var e verifyErrResp
			_ = json.NewDecoder(resp.Body).Decode(&e) // 尽力解析错误信息
			msg := e.Error
			if msg == "" {
				msg = "invalid token"
			}
			abortUnauthenticated(c, msg)
			return
		}
		if resp.StatusCode != http.StatusOK {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "auth-service verify non-200",
			})
			return
		}

		var claims VerifyClaims
		if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "invalid verify response",
			})
			return
		}
		if claims.Type != "" && claims.Type != "access" {
			abortUnauthenticated(c, errAccessTokenRequired.Error())
			return
		}

		c.Set("userId", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "UNAUTHENTICATED",
		"message": msg,
	})
}

// 浏览器的 WebSocket 无法自定义 Header，允许从 query ?token= 中获取
func tokenFromRequest(c *gin.Context) string {
	if t := extractBearer(c.Request.Header.Get("Authorization")); t != "" {
		return t
	}
	return strings.TrimSpace(c.Query("token"))
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}

	// 处理 "Bearer" 前缀（大小写不敏感）
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}

	return ""
}
