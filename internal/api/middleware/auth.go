package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/pkg/logger"
	"github.com/d60-Lab/casa-followups/pkg/response"
)

const (
	actorKey = "actor_id"
	roleKey  = "actor_role"

	// DevActorHeader 未配置 JWT secret 时用于指定操作者
	DevActorHeader = "X-Actor-ID"
)

// Claims 访问令牌载荷；sub 为用户 ID
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken 签发 HS256 令牌
func GenerateToken(secret, issuer, userID, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken 校验签名、过期时间和签发者
func ParseToken(secret, issuer, token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return &claims, nil
}

// Auth 认证中间件：从 Bearer 令牌取出当前操作人。
// secret 为空时（仅开发环境）改为信任 X-Actor-ID 头。
func Auth(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			actor := c.GetHeader(DevActorHeader)
			if actor == "" {
				response.Unauthorized(c, "missing "+DevActorHeader)
				return
			}
			c.Set(actorKey, actor)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || token == authHeader || token == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}
		claims, err := ParseToken(secret, issuer, token)
		if err != nil {
			logger.Debug("token rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
			response.Unauthorized(c, "invalid token")
			return
		}
		c.Set(actorKey, claims.Subject)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// ActorID 当前操作人；未经过 Auth 时为空
func ActorID(c *gin.Context) string { return c.GetString(actorKey) }

func ActorRole(c *gin.Context) string { return c.GetString(roleKey) }
