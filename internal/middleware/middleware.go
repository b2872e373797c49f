package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EmployeeErpIDKey 上下文中的员工ERP编号键
const EmployeeErpIDKey = "employee_erp_id"

// Logger 日志中间件
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user-agent", c.Request.UserAgent()),
			zap.Duration("latency", latency),
			zap.String("request_id", c.GetString("request_id")),
		}

		if erpID, exists := c.Get(EmployeeErpIDKey); exists {
			fields = append(fields, zap.Int64("employee_erp_id", erpID.(int64)))
		}

		if status >= 500 {
			logger.Error("Server error", fields...)
		} else if status >= 400 {
			logger.Warn("Client error", fields...)
		} else {
			logger.Info("Request", fields...)
		}
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID, X-Employee-ERP-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestID 请求ID中间件
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Request.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// EmployeeIdentity 解析 X-Employee-ERP-ID 请求头。缺失或非法时不报错，
// 仅不写入上下文，后续的可见性过滤会把私有待办全部排除。
func EmployeeIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-Employee-ERP-ID")
		if raw != "" {
			if erpID, err := strconv.ParseInt(raw, 10, 64); err == nil && erpID > 0 {
				c.Set(EmployeeErpIDKey, erpID)
			}
		}
		c.Next()
	}
}

// JWTClaims JWT claims
type JWTClaims struct {
	UserID        string   `json:"uid"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	EmployeeErpID int64    `json:"erp_id"`
	Roles         []string `json:"roles"`
	Permissions   []string `json:"perms"`
	jwt.RegisteredClaims
}

// extractToken 从 Authorization header 取Bearer token，
// 回退到 query param（SSE 等场景使用）
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return c.Query("token")
}

// applyClaims 校验token并把claims写入上下文，失败时返回401并中止
func applyClaims(c *gin.Context, secret, tokenString string) bool {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    40102,
			"message": "Invalid or expired token",
		})
		c.Abort()
		return false
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    40103,
			"message": "Invalid token claims",
		})
		c.Abort()
		return false
	}

	c.Set("user_id", claims.UserID)
	c.Set("user_name", claims.Name)
	c.Set("user_email", claims.Email)
	c.Set("roles", claims.Roles)
	c.Set("permissions", claims.Permissions)
	c.Set("claims", claims)
	// token 携带的 ERP 编号优先于请求头
	if claims.EmployeeErpID > 0 {
		c.Set(EmployeeErpIDKey, claims.EmployeeErpID)
	}
	return true
}

// JWTAuth JWT认证中间件，缺token直接401
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    40100,
				"message": "Authorization is required",
			})
			c.Abort()
			return
		}
		if applyClaims(c, secret, tokenString) {
			c.Next()
		}
	}
}

// OptionalJWTAuth 带token则校验并采纳claims身份，不带则放行。
// 用于只靠 X-Employee-ERP-ID 也能工作、但配置了JWT时
// token身份优先的部署形态。
func OptionalJWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.Next()
			return
		}
		if applyClaims(c, secret, tokenString) {
			c.Next()
		}
	}
}

// RequireRole 角色检查中间件
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, exists := c.Get("roles")
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    40310,
				"message": "No roles found",
			})
			c.Abort()
			return
		}

		userRoles, ok := roles.([]string)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    40311,
				"message": "Invalid roles format",
			})
			c.Abort()
			return
		}

		for _, r := range userRoles {
			if r == role || r == "pps_admin" {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"code":    40312,
			"message": "Role required: " + role,
		})
		c.Abort()
	}
}
