package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, erpID int64, roles []string) string {
	t.Helper()
	claims := &JWTClaims{
		UserID:        "u-1",
		Name:          "Meister",
		EmployeeErpID: erpID,
		Roles:         roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func identityRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/whoami", func(c *gin.Context) {
		if erpID, ok := c.Get(EmployeeErpIDKey); ok {
			c.JSON(http.StatusOK, gin.H{"erp_id": erpID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"erp_id": nil})
	})
	return r
}

func doGet(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOptionalJWTAuthWithoutToken(t *testing.T) {
	r := identityRouter(OptionalJWTAuth(testSecret))

	w := doGet(r, "/whoami", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected pass-through without token, got %d", w.Code)
	}
}

func TestOptionalJWTAuthAdoptsClaims(t *testing.T) {
	r := identityRouter(OptionalJWTAuth(testSecret))

	w := doGet(r, "/whoami", signToken(t, 42, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != `{"erp_id":42}` {
		t.Errorf("Expected erp id from claims, got %s", got)
	}
}

func TestOptionalJWTAuthRejectsBadToken(t *testing.T) {
	r := identityRouter(OptionalJWTAuth(testSecret))

	w := doGet(r, "/whoami", "kein-token")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for garbage token, got %d", w.Code)
	}
}

func TestOptionalJWTAuthOverridesHeaderIdentity(t *testing.T) {
	r := identityRouter(EmployeeIdentity(), OptionalJWTAuth(testSecret))

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("X-Employee-ERP-ID", "7")
	req.Header.Set("Authorization", "Bearer "+signToken(t, 42, nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Body.String(); got != `{"erp_id":42}` {
		t.Errorf("Token identity must beat the header, got %s", got)
	}
}

func TestJWTAuthRequiresToken(t *testing.T) {
	r := identityRouter(JWTAuth(testSecret))

	w := doGet(r, "/whoami", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := identityRouter(JWTAuth(testSecret), RequireRole("scheduler"))

	w := doGet(r, "/whoami", signToken(t, 1, []string{"viewer"}))
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for missing role, got %d", w.Code)
	}

	w = doGet(r, "/whoami", signToken(t, 1, []string{"scheduler"}))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 with role, got %d", w.Code)
	}

	// 管理员角色放行一切
	w = doGet(r, "/whoami", signToken(t, 1, []string{"pps_admin"}))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 with admin role, got %d", w.Code)
	}
}
