package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "attendance-test"
)

func TestIssueParse(t *testing.T) {
	tok, err := Issue("u1", "u1@example.com", RoleEmployee, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "u1@example.com" || claims.Role != RoleEmployee {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParse_Rejects(t *testing.T) {
	good, _ := Issue("u1", "", RoleAdmin, testIssuer, testKey, time.Hour)
	expired, _ := Issue("u1", "", RoleAdmin, testIssuer, testKey, -time.Minute)
	noSubject, _ := Issue("", "", RoleAdmin, testIssuer, testKey, time.Hour)

	tests := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{"wrong key", good.AccessToken, "other-key", testIssuer},
		{"wrong issuer", good.AccessToken, testKey, "someone-else"},
		{"expired", expired.AccessToken, testKey, testIssuer},
		{"no subject", noSubject.AccessToken, testKey, testIssuer},
		{"garbage", "not.a.jwt", testKey, testIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.token, tt.key, tt.issuer); err == nil {
				t.Error("Parse accepted the token")
			}
		})
	}
}

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authed := r.Group("/", Authenticate(testKey, testIssuer))
	authed.GET("/me", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	authed.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	admin, _ := Issue("boss", "", RoleAdmin, testIssuer, testKey, time.Hour)
	employee, _ := Issue("u1", "", RoleEmployee, testIssuer, testKey, time.Hour)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/me", "", http.StatusUnauthorized},
		{"not bearer", "/me", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/me", "Bearer nope", http.StatusUnauthorized},
		{"employee me", "/me", "Bearer " + employee.AccessToken, http.StatusOK},
		{"employee admin", "/admin", "Bearer " + employee.AccessToken, http.StatusForbidden},
		{"admin admin", "/admin", "bearer " + admin.AccessToken, http.StatusNoContent},
	}
	r := router()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
