package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAPIKeyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing", "k1", "", http.StatusUnauthorized},
		{"wrong", "k1", "nope", http.StatusForbidden},
		{"match", "k1", "k1", http.StatusOK},
		{"rotated second key", "k1, k2", "k2", http.StatusOK},
		{"whitespace only config", " , ", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", APIKeyMiddleware(tt.configured), func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set(headerName, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestParseKeys(t *testing.T) {
	keys := ParseKeys(" a ,b,,c ")
	if len(keys) != 3 || string(keys[0]) != "a" || string(keys[2]) != "c" {
		t.Errorf("ParseKeys = %q", keys)
	}
}
