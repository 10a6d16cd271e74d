package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

const (
	// OwnerHeader carries the chat user id the API call is scoped to.
	OwnerHeader = "X-User-ID"
	// ownerKey is the Gin context key under which the owner is stored.
	ownerKey = "userID"
)

// APIToken requires "Authorization: Bearer <token>" matching token. Owner
// trusts X-User-ID only behind it.
func APIToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing or invalid API token")
			return
		}
		c.Next()
	}
}

// Owner requires a positive numeric X-User-ID header and stores it in the
// context. Requests without one get 401.
func Owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(OwnerHeader))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing or invalid "+OwnerHeader)
			return
		}
		c.Set(ownerKey, domain.UserID(id))
		c.Next()
	}
}

// OwnerFrom returns the owner stored by Owner().
func OwnerFrom(c *gin.Context) (domain.UserID, bool) {
	v, ok := c.Get(ownerKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(domain.UserID)
	return id, ok
}
