package security

import (
	"net/http"
	"strconv"
	"strings"

	"ChatRelay/tools/errs"
	jwtsec "ChatRelay/tools/security"

	"github.com/gin-gonic/gin"
)

// CtxUserIDKey holds the int64 user id bound to the request.
const CtxUserIDKey = "relay.userID"

type Options struct {
	QueryID    string // default "id"
	QueryToken string // default "token"
	// EnableAuthorizationBearer also reads "Authorization: Bearer xxx".
	EnableAuthorizationBearer bool

	// RequireToken makes a valid JWT for the same user mandatory.
	RequireToken bool
	JWT          jwtsec.Options
}

func DefaultOptions() *Options {
	return &Options{
		QueryID:                   "id",
		QueryToken:                "token",
		EnableAuthorizationBearer: true,
	}
}

// Middleware binds the connecting user from ?id=. Without a valid positive
// integer the request is rejected before the upgrade.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.QueryID == "" {
		opts.QueryID = "id"
	}
	if opts.QueryToken == "" {
		opts.QueryToken = "token"
	}
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Query(opts.QueryID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				errs.ErrBadRequest.WithDetail("query parameter "+opts.QueryID+" must be a positive integer"))
			return
		}

		if opts.RequireToken {
			token := tokenFrom(c, opts)
			if token == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("missing token"))
				return
			}
			claims, err := jwtsec.Verify(opts.JWT, token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail(err.Error()))
				return
			}
			// a token is only good for the user it was issued to
			if uid, err := claims.UserID(); err != nil || uid != id {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("token user mismatch"))
				return
			}
		}

		c.Set(CtxUserIDKey, id)
		c.Next()
	}
}

func tokenFrom(c *gin.Context, opts *Options) string {
	if t := strings.TrimSpace(c.Query(opts.QueryToken)); t != "" {
		return t
	}
	if opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); len(authz) > len("bearer ") &&
			strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return ""
}

// UserID returns the user bound by Middleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
