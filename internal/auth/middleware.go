// ABOUTME: Echo middleware resolving the authenticated owner id from a bearer token
// ABOUTME: Accepts Authorization headers and a token query parameter for websocket clients

package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ownerKey is the echo context key carrying the authenticated owner id.
const ownerKey = "owner_id"

// Middleware authenticates requests with the given verifier and stores the
// owner id on the request context. Browsers cannot set headers on websocket
// upgrades, so a ?token= query parameter is accepted as a fallback.
func Middleware(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				token = c.QueryParam("token")
			}
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}

			ownerID, err := verifier.Verify(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(ownerKey, ownerID)
			return next(c)
		}
	}
}

// OwnerID returns the authenticated owner id set by Middleware, or "" when
// the request was not authenticated.
func OwnerID(c echo.Context) string {
	ownerID, _ := c.Get(ownerKey).(string)
	return ownerID
}

// bearerToken extracts the token from an Authorization: Bearer header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
