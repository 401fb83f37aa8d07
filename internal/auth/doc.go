// Package auth provides JWT authentication for parley.
//
// # Tokens
//
// Clients authenticate with HS256-signed JWTs carrying the owner id in the
// "sub" claim. Tokens are verified against the configured jwt_secret:
//
//	verifier := auth.NewJWTVerifier(secret)
//	ownerID, err := verifier.Verify(tokenString)
//
// # Middleware
//
// Middleware wraps echo routes and resolves the owner id from either an
// Authorization: Bearer header or, for websocket clients that cannot set
// headers, a ?token= query parameter. Handlers read the result with
// auth.OwnerID(c).
package auth
