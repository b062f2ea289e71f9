// Package auth produces per-request credential headers for outbound calls.
//
// A Manager is configured with one of several strategies (API key, bearer
// token, basic auth, self-issued JWT, OAuth2 access token, or a custom
// header function) and returns the headers to attach to each request.
// Short-lived JWTs are minted with github.com/golang-jwt/jwt/v5 and cached
// until they expire.
//
//	mgr, err := auth.NewManager(auth.Config{
//		Strategy:  auth.StrategyJWT,
//		JWTSecret: os.Getenv("FORENSICS_JWT_SECRET"),
//	})
//	headers, err := mgr.Headers()
package auth
