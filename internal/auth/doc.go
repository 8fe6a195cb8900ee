// Package auth issues and validates the access tokens that guard the
// write endpoints of the HTTP API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret and carry a role:
//
//	viewer    read telemetry, alerts, settings
//	operator  viewer + manual readings, acknowledge alerts
//	admin     operator + change and reset settings
//
// There is no user database. Tokens are minted out of band with
//
//	irrigationd token -subject greenhouse-panel -role operator
//
// and validated by signature and expiry only.
package auth
