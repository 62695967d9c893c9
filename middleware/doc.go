// Package middleware provides the HTTP middleware used in front of journey endpoints and
// protected routes.
//
//   - [ClientIP] resolves the client address for cookie binding and audit events.
//   - [RequireCookie] admits requests carrying a valid persistent cookie and injects its
//     claims into the request context.
//
// The package translates HTTP into calls on the cookie manager and engine; it makes no
// authentication decisions of its own.
package middleware
