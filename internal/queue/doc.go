// Package queue is a typed client for the remote task queue API.
//
// The client is stateless: every call carries a bearer credential from a
// TokenSource and maps the response onto plain structs. Errors follow a
// small taxonomy that callers are expected to branch on:
//
//   - ErrUnauthorized: the backend rejected the credential (HTTP 401).
//     Fatal to the session; the engine signs out when it sees this.
//   - ErrNotFound: the entity does not exist (HTTP 404 on lookups).
//   - *APIError: any other non-2xx response, carrying status and body.
//   - anything else: transport-level failure, wrapped.
//
// Partial updates (UpdateDevice, UpdateWorkspace) send sparse field maps,
// never whole entities.
package queue
