// Package api provides the REST client for the issue tracker server.
//
// Endpoints:
//   - GET    /health
//   - POST   /api/auth/register   (JSON)
//   - POST   /api/auth/login      (form: username, password)
//   - GET    /api/auth/me
//   - GET    /api/issues/         (status, severity, assigned_to filters)
//   - POST   /api/issues/         (multipart form, optional attachment)
//   - GET    /api/issues/{id}
//   - PUT    /api/issues/{id}
//   - DELETE /api/issues/{id}
//
// Dashboard statistics are computed client-side from the issue list.
package api
