// Package model defines the tracker's resource types shared by the REST
// client, the session cache and the real-time event consumers.
//
// Conventions:
//   - IDs are uuid.UUID, serialized as canonical strings
//   - Timestamps accept RFC 3339 and the server's zone-less ISO form (UTC assumed)
//   - Enum values are the server's upper-case strings
package model
