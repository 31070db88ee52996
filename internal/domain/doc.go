// Package domain defines the core types of the campaign delivery engine.
//
// Types in this package are value objects plus the state machines that govern
// them. They carry no database, HTTP, or transport concerns and are the shared
// language between handlers, services, workers, and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed
//   - Status transitions are decided here and nowhere else
package domain
