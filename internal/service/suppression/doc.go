// Package suppression owns the global unsubscribe list and the tokens
// embedded in unsubscribe links.
//
// It is the single source of truth for whether an address may receive a
// campaign. The delivery worker consults it once per batch, before any
// transport call, and the public unsubscribe endpoint redeems tokens
// through it.
//
// The service layer depends on the Repository interface defined in
// repository.go and never imports net/http or database/sql directly.
package suppression
