// Package transport implements sending.Transport over SMTP, AWS SES v2,
// and the process log, and wraps them with a rate limiter and circuit
// breaker. Factory picks the implementation from configuration and admin
// settings on every call, rebuilding it only when the settings change.
package transport
