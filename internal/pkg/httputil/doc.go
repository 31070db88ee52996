// Package httputil writes JSON responses for the admin API and the
// tracking edge, and maps service errors to status codes.
package httputil
