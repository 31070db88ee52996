package suppression

import (
	"errors"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound     = domain.ErrNotFound
	ErrTokenExpired = errors.New("unsubscribe token expired")
	ErrEmptyEmail   = errors.New("email is required")
)
