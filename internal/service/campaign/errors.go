package campaign

import (
	"errors"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = domain.ErrNotFound
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrValidation        = errors.New("invalid campaign")
	ErrStillSending      = errors.New("campaign is active; pause or cancel it first")
)
