package ai

import (
	"errors"

	"github.com/kiranshivaraju/finscan/pkg/models"
)

var (
	ErrProviderUnavailable = models.ErrProviderUnavailable
	ErrInferenceTimeout    = models.ErrInferenceTimeout
	ErrInvalidResponse     = models.ErrInvalidResponse
)

// Retryable reports whether a failed completion may succeed if sent again.
// Timeouts are not retried: the caller's budget is already spent.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
