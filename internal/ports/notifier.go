package ports

import (
	"context"

	"github.com/alejandrodnm/capmbot/internal/domain"
)

// Notifier presents the outcome of a session to the user.
type Notifier interface {
	Notify(ctx context.Context, summary domain.SessionSummary) error
}
