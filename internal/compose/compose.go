package compose

import (
	"context"

	"github.com/walletkit/sendflow/pkg/models"
)

// Composer builds candidate transactions for an account at requested fee
// rates. Results come back in the same order as the requested levels.
type Composer interface {
	// BuildAll composes one candidate per fee level.
	BuildAll(ctx context.Context, account models.Account, outputs []models.Output, levels []models.FeeLevel) ([]models.BuildResult, error)

	// BuildOne composes a single candidate at the given level's rate.
	BuildOne(ctx context.Context, account models.Account, outputs []models.Output, level models.FeeLevel) (models.BuildResult, error)

	// EstimateConfirmationMinutes estimates how long a transaction paying
	// the given rate waits for its first confirmation.
	EstimateConfirmationMinutes(satPerByte int64) int
}
