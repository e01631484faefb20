package repositories

import (
	"context"

	"github.com/silluthedon/delta/internal/models"
)

// UserRepository defines the data access contract for identity accounts.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}
