package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrServiceNotFound = errors.New("service not found")
	ErrEmailTaken      = errors.New("email already registered")
)

// Repository contains all DB interactions needed by the catalog service.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	CreateUser(ctx context.Context, u User) (*User, error)
	ListDoctors(ctx context.Context) ([]User, error)

	GetService(ctx context.Context, id uuid.UUID) (*Service, error)
	ListActiveServices(ctx context.Context) ([]Service, error)
	CreateService(ctx context.Context, s Service) (*Service, error)
	DeactivateService(ctx context.Context, id uuid.UUID) (*Service, error)
	AssignDoctor(ctx context.Context, serviceID, doctorID uuid.UUID) error
}
