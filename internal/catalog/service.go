package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotDoctor  = errors.New("user is not a doctor")
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

type Catalog struct {
	repo   Repository
	logger zerolog.Logger
}

func NewCatalog(repo Repository, logger zerolog.Logger) *Catalog {
	return &Catalog{
		repo:   repo,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

func (c *Catalog) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := c.repo.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (c *Catalog) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	svc, err := c.repo.GetService(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	return svc, nil
}

func (c *Catalog) ListDoctors(ctx context.Context) ([]User, error) {
	doctors, err := c.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// GetDoctor returns ErrUserNotFound when the id belongs to a non-doctor.
func (c *Catalog) GetDoctor(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := c.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsDoctor() {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (c *Catalog) ListActiveServices(ctx context.Context) ([]Service, error) {
	services, err := c.repo.ListActiveServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

type NewServiceInput struct {
	Name        string
	Description string
	Duration    int
	Price       float64
}

func (c *Catalog) CreateService(ctx context.Context, in NewServiceInput) (*Service, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)

	switch {
	case in.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	case in.Description == "":
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	case in.Duration < MinServiceDuration:
		return nil, fmt.Errorf("%w: duration must be at least %d minutes", ErrValidation, MinServiceDuration)
	case in.Price < 0:
		return nil, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}

	created, err := c.repo.CreateService(ctx, Service{
		Name:        in.Name,
		Description: in.Description,
		Duration:    in.Duration,
		Price:       in.Price,
		IsActive:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}

	c.logger.Info().Str("service_id", created.ID.String()).Str("name", created.Name).Msg("service created")
	return created, nil
}

// DeactivateService soft deletes; existing appointments keep their reference.
func (c *Catalog) DeactivateService(ctx context.Context, id uuid.UUID) (*Service, error) {
	svc, err := c.repo.DeactivateService(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("deactivate service: %w", err)
	}
	c.logger.Info().Str("service_id", id.String()).Msg("service deactivated")
	return svc, nil
}

func (c *Catalog) AssignDoctor(ctx context.Context, serviceID, doctorID uuid.UUID) (*Service, error) {
	if _, err := c.repo.GetService(ctx, serviceID); err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	doc, err := c.repo.GetUser(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doc.IsDoctor() {
		return nil, ErrNotDoctor
	}

	if err := c.repo.AssignDoctor(ctx, serviceID, doctorID); err != nil {
		return nil, err
	}

	return c.GetService(ctx, serviceID)
}

// CreateUser applies the role-specific rules and fills doctor defaults.
func (c *Catalog) CreateUser(ctx context.Context, u User) (*User, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	if u.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", ErrValidation, u.Email)
	}
	if u.Role == "" {
		u.Role = RolePatient
	}
	if !u.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, u.Role)
	}

	if u.IsDoctor() {
		if u.Specialization == nil || strings.TrimSpace(*u.Specialization) == "" {
			return nil, fmt.Errorf("%w: specialization is required for doctors", ErrValidation)
		}
		if u.Duration == nil {
			d := DefaultDoctorDuration
			u.Duration = &d
		}
		if !allowedDurations[*u.Duration] {
			return nil, fmt.Errorf("%w: duration must be one of 15, 30, 45, 60", ErrValidation)
		}
		if u.WorkingHoursStart == "" {
			u.WorkingHoursStart = DefaultWorkingHoursStart
		}
		if u.WorkingHoursEnd == "" {
			u.WorkingHoursEnd = DefaultWorkingHoursEnd
		}
		if !clockPattern.MatchString(u.WorkingHoursStart) || !clockPattern.MatchString(u.WorkingHoursEnd) {
			return nil, fmt.Errorf("%w: working hours must be HH:MM", ErrValidation)
		}
		u.IsAvailable = true
	} else {
		u.Specialization = nil
		u.Duration = nil
		u.WorkingHoursStart = DefaultWorkingHoursStart
		u.WorkingHoursEnd = DefaultWorkingHoursEnd
	}

	created, err := c.repo.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	return created, nil
}
