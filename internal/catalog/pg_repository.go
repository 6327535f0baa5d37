package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/healthcare-booking/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const userColumns = `id, name, email, role, phone_number, address, specialization,
	is_available, working_hours_start, working_hours_end, duration, created_at, updated_at`

const serviceColumns = `s.id, s.name, s.description, s.duration, s.price, s.is_active,
	COALESCE(array_agg(sd.doctor_id) FILTER (WHERE sd.doctor_id IS NOT NULL), '{}'),
	s.created_at, s.updated_at`

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.PhoneNumber,
		&u.Address,
		&u.Specialization,
		&u.IsAvailable,
		&u.WorkingHoursStart,
		&u.WorkingHoursEnd,
		&u.Duration,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Description,
		&s.Duration,
		&s.Price,
		&s.IsActive,
		&s.DoctorIDs,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Users

func (r *PgRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PgRepository) CreateUser(ctx context.Context, u User) (*User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, role, phone_number, address, specialization,
		                   is_available, working_hours_start, working_hours_end, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+userColumns,
		u.ID, u.Name, u.Email, u.Role, u.PhoneNumber, u.Address, u.Specialization,
		u.IsAvailable, u.WorkingHoursStart, u.WorkingHoursEnd, u.Duration,
	)

	created, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err, "users_email_key") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'doctor'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

// Services

func (r *PgRepository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services s
		LEFT JOIN service_doctors sd ON sd.service_id = s.id
		WHERE s.id = $1
		GROUP BY s.id
	`, id)
	return scanService(row)
}

func (r *PgRepository) ListActiveServices(ctx context.Context) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services s
		LEFT JOIN service_doctors sd ON sd.service_id = s.id
		WHERE s.is_active
		GROUP BY s.id
		ORDER BY s.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateService(ctx context.Context, s Service) (*Service, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, name, description, duration, price, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, s.ID, s.Name, s.Description, s.Duration, s.Price)
	if err != nil {
		return nil, fmt.Errorf("insert service: %w", err)
	}

	return r.GetService(ctx, s.ID)
}

func (r *PgRepository) DeactivateService(ctx context.Context, id uuid.UUID) (*Service, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET is_active = FALSE,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("deactivate service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrServiceNotFound
	}
	return r.GetService(ctx, id)
}

func (r *PgRepository) AssignDoctor(ctx context.Context, serviceID, doctorID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO service_doctors (service_id, doctor_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, serviceID, doctorID)
	if err != nil {
		return fmt.Errorf("assign doctor: %w", err)
	}
	return nil
}
