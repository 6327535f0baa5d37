package catalog

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Consultation lengths a doctor may offer, in minutes.
var allowedDurations = map[int]bool{15: true, 30: true, 45: true, 60: true}

const (
	DefaultWorkingHoursStart = "09:00"
	DefaultWorkingHoursEnd   = "17:00"
	DefaultDoctorDuration    = 30
	MinServiceDuration       = 15
)

type User struct {
	ID          uuid.UUID
	Name        string
	Email       string
	Role        Role
	PhoneNumber *string
	Address     *string

	// doctor only
	Specialization    *string
	IsAvailable       bool
	WorkingHoursStart string
	WorkingHoursEnd   string
	Duration          *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) IsDoctor() bool  { return u.Role == RoleDoctor }
func (u *User) IsPatient() bool { return u.Role == RolePatient }

type Service struct {
	ID          uuid.UUID
	Name        string
	Description string
	Duration    int
	Price       float64
	IsActive    bool
	DoctorIDs   []uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
