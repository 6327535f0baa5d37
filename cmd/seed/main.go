package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/healthcare-booking/internal/auth"
	"github.com/hackgods/healthcare-booking/internal/catalog"
	"github.com/hackgods/healthcare-booking/internal/config"
	"github.com/hackgods/healthcare-booking/internal/db"
	"github.com/hackgods/healthcare-booking/internal/logging"
)

var specializations = []string{
	"General Medicine",
	"Cardiology",
	"Dermatology",
	"Pediatrics",
	"Orthopedics",
	"Neurology",
	"Gynecology",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type serviceSeed struct {
	name        string
	description string
	duration    int
	price       float64
}

var services = []serviceSeed{
	{"General Consultation", "Initial consultation with a general physician", 30, 500},
	{"Follow-up Visit", "Review of an ongoing treatment", 15, 300},
	{"Cardiac Checkup", "ECG and consultation with a cardiologist", 45, 1500},
	{"Skin Consultation", "Assessment of skin conditions", 30, 800},
	{"Child Health Visit", "Routine pediatric examination", 30, 700},
}

func main() {
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Populate the database with demo users and services",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			doctors, _ := cmd.Flags().GetInt("doctors")
			patients, _ := cmd.Flags().GetInt("patients")
			return run(cmd.Context(), doctors, patients)
		},
	}
	cmd.Flags().Int("doctors", 10, "Number of doctors to create")
	cmd.Flags().Int("patients", 100, "Number of patients to create")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, doctorCount, patientCount int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env, "seed")
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool).Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	gofakeit.Seed(time.Now().UnixNano())
	cat := catalog.NewCatalog(catalog.NewPgRepository(pool), logger)

	admin, err := createUser(ctx, cat, catalog.RoleAdmin)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	doctors := make([]*catalog.User, 0, doctorCount)
	for range doctorCount {
		doc, err := createUser(ctx, cat, catalog.RoleDoctor)
		if err != nil {
			return fmt.Errorf("seed doctor: %w", err)
		}
		doctors = append(doctors, doc)
	}
	logger.Info().Int("count", len(doctors)).Msg("doctors seeded")

	var firstPatient *catalog.User
	for i := range patientCount {
		p, err := createUser(ctx, cat, catalog.RolePatient)
		if err != nil {
			return fmt.Errorf("seed patient: %w", err)
		}
		if i == 0 {
			firstPatient = p
		}
		if (i+1)%50 == 0 {
			logger.Info().Int("done", i+1).Int("total", patientCount).Msg("seeding patients")
		}
	}
	logger.Info().Int("count", patientCount).Msg("patients seeded")

	if err := seedServices(ctx, cat, doctors, logger); err != nil {
		return err
	}

	return printTokens(cfg, admin, doctors, firstPatient)
}

// createUser retries on the rare fake email collision.
func createUser(ctx context.Context, cat *catalog.Catalog, role catalog.Role) (*catalog.User, error) {
	for attempt := 0; ; attempt++ {
		u := catalog.User{
			Name:  gofakeit.Name(),
			Email: gofakeit.Email(),
			Role:  role,
		}
		phone, address := gofakeit.Phone(), gofakeit.Street()+", "+gofakeit.City()
		u.PhoneNumber, u.Address = &phone, &address

		if role == catalog.RoleDoctor {
			spec := gofakeit.RandomString(specializations)
			duration := []int{15, 30, 45, 60}[gofakeit.Number(0, 3)]
			u.Specialization, u.Duration = &spec, &duration
		}

		created, err := cat.CreateUser(ctx, u)
		if errors.Is(err, catalog.ErrEmailTaken) && attempt < 5 {
			continue
		}
		return created, err
	}
}

func seedServices(ctx context.Context, cat *catalog.Catalog, doctors []*catalog.User, logger zerolog.Logger) error {
	for _, s := range services {
		created, err := cat.CreateService(ctx, catalog.NewServiceInput{
			Name:        s.name,
			Description: s.description,
			Duration:    s.duration,
			Price:       s.price,
		})
		if err != nil {
			return fmt.Errorf("seed service %q: %w", s.name, err)
		}

		if len(doctors) == 0 {
			continue
		}
		assigned := gofakeit.Number(1, min(3, len(doctors)))
		start := gofakeit.Number(0, len(doctors)-1)
		for i := range assigned {
			doc := doctors[(start+i)%len(doctors)]
			if _, err := cat.AssignDoctor(ctx, created.ID, doc.ID); err != nil {
				return fmt.Errorf("assign doctor to %q: %w", s.name, err)
			}
		}
	}
	logger.Info().Int("count", len(services)).Msg("services seeded")
	return nil
}

func printTokens(cfg config.Config, admin *catalog.User, doctors []*catalog.User, patient *catalog.User) error {
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, 7*24*time.Hour)

	show := func(label string, u *catalog.User) error {
		if u == nil {
			return nil
		}
		tok, err := tokens.Issue(auth.Actor{ID: u.ID, Role: u.Role})
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %s %s\n  %s\n", label, u.ID, u.Email, tok)
		return nil
	}

	if err := show("admin", admin); err != nil {
		return err
	}
	if len(doctors) > 0 {
		if err := show("doctor", doctors[0]); err != nil {
			return err
		}
	}
	return show("patient", patient)
}
