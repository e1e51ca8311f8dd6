package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/dental-unit-scheduling/internal/config"
	"github.com/hackgods/dental-unit-scheduling/internal/db"
	"github.com/hackgods/dental-unit-scheduling/internal/events"
	"github.com/hackgods/dental-unit-scheduling/internal/logging"
	redisclient "github.com/hackgods/dental-unit-scheduling/internal/redis"
	"github.com/hackgods/dental-unit-scheduling/internal/scheduling"
)

var specialties = []string{
	"General Dentistry",
	"Orthodontics",
	"Endodontics",
	"Periodontics",
	"Prosthodontics",
	"Oral Surgery",
	"Pediatric Dentistry",
}

var treatments = []string{
	"Check-up",
	"Cleaning",
	"Filling",
	"Root canal",
	"Crown fitting",
	"Extraction",
	"Whitening",
	"Braces adjustment",
}

type counts struct {
	units    int
	dentists int
	patients int
	requests int
	days     int
}

func main() {
	var n counts
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the clinic database with fake units, dentists, patients and requests",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), n)
		},
	}
	cmd.Flags().IntVar(&n.units, "units", 4, "Treatment units to create")
	cmd.Flags().IntVar(&n.dentists, "dentists", 12, "Dentists to create")
	cmd.Flags().IntVar(&n.patients, "patients", 2000, "Patients to create")
	cmd.Flags().IntVar(&n.requests, "requests", 300, "Open appointment requests to create")
	cmd.Flags().IntVar(&n.days, "days", 14, "Spread requests over this many days from tomorrow")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, n counts) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return err
	}
	logger = logger.With().Str("service", "seed").Logger()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	s := &seeder{
		repo:  repo,
		sched: scheduling.NewScheduler(repo, redisclient.NewNoopLocker(), events.Noop(), logger, scheduling.Options{Location: cfg.Location()}),
		log:   logger,
		faker: gofakeit.New(uint64(time.Now().UnixNano())),
	}
	return s.seed(ctx, n)
}

func openRepository(ctx context.Context, cfg config.Config) (scheduling.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreSQLite {
		gdb, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := scheduling.AutoMigrate(gdb); err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return scheduling.NewGormRepository(gdb), closeFn, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return scheduling.NewPgRepository(pool), pool.Close, nil
}

type seeder struct {
	repo  scheduling.Repository
	sched *scheduling.Scheduler
	log   zerolog.Logger
	faker *gofakeit.Faker
}

func (s *seeder) seed(ctx context.Context, n counts) error {
	if err := s.seedUnits(ctx, n.units); err != nil {
		return fmt.Errorf("seed units: %w", err)
	}
	if err := s.seedDentists(ctx, n.dentists); err != nil {
		return fmt.Errorf("seed dentists: %w", err)
	}
	patients, err := s.seedPatients(ctx, n.patients)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	if err := s.seedRequests(ctx, patients, n.requests, n.days); err != nil {
		return fmt.Errorf("seed requests: %w", err)
	}

	s.log.Info().Msg("seed complete")
	return nil
}

func (s *seeder) seedUnits(ctx context.Context, count int) error {
	for i := 1; i <= count; i++ {
		if _, err := s.sched.CreateUnit(ctx, fmt.Sprintf("Unit %d", i)); err != nil {
			return err
		}
	}
	s.log.Info().Int("count", count).Msg("units seeded")
	return nil
}

func (s *seeder) seedDentists(ctx context.Context, count int) error {
	return s.repo.InTx(ctx, func(tx scheduling.Repository) error {
		for i := 0; i < count; i++ {
			specialty := specialties[s.faker.Number(0, len(specialties)-1)]
			d := &scheduling.Dentist{
				PreName:       "Dr.",
				FirstName:     s.faker.FirstName(),
				LastName:      s.faker.LastName(),
				LicenseNumber: fmt.Sprintf("DDS-%06d", s.faker.Number(0, 999999)),
				Specialty:     &specialty,
				Active:        true,
			}
			if err := tx.CreateDentist(ctx, d); err != nil {
				return err
			}
		}
		s.log.Info().Int("count", count).Msg("dentists seeded")
		return nil
	})
}

func (s *seeder) seedPatients(ctx context.Context, count int) ([]*scheduling.Patient, error) {
	const batchSize = 500

	patients := make([]*scheduling.Patient, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := s.repo.InTx(ctx, func(tx scheduling.Repository) error {
			for i := offset; i < end; i++ {
				phone, email := s.faker.Phone(), s.faker.Email()
				p := &scheduling.Patient{
					FirstName: s.faker.FirstName(),
					LastName:  s.faker.LastName(),
					Phone:     &phone,
					Email:     &email,
				}
				if err := tx.CreatePatient(ctx, p); err != nil {
					return err
				}
				patients = append(patients, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return patients, nil
}

func (s *seeder) seedRequests(ctx context.Context, patients []*scheduling.Patient, count, days int) error {
	if len(patients) == 0 || count == 0 {
		return nil
	}
	if days < 1 {
		days = 1
	}

	slots := s.sched.Grid().Labels()
	tomorrow := time.Now().AddDate(0, 0, 1)
	for i := 0; i < count; i++ {
		p := patients[s.faker.Number(0, len(patients)-1)]
		date := scheduling.DateOf(tomorrow.AddDate(0, 0, s.faker.Number(0, days-1)))

		var notes *string
		if s.faker.Bool() {
			n := s.faker.Sentence(8)
			notes = &n
		}

		_, err := s.sched.CreateRequest(ctx, scheduling.CreateRequestInput{
			PatientID: p.ID,
			Date:      date.String(),
			Slot:      slots[s.faker.Number(0, len(slots)-1)].String(),
			Treatment: treatments[s.faker.Number(0, len(treatments)-1)],
			Notes:     notes,
		})
		if err != nil {
			return err
		}
	}
	s.log.Info().Int("count", count).Msg("requests seeded")
	return nil
}
