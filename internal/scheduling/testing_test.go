package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hackgods/dental-unit-scheduling/internal/events"
	redisclient "github.com/hackgods/dental-unit-scheduling/internal/redis"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	day   = "2026-03-02"
	slotA = "10:00-11:00"
	slotB = "11:00-12:00"
	slotC = "12:00-13:00"
	slotD = "13:00-14:00"
)

// openTestDB returns a private in-memory sqlite database. One connection
// keeps the database alive and serializes transactions the way row locks
// would.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	repo      *GormRepository
	sched     *Scheduler
	published *recordingPublisher

	patient  *Patient
	patient2 *Patient
	dentist  *Dentist
	dentist2 *Dentist
	unit     *TreatmentUnit
}

type fixtureOption func(*Options, *redisclient.Locker)

func withRequireDeclared() fixtureOption {
	return func(o *Options, _ *redisclient.Locker) { o.RequireDeclared = true }
}

func withLocker(l redisclient.Locker) fixtureOption {
	return func(_ *Options, dst *redisclient.Locker) { *dst = l }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	db := openTestDB(t)
	repo := NewGormRepository(db)

	o := Options{Now: func() time.Time { return testNow }}
	locker := redisclient.NewNoopLocker()
	for _, opt := range opts {
		opt(&o, &locker)
	}
	pub := &recordingPublisher{}

	f := &fixture{
		db:        db,
		repo:      repo,
		sched:     NewScheduler(repo, locker, pub, zerolog.Nop(), o),
		published: pub,
	}

	f.patient = &Patient{FirstName: "Ana", LastName: "Silva"}
	f.patient2 = &Patient{FirstName: "Ben", LastName: "Okafor"}
	for _, p := range []*Patient{f.patient, f.patient2} {
		if err := repo.CreatePatient(ctx, p); err != nil {
			t.Fatalf("create patient: %v", err)
		}
	}
	f.dentist = &Dentist{FirstName: "Dana", LastName: "Moreau", LicenseNumber: "LIC-1", Active: true}
	f.dentist2 = &Dentist{FirstName: "Eli", LastName: "Nakamura", LicenseNumber: "LIC-2", Active: true}
	for _, d := range []*Dentist{f.dentist, f.dentist2} {
		if err := repo.CreateDentist(ctx, d); err != nil {
			t.Fatalf("create dentist: %v", err)
		}
	}
	f.unit = &TreatmentUnit{Name: "Unit 1", Status: UnitActive}
	if err := repo.CreateUnit(ctx, f.unit); err != nil {
		t.Fatalf("create unit: %v", err)
	}
	return f
}

func (f *fixture) request(t *testing.T, patient *Patient, slot string) *AppointmentRequest {
	t.Helper()
	notes := "sensitive upper molar"
	req, err := f.sched.CreateRequest(context.Background(), CreateRequestInput{
		PatientID: patient.ID,
		Date:      day,
		Slot:      slot,
		Treatment: "Filling",
		Notes:     &notes,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func (f *fixture) assign(ctx context.Context, req *AppointmentRequest, dentist *Dentist, slot string) (*Appointment, error) {
	return f.sched.Assign(ctx, AssignInput{
		RequestID: req.ID,
		PatientID: req.PatientID,
		DentistID: dentist.ID,
		UnitID:    f.unit.ID,
		Date:      day,
		Slot:      slot,
	})
}

func (f *fixture) free(t *testing.T) []string {
	t.Helper()
	av, err := f.sched.ComputeAvailability(context.Background(), AvailabilityQuery{Date: day, UnitID: f.unit.ID})
	if err != nil {
		t.Fatalf("compute availability: %v", err)
	}
	return SlotStrings(av.Slots)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var errInjected = errors.New("injected store failure")

// faults lists the failures a faultyRepository injects. One value is
// shared by the wrapper and every transaction it opens.
type faults struct {
	// hideOccupancy makes the in-transaction occupancy check see an empty
	// unit, leaving the unique index as the only guard.
	hideOccupancy bool
	// failEvent makes InsertEvent fail for this event type.
	failEvent string
	// staleDeclarationReads is how many ListDeclarations calls return
	// nothing, as if a competing writer had not committed yet.
	staleDeclarationReads int
}

// faultyRepository wraps a store to force the paths a single sqlite
// connection never reaches on its own.
type faultyRepository struct {
	Repository
	*faults
}

func (r *faultyRepository) OccupiedSlots(ctx context.Context, unitID uuid.UUID, date Date) ([]SlotLabel, error) {
	if r.hideOccupancy {
		return nil, nil
	}
	return r.Repository.OccupiedSlots(ctx, unitID, date)
}

func (r *faultyRepository) ListDeclarations(ctx context.Context, unitID uuid.UUID, date Date) ([]DentistAvailability, error) {
	if r.staleDeclarationReads > 0 {
		r.staleDeclarationReads--
		return nil, nil
	}
	return r.Repository.ListDeclarations(ctx, unitID, date)
}

func (r *faultyRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	if r.failEvent != "" && ev.EventType == r.failEvent {
		return errInjected
	}
	return r.Repository.InsertEvent(ctx, ev)
}

func (r *faultyRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.Repository.InTx(ctx, func(tx Repository) error {
		return fn(&faultyRepository{Repository: tx, faults: r.faults})
	})
}

// schedulerOver builds a second scheduler sharing the fixture's clock and
// publisher but running on repo.
func (f *fixture) schedulerOver(repo Repository) *Scheduler {
	return NewScheduler(repo, redisclient.NewNoopLocker(), f.published, zerolog.Nop(), Options{
		Now: func() time.Time { return testNow },
	})
}
