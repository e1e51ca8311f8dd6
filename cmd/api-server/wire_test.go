package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hackgods/dental-unit-scheduling/internal/config"
	"github.com/hackgods/dental-unit-scheduling/internal/events"
)

func TestClinicGrid(t *testing.T) {
	cfg := config.Config{ClinicOpen: "08:00", ClinicClose: "12:00", SlotMinutes: 30}
	grid, err := clinicGrid(cfg)
	if err != nil {
		t.Fatalf("clinicGrid: %v", err)
	}
	labels := grid.Labels()
	if len(labels) != 8 || labels[0].String() != "08:00-08:30" || labels[7].String() != "11:30-12:00" {
		t.Errorf("labels = %v", labels)
	}

	cfg.ClinicOpen = "8am"
	if _, err := clinicGrid(cfg); err == nil {
		t.Error("expected error for malformed CLINIC_OPEN")
	}
	cfg.ClinicOpen, cfg.SlotMinutes = "08:00", 45
	if _, err := clinicGrid(cfg); err == nil {
		t.Error("expected error when the day is not a multiple of the slot length")
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{StoreDriver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "clinic.db")}

	st, err := openStore(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.close()

	if _, err := st.migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, dep := range st.health {
		if err := dep.Ping(ctx); err != nil {
			t.Errorf("ping %s: %v", dep.Name, err)
		}
	}
	if _, err := st.repo.ListUnits(ctx, false); err != nil {
		t.Errorf("list units on fresh store: %v", err)
	}
}

func TestOpenPublisher(t *testing.T) {
	ctx := context.Background()
	base := config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "scheduler-events"}

	tests := []struct {
		sink  string
		check func(events.Publisher) bool
	}{
		{config.SinkLog, func(p events.Publisher) bool { _, ok := p.(*events.LogPublisher); return ok }},
		{config.SinkKafka, func(p events.Publisher) bool { _, ok := p.(*events.KafkaPublisher); return ok }},
		{config.SinkNone, func(p events.Publisher) bool { return p == events.Noop() }},
	}
	for _, tt := range tests {
		cfg := base
		cfg.EventsSink = tt.sink

		p, err := openPublisher(ctx, cfg, zerolog.Nop())
		if err != nil {
			t.Fatalf("%s: %v", tt.sink, err)
		}
		if !tt.check(p) {
			t.Errorf("%s: unexpected publisher %T", tt.sink, p)
		}
		_ = p.Close()
	}
}
