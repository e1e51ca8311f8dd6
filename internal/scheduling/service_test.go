package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisclient "github.com/hackgods/dental-unit-scheduling/internal/redis"
)

func TestConcurrentAssignSameSlot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	for name, locker := range map[string]redisclient.Locker{
		"noop":  redisclient.NewNoopLocker(),
		"redis": redisclient.NewRedisSlotLocker(client, 5*time.Second),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, withLocker(locker))
			reqs := []*AppointmentRequest{
				f.request(t, f.patient, slotA),
				f.request(t, f.patient2, slotA),
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for _, req := range reqs {
				wg.Add(1)
				go func(req *AppointmentRequest) {
					defer wg.Done()
					_, err := f.assign(context.Background(), req, f.dentist, slotA)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, ErrConflict):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(req)
			}
			wg.Wait()

			if successes != 1 || conflicts != 1 {
				t.Fatalf("successes=%d conflicts=%d, want 1 and 1", successes, conflicts)
			}

			appts, err := f.sched.ListAppointments(context.Background(), AppointmentFilter{UnitID: &f.unit.ID})
			if err != nil {
				t.Fatalf("list appointments: %v", err)
			}
			if len(appts) != 1 {
				t.Fatalf("got %d active appointments, want 1", len(appts))
			}
		})
	}
}

func TestAssignThenCancelRestoresAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, f.patient, slotB)

	if !contains(f.free(t), slotB) {
		t.Fatalf("slot %s should be free before assign", slotB)
	}

	appt, err := f.assign(ctx, req, f.dentist, slotB)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if contains(f.free(t), slotB) {
		t.Fatalf("slot %s still free after assign", slotB)
	}

	if _, err := f.sched.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !contains(f.free(t), slotB) {
		t.Fatalf("slot %s not free after cancel", slotB)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, f.patient, slotA)
	appt, err := f.assign(ctx, req, f.dentist, slotA)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	first, err := f.sched.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	second, err := f.sched.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if second.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", second.Status)
	}
	if first.CancelledAt == nil || second.CancelledAt == nil || !first.CancelledAt.Equal(*second.CancelledAt) {
		t.Fatalf("cancelled_at changed: %v -> %v", first.CancelledAt, second.CancelledAt)
	}

	var cancelEvents int64
	if err := f.db.Model(&eventLogRow{}).Where("event_type = ?", EventAppointmentCancelled).Count(&cancelEvents).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if cancelEvents != 1 {
		t.Fatalf("got %d cancel events, want 1", cancelEvents)
	}
}

func TestCancelDoneAppointmentFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.assign(ctx, f.request(t, f.patient, slotA), f.dentist, slotA)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := f.sched.Complete(ctx, appt.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.sched.Cancel(ctx, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestDeclareConflictsWithOtherDentist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day,
		Slots: []string{slotA, slotB, slotC},
	})
	if err != nil {
		t.Fatalf("first declare: %v", err)
	}
	if len(first.Saved) != 3 || len(first.Conflicts) != 0 {
		t.Fatalf("first declare saved=%v conflicts=%v", first.Saved, first.Conflicts)
	}

	second, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist2.ID, UnitID: f.unit.ID, Date: day,
		Slots: []string{slotB, slotD},
	})
	if err != nil {
		t.Fatalf("second declare: %v", err)
	}
	if got := SlotStrings(second.Conflicts); !equalStrings(got, []string{slotB}) {
		t.Fatalf("conflicts = %v, want [%s]", got, slotB)
	}
	if got := SlotStrings(second.Saved); !equalStrings(got, []string{slotD}) {
		t.Fatalf("saved = %v, want [%s]", got, slotD)
	}

	av, err := f.sched.ComputeAvailability(ctx, AvailabilityQuery{Date: day, UnitID: f.unit.ID, DentistID: &f.dentist.ID})
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	var owner uuid.UUID
	for _, d := range av.Declarations {
		if d.Slot.String() == slotB {
			owner = d.DentistID
		}
	}
	if owner != f.dentist.ID {
		t.Fatalf("slot %s owned by %s, want first dentist", slotB, owner)
	}
	if got := SlotStrings(av.Saved); !equalStrings(got, []string{slotA, slotB, slotC}) {
		t.Fatalf("saved for first dentist = %v", got)
	}
	if contains(SlotStrings(av.Slots), slotD) {
		t.Fatalf("slot %s held by second dentist should not be free for the first", slotD)
	}
}

func TestDeclareRetriesAfterUniqueIndexRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist2.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotB},
	}); err != nil {
		t.Fatalf("competing declare: %v", err)
	}

	// The first read misses the competing row, so the insert trips the
	// unique index and the retry sees committed state.
	stale := f.schedulerOver(&faultyRepository{Repository: f.repo, faults: &faults{staleDeclarationReads: 1}})
	res, err := stale.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day,
		Slots: []string{slotA, slotB, slotC},
	})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if got := SlotStrings(res.Saved); !equalStrings(got, []string{slotA, slotC}) {
		t.Fatalf("saved = %v, want [%s %s]", got, slotA, slotC)
	}
	if got := SlotStrings(res.Conflicts); !equalStrings(got, []string{slotB}) {
		t.Fatalf("conflicts = %v, want [%s]", got, slotB)
	}

	decls, err := f.repo.ListDeclarations(ctx, f.unit.ID, day)
	if err != nil {
		t.Fatalf("list declarations: %v", err)
	}
	if len(decls) != 3 {
		t.Fatalf("got %d declarations, want 3", len(decls))
	}
}

func TestDeclareRaceLostTwiceReportsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist2.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotB},
	}); err != nil {
		t.Fatalf("competing declare: %v", err)
	}
	before := len(f.published.types())

	stale := f.schedulerOver(&faultyRepository{Repository: f.repo, faults: &faults{staleDeclarationReads: 2}})
	_, err := stale.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day,
		Slots: []string{slotA, slotB},
	})
	if !errors.Is(err, ErrConflict) || !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("err = %v, want slot taken conflict", err)
	}
	if got := SlotStrings(ConflictSlots(err)); !equalStrings(got, []string{slotA, slotB}) {
		t.Fatalf("conflict slots = %v", got)
	}

	decls, err := f.repo.ListDeclarations(ctx, f.unit.ID, day)
	if err != nil {
		t.Fatalf("list declarations: %v", err)
	}
	if len(decls) != 1 || decls[0].DentistID != f.dentist2.ID {
		t.Fatalf("declarations = %+v, want only the competing row", decls)
	}
	if got := len(f.published.types()); got != before {
		t.Fatalf("published %d events after a failed declare, want %d", got, before)
	}
}

func TestDeclareAllTakenWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotA},
	}); err != nil {
		t.Fatalf("first declare: %v", err)
	}
	if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist2.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotC},
	}); err != nil {
		t.Fatalf("second dentist own slot: %v", err)
	}

	_, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist2.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotA},
	})
	if !errors.Is(err, ErrConflict) || !errors.Is(err, ErrAllSlotsTaken) {
		t.Fatalf("err = %v, want all slots taken conflict", err)
	}
	if got := SlotStrings(ConflictSlots(err)); !equalStrings(got, []string{slotA}) {
		t.Fatalf("conflict slots = %v", got)
	}

	decls, err := f.repo.ListDeclarations(ctx, f.unit.ID, day)
	if err != nil {
		t.Fatalf("list declarations: %v", err)
	}
	if len(decls) != 2 {
		t.Fatalf("got %d declarations, want 2 (rejected call must not clear slot %s)", len(decls), slotC)
	}
}

func TestDeclareReplacesOwnFreeSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, slots := range [][]string{{slotA, slotB}, {slotC}} {
		if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
			DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day, Slots: slots,
		}); err != nil {
			t.Fatalf("declare %v: %v", slots, err)
		}
	}

	decls, err := f.repo.ListDeclarations(ctx, f.unit.ID, day)
	if err != nil {
		t.Fatalf("list declarations: %v", err)
	}
	if len(decls) != 1 || decls[0].Slot.String() != slotC {
		t.Fatalf("declarations = %+v, want only %s", decls, slotC)
	}
}

func TestDeclareValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   DeclareInput
		want error
	}{
		{"empty slots", DeclareInput{DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day}, ErrValidation},
		{"off-grid slot", DeclareInput{DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day, Slots: []string{"09:00-10:00"}}, ErrValidation},
		{"bad date", DeclareInput{DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: "02/03/2026", Slots: []string{slotA}}, ErrValidation},
		{"unknown dentist", DeclareInput{DentistID: uuid.New(), UnitID: f.unit.ID, Date: day, Slots: []string{slotA}}, ErrNotFound},
		{"unknown unit", DeclareInput{DentistID: f.dentist.ID, UnitID: uuid.New(), Date: day, Slots: []string{slotA}}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.sched.DeclareAvailability(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAssignMarksRequestScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, f.patient, slotC)
	if req.Status != RequestNew {
		t.Fatalf("new request status = %s", req.Status)
	}

	appt, err := f.assign(ctx, req, f.dentist, slotC)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if appt.RequestID == nil || *appt.RequestID != req.ID {
		t.Fatalf("appointment request id = %v, want %s", appt.RequestID, req.ID)
	}
	if appt.Status != StatusScheduled || appt.Treatment != "Filling" {
		t.Fatalf("appointment = %+v", appt)
	}

	got, err := f.repo.GetRequestByID(ctx, *appt.RequestID)
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if got.Status != RequestScheduled {
		t.Fatalf("request status = %s, want SCHEDULED", got.Status)
	}

	if _, err := f.assign(ctx, req, f.dentist, slotD); !errors.Is(err, ErrRequestNotAssignable) {
		t.Fatalf("second assign err = %v, want ErrRequestNotAssignable", err)
	}
}

func TestAssignRollsBackOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist2.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotA},
	}); err != nil {
		t.Fatalf("declare: %v", err)
	}

	req := f.request(t, f.patient, slotA)
	_, err := f.assign(ctx, req, f.dentist, slotA)
	if !errors.Is(err, ErrSlotHeldByOther) {
		t.Fatalf("err = %v, want ErrSlotHeldByOther", err)
	}

	got, err := f.repo.GetRequestByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if got.Status != RequestNew {
		t.Fatalf("request status = %s after failed assign, want NEW", got.Status)
	}
	appts, err := f.repo.ListAppointments(ctx, AppointmentFilter{IncludeCancelled: true})
	if err != nil {
		t.Fatalf("list appointments: %v", err)
	}
	if len(appts) != 0 {
		t.Fatalf("got %d appointments after failed assign", len(appts))
	}
}

func TestAssignUniqueIndexBackstop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.request(t, f.patient, slotA)
	if _, err := f.assign(ctx, first, f.dentist, slotA); err != nil {
		t.Fatalf("first assign: %v", err)
	}

	blind := f.schedulerOver(&faultyRepository{Repository: f.repo, faults: &faults{hideOccupancy: true}})
	second := f.request(t, f.patient2, slotA)
	_, err := blind.Assign(ctx, AssignInput{
		RequestID: second.ID,
		PatientID: f.patient2.ID,
		DentistID: f.dentist2.ID,
		UnitID:    f.unit.ID,
		Date:      day,
		Slot:      slotA,
	})
	if !errors.Is(err, ErrSlotTaken) || !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}
	if got := SlotStrings(ConflictSlots(err)); !equalStrings(got, []string{slotA}) {
		t.Fatalf("conflict slots = %v, want [%s]", got, slotA)
	}

	got, err := f.repo.GetRequestByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if got.Status != RequestNew {
		t.Fatalf("losing request status = %s, want NEW", got.Status)
	}
	appts, err := f.repo.ListAppointments(ctx, AppointmentFilter{})
	if err != nil {
		t.Fatalf("list appointments: %v", err)
	}
	if len(appts) != 1 || appts[0].RequestID == nil || *appts[0].RequestID != first.ID {
		t.Fatalf("appointments = %+v, want only the first booking", appts)
	}
}

func TestAssignRollsBackAfterWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotA},
	}); err != nil {
		t.Fatalf("declare: %v", err)
	}
	published := len(f.published.types())

	// The event row is the last write of an assignment, so its failure
	// must undo the appointment, the request status and the declaration.
	failing := f.schedulerOver(&faultyRepository{Repository: f.repo, faults: &faults{failEvent: EventAppointmentAssigned}})
	req := f.request(t, f.patient, slotA)
	published++

	if _, err := failing.Assign(ctx, AssignInput{
		RequestID: req.ID,
		PatientID: f.patient.ID,
		DentistID: f.dentist.ID,
		UnitID:    f.unit.ID,
		Date:      day,
		Slot:      slotA,
	}); !errors.Is(err, errInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}

	appts, err := f.repo.ListAppointments(ctx, AppointmentFilter{IncludeCancelled: true})
	if err != nil {
		t.Fatalf("list appointments: %v", err)
	}
	if len(appts) != 0 {
		t.Fatalf("got %d appointments after rollback", len(appts))
	}
	got, err := f.repo.GetRequestByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if got.Status != RequestNew {
		t.Fatalf("request status = %s after rollback, want NEW", got.Status)
	}
	decls, err := f.repo.ListDeclarations(ctx, f.unit.ID, day)
	if err != nil {
		t.Fatalf("list declarations: %v", err)
	}
	if len(decls) != 1 || decls[0].Status != AvailabilityFree {
		t.Fatalf("declarations = %+v, want one FREE row", decls)
	}
	if n := len(f.published.types()); n != published {
		t.Fatalf("published %d events, want %d", n, published)
	}
	if !contains(f.free(t), slotA) {
		t.Fatalf("%s not free after rollback", slotA)
	}
}

func TestAssignValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := &Dentist{FirstName: "Ira", LastName: "Vance", LicenseNumber: "LIC-3", Active: false}
	if err := f.repo.CreateDentist(ctx, inactive); err != nil {
		t.Fatalf("create dentist: %v", err)
	}
	stored, err := f.repo.GetDentistByID(ctx, inactive.ID)
	if err != nil {
		t.Fatalf("load dentist: %v", err)
	}
	if inactive.Active || stored.Active {
		t.Fatalf("inactive dentist saved as active (returned %v, stored %v)", inactive.Active, stored.Active)
	}

	cases := []struct {
		name   string
		mutate func(*AssignInput)
		want   error
	}{
		{"missing request", func(in *AssignInput) { in.RequestID = uuid.Nil }, ErrValidation},
		{"slot off grid", func(in *AssignInput) { in.Slot = "19:00-20:00" }, ErrValidation},
		{"unknown request", func(in *AssignInput) { in.RequestID = uuid.New() }, ErrRequestNotFound},
		{"patient mismatch", func(in *AssignInput) { in.PatientID = f.patient2.ID }, ErrValidation},
		{"inactive dentist", func(in *AssignInput) { in.DentistID = inactive.ID }, ErrDentistInactive},
		{"unknown unit", func(in *AssignInput) { in.UnitID = uuid.New() }, ErrUnitNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.request(t, f.patient, slotA)
			in := AssignInput{
				RequestID: req.ID,
				PatientID: f.patient.ID,
				DentistID: f.dentist.ID,
				UnitID:    f.unit.ID,
				Date:      day,
				Slot:      slotA,
			}
			tc.mutate(&in)
			if _, err := f.sched.Assign(ctx, in); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAssignBooksOwnDeclaration(t *testing.T) {
	f := newFixture(t, withRequireDeclared())
	ctx := context.Background()
	req := f.request(t, f.patient, slotA)

	if _, err := f.assign(ctx, req, f.dentist, slotA); !errors.Is(err, ErrSlotNotDeclared) {
		t.Fatalf("undeclared assign err = %v, want ErrSlotNotDeclared", err)
	}
	if got := f.free(t); len(got) != 0 {
		t.Fatalf("free slots without declarations = %v, want none", got)
	}

	if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotA, slotB},
	}); err != nil {
		t.Fatalf("declare: %v", err)
	}
	if got := f.free(t); !equalStrings(got, []string{slotA, slotB}) {
		t.Fatalf("free = %v", got)
	}

	appt, err := f.assign(ctx, req, f.dentist, slotA)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	decls, err := f.repo.ListDeclarations(ctx, f.unit.ID, day)
	if err != nil {
		t.Fatalf("list declarations: %v", err)
	}
	statuses := map[string]AvailabilityStatus{}
	for _, d := range decls {
		statuses[d.Slot.String()] = d.Status
	}
	if statuses[slotA] != AvailabilityBooked || statuses[slotB] != AvailabilityFree {
		t.Fatalf("declaration statuses = %v", statuses)
	}

	// Re-declaring keeps the booked row and reports it as taken.
	res, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist.ID, UnitID: f.unit.ID, Date: day, Slots: []string{slotA, slotC},
	})
	if err != nil {
		t.Fatalf("re-declare: %v", err)
	}
	if got := SlotStrings(res.Conflicts); !equalStrings(got, []string{slotA}) {
		t.Fatalf("re-declare conflicts = %v", got)
	}

	if _, err := f.sched.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.free(t); !equalStrings(got, []string{slotA, slotC}) {
		t.Fatalf("free after cancel = %v", got)
	}
}

func TestRescheduleRequeuesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, f.patient, slotA)
	appt, err := f.assign(ctx, req, f.dentist, slotA)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	newReq, err := f.sched.Reschedule(ctx, RescheduleInput{
		AppointmentID: appt.ID,
		Date:          "2026-03-04",
		Slot:          slotD,
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	old, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("load old appointment: %v", err)
	}
	if old.Status != StatusCancelled {
		t.Fatalf("old appointment status = %s", old.Status)
	}

	if newReq.Status != RequestNew || newReq.Treatment != "Filling" {
		t.Fatalf("new request = %+v", newReq)
	}
	if newReq.Notes == nil || *newReq.Notes != "sensitive upper molar" {
		t.Fatalf("notes not carried over: %v", newReq.Notes)
	}
	if newReq.RescheduledFrom == nil || *newReq.RescheduledFrom != appt.ID {
		t.Fatalf("rescheduled from = %v", newReq.RescheduledFrom)
	}

	pending, err := f.sched.ListRequests(ctx, RequestFilter{Status: RequestNew, PatientID: &f.patient.ID})
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != newReq.ID {
		t.Fatalf("pending requests = %+v, want exactly the rescheduled one", pending)
	}

	if !contains(f.free(t), slotA) {
		t.Fatalf("old slot %s still occupied", slotA)
	}

	if _, err := f.sched.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, Date: "2026-03-05", Slot: slotA}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reschedule of cancelled appointment err = %v", err)
	}
}

func TestRescheduleOverridesNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.assign(ctx, f.request(t, f.patient, slotA), f.dentist, slotA)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	notes := "prefers mornings"
	req, err := f.sched.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, Date: day, Slot: slotB, Notes: &notes})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if req.Notes == nil || *req.Notes != notes {
		t.Fatalf("notes = %v, want %q", req.Notes, notes)
	}
}

func TestRescheduleRejectsPastDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.assign(ctx, f.request(t, f.patient, slotA), f.dentist, slotA)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := f.sched.Reschedule(ctx, RescheduleInput{AppointmentID: appt.ID, Date: "2026-02-27", Slot: slotB}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	got, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("load appointment: %v", err)
	}
	if got.Status != StatusScheduled {
		t.Fatalf("appointment status = %s, want untouched", got.Status)
	}
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.assign(ctx, f.request(t, f.patient, slotA), f.dentist, slotA)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	steps := []struct {
		do   func(context.Context, uuid.UUID) (*Appointment, error)
		want AppointmentStatus
	}{
		{f.sched.Confirm, StatusConfirmed},
		{f.sched.Start, StatusInProgress},
		{f.sched.Complete, StatusDone},
	}
	for _, st := range steps {
		got, err := st.do(ctx, appt.ID)
		if err != nil {
			t.Fatalf("transition to %s: %v", st.want, err)
		}
		if got.Status != st.want {
			t.Fatalf("status = %s, want %s", got.Status, st.want)
		}
	}

	if _, err := f.sched.Confirm(ctx, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirm after done err = %v", err)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateRequestInput
		want error
	}{
		{"past date", CreateRequestInput{PatientID: f.patient.ID, Date: "2026-02-28", Slot: slotA, Treatment: "Cleaning"}, ErrValidation},
		{"no treatment", CreateRequestInput{PatientID: f.patient.ID, Date: day, Slot: slotA, Treatment: "  "}, ErrValidation},
		{"off-grid slot", CreateRequestInput{PatientID: f.patient.ID, Date: day, Slot: "10:30-11:30", Treatment: "Cleaning"}, ErrValidation},
		{"unknown patient", CreateRequestInput{PatientID: uuid.New(), Date: day, Slot: slotA, Treatment: "Cleaning"}, ErrPatientNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.sched.CreateRequest(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}

	// Today is bookable.
	if _, err := f.sched.CreateRequest(ctx, CreateRequestInput{PatientID: f.patient.ID, Date: "2026-03-01", Slot: slotA, Treatment: "Cleaning"}); err != nil {
		t.Fatalf("request for today: %v", err)
	}
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, f.patient, slotA)

	got, err := f.sched.CancelRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("cancel request: %v", err)
	}
	if got.Status != RequestCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if _, err := f.sched.CancelRequest(ctx, req.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if _, err := f.assign(ctx, req, f.dentist, slotA); !errors.Is(err, ErrRequestNotAssignable) {
		t.Fatalf("assign cancelled request err = %v", err)
	}
}

func TestUnitManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.sched.CreateUnit(ctx, "  Unit 2 ")
	if err != nil {
		t.Fatalf("create unit: %v", err)
	}
	if u.Name != "Unit 2" || u.Status != UnitActive {
		t.Fatalf("unit = %+v", u)
	}

	if u, err = f.sched.RenameUnit(ctx, u.ID, "Surgery"); err != nil || u.Name != "Surgery" {
		t.Fatalf("rename: %+v, %v", u, err)
	}
	if _, err := f.sched.SetUnitStatus(ctx, u.ID, "BROKEN"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad status err = %v", err)
	}
	if u, err = f.sched.SetUnitStatus(ctx, u.ID, UnitInactive); err != nil || u.Status != UnitInactive {
		t.Fatalf("deactivate: %+v, %v", u, err)
	}

	active, err := f.sched.ListUnits(ctx, true)
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(active) != 1 || active[0].ID != f.unit.ID {
		t.Fatalf("active units = %+v", active)
	}

	if _, err := f.sched.DeclareAvailability(ctx, DeclareInput{
		DentistID: f.dentist.ID, UnitID: u.ID, Date: day, Slots: []string{slotA},
	}); !errors.Is(err, ErrUnitInactive) {
		t.Fatalf("declare on inactive unit err = %v", err)
	}

	if err := f.sched.DeleteUnit(ctx, u.ID); err != nil {
		t.Fatalf("delete unused unit: %v", err)
	}
	if _, err := f.repo.GetUnitByID(ctx, u.ID); !errors.Is(err, ErrUnitNotFound) {
		t.Fatalf("deleted unit lookup err = %v", err)
	}

	if _, err := f.assign(ctx, f.request(t, f.patient, slotA), f.dentist, slotA); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.sched.DeleteUnit(ctx, f.unit.ID); !errors.Is(err, ErrUnitInUse) {
		t.Fatalf("delete used unit err = %v", err)
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.published.err = errors.New("sink down")

	appt, err := f.assign(ctx, f.request(t, f.patient, slotA), f.dentist, slotA)
	if err != nil {
		t.Fatalf("assign must not fail on sink error: %v", err)
	}
	if _, err := f.sched.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	want := []string{EventRequestCreated, EventAppointmentAssigned, EventAppointmentCancelled}
	if got := f.published.types(); !equalStrings(got, want) {
		t.Fatalf("published = %v, want %v", got, want)
	}

	var logged int64
	if err := f.db.Model(&eventLogRow{}).Count(&logged).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if logged != int64(len(want)) {
		t.Fatalf("event_logs rows = %d, want %d", logged, len(want))
	}
}

func TestFailedAssignPublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, f.patient, slotA)
	other := f.request(t, f.patient2, slotA)
	if _, err := f.assign(ctx, req, f.dentist, slotA); err != nil {
		t.Fatalf("assign: %v", err)
	}
	before := len(f.published.types())

	_, err := f.assign(ctx, other, f.dentist2, slotA)
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}
	if got := SlotStrings(ConflictSlots(err)); !equalStrings(got, []string{slotA}) {
		t.Fatalf("conflict slots = %v", got)
	}
	if after := len(f.published.types()); after != before {
		t.Fatalf("published %d events for a failed assign", after-before)
	}
}
