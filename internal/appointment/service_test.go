package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/slotgrid"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return n.err
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, len(n.notes))
	for i, note := range n.notes {
		out[i] = note.Kind
	}
	return out
}

type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes []string
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.deletes = append(c.deletes, k)
	}
	return nil
}

// Thursday morning, before the clinic opens.
var testNow = time.Date(2025, 1, 9, 8, 0, 0, 0, time.UTC)

const (
	friday   = "2025-01-10"
	saturday = "2025-01-11"
	monday   = "2025-01-13"
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	clock    *testClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T, capacity int, opts ...Option) *fixture {
	t.Helper()

	grid, err := slotgrid.NewGrid(slotgrid.DefaultPolicy())
	require.NoError(t, err)

	f := &fixture{
		repo:     NewMemoryRepository(),
		clock:    &testClock{t: testNow},
		notifier: &recordingNotifier{},
	}
	cfg := config.Config{MaxSlotsPerTime: capacity, BookingHorizonDays: 30, NotifyTimeout: time.Second}

	all := append([]Option{
		WithClock(f.clock.Now, time.UTC),
		WithNotifier(f.notifier),
	}, opts...)
	f.svc = NewService(f.repo, grid, cfg, all...)
	t.Cleanup(f.svc.WaitNotifications)
	return f
}

func bookingReq(patient, date, label string) CreateBookingRequest {
	return CreateBookingRequest{
		PatientID:      patient,
		PatientEmail:   patient + "@example.com",
		ChiefComplaint: "toothache",
		Date:           date,
		Time:           label,
	}
}

func (f *fixture) book(t *testing.T, patient, date, label string) *Appointment {
	t.Helper()
	appt, err := f.svc.CreateBooking(context.Background(), bookingReq(patient, date, label))
	require.NoError(t, err)
	return appt
}

func bookedCount(t *testing.T, svc *Service, date, label string) int {
	t.Helper()
	slots, err := svc.GetAvailability(context.Background(), date)
	require.NoError(t, err)
	for _, s := range slots {
		if s.Label == label {
			return s.BookedCount
		}
	}
	t.Fatalf("label %q not in availability", label)
	return 0
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t, 5)

	appt := f.book(t, "P-1", friday, "10:00 AM")

	assert.True(t, strings.HasPrefix(appt.BookingID, PrefixBooking))
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC), appt.StartsAt)
	assert.Nil(t, appt.DoctorID)

	stored, err := f.svc.GetAppointment(context.Background(), appt.BookingID)
	require.NoError(t, err)
	assert.Equal(t, appt.BookingID, stored.BookingID)
	assert.Equal(t, 1, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "10:00 AM"}))

	f.svc.WaitNotifications()
	assert.Equal(t, []NotificationKind{NotifyBooked}, f.notifier.kinds())

	events := f.repo.Events(appt.BookingID)
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
}

func TestCreateBookingNormalizesLabel(t *testing.T) {
	f := newFixture(t, 5)

	appt := f.book(t, "P-1", friday, " 09:00 am")
	assert.Equal(t, "9:00 AM", appt.AppointmentTime)
	assert.Equal(t, 1, bookedCount(t, f.svc, friday, "9:00 AM"))
}

func TestCreateBookingInvalidSlot(t *testing.T) {
	tests := []struct {
		name  string
		date  string
		label string
	}{
		{name: "inside snack break", date: friday, label: "11:00 AM"},
		{name: "inside lunch", date: friday, label: "1:00 PM"},
		{name: "before opening", date: friday, label: "8:30 AM"},
		{name: "at closing", date: friday, label: "5:00 PM"},
		{name: "misaligned", date: friday, label: "9:15 AM"},
		{name: "garbage label", date: friday, label: "soon"},
		{name: "weekend", date: saturday, label: "10:00 AM"},
		{name: "past date", date: "2025-01-08", label: "10:00 AM"},
		{name: "beyond horizon", date: "2025-03-03", label: "10:00 AM"},
		{name: "bad date", date: "10/01/2025", label: "10:00 AM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			_, err := f.svc.CreateBooking(context.Background(), bookingReq("P-1", tt.date, tt.label))
			assert.ErrorIs(t, err, ErrInvalidSlot)
		})
	}
}

func TestCreateBookingSlotAlreadyStarted(t *testing.T) {
	f := newFixture(t, 5)
	f.clock.Set(time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC))

	_, err := f.svc.CreateBooking(context.Background(), bookingReq("P-1", friday, "10:00 AM"))
	assert.ErrorIs(t, err, ErrInvalidSlot)

	_, err = f.svc.CreateBooking(context.Background(), bookingReq("P-1", friday, "10:30 AM"))
	assert.NoError(t, err)
}

func TestCreateBookingMissingFields(t *testing.T) {
	f := newFixture(t, 5)

	req := bookingReq("P-1", friday, "10:00 AM")
	req.ChiefComplaint = "  "
	_, err := f.svc.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// Every label the grid emits must be bookable for a working day.
func TestEveryGeneratedLabelIsBookable(t *testing.T) {
	f := newFixture(t, 5)

	for _, slot := range f.svc.Slots() {
		appt, err := f.svc.CreateBooking(context.Background(), bookingReq("P-1", monday, slot.Label))
		require.NoError(t, err, slot.Label)
		assert.Equal(t, slot.Label, appt.AppointmentTime)
	}
}

func TestConcurrentBookingsNeverExceedCapacity(t *testing.T) {
	const (
		capacity = 5
		callers  = 20
	)
	f := newFixture(t, capacity)

	var (
		wg          sync.WaitGroup
		successes   atomic.Int32
		unavailable atomic.Int32
		start       = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.svc.CreateBooking(context.Background(), bookingReq(fmt.Sprintf("P-%d", i), friday, "10:00 AM"))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrSlotUnavailable):
				unavailable.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(capacity), successes.Load())
	assert.Equal(t, int32(callers-capacity), unavailable.Load())
	assert.Equal(t, capacity, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "10:00 AM"}))

	slots, err := f.svc.GetAvailability(context.Background(), friday)
	require.NoError(t, err)
	for _, s := range slots {
		if s.Label == "10:00 AM" {
			assert.Equal(t, capacity, s.BookedCount)
			assert.False(t, s.IsAvailable)
		} else {
			assert.Zero(t, s.BookedCount)
			assert.True(t, s.IsAvailable)
		}
	}
}

func TestSingleSeatScenario(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	first := f.book(t, "P-1", friday, "10:00 AM")
	require.NotEmpty(t, first.BookingID)

	_, err := f.svc.CreateBooking(ctx, bookingReq("P-2", friday, "10:00 AM"))
	require.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.svc.CancelAppointment(ctx, first.BookingID, CancelRequest{RequesterID: "P-1"})
	require.NoError(t, err)

	third, err := f.svc.CreateBooking(ctx, bookingReq("P-3", friday, "10:00 AM"))
	require.NoError(t, err)
	assert.NotEqual(t, first.BookingID, third.BookingID)
}

func TestBookingIDCollisionIsRetried(t *testing.T) {
	var calls atomic.Int32
	gen := func(prefix string, _ time.Time) string {
		n := calls.Add(1)
		if n <= 2 {
			return prefix + "FIXED"
		}
		return fmt.Sprintf("%sUNIQUE%d", prefix, n)
	}
	f := newFixture(t, 5, WithIDGenerator(gen))

	first := f.book(t, "P-1", friday, "10:00 AM")
	assert.Equal(t, "BKFIXED", first.BookingID)

	second := f.book(t, "P-2", friday, "10:00 AM")
	assert.Equal(t, "BKUNIQUE3", second.BookingID)
	assert.Equal(t, 2, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "10:00 AM"}))
}

func TestBookingIDCollisionGivesUp(t *testing.T) {
	f := newFixture(t, 5, WithIDGenerator(func(prefix string, _ time.Time) string { return prefix + "SAME" }))

	f.book(t, "P-1", friday, "10:00 AM")
	_, err := f.svc.CreateBooking(context.Background(), bookingReq("P-2", friday, "10:00 AM"))
	require.ErrorIs(t, err, ErrStorageUnavailable)

	// the failed attempt must not keep its seat
	assert.Equal(t, 1, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "10:00 AM"}))
}

func TestConfirmAppointment(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	appt := f.book(t, "P-1", friday, "10:00 AM")

	confirmed, err := f.svc.ConfirmAppointment(ctx, appt.BookingID, "D-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.DoctorID)
	require.NotNil(t, confirmed.ApprovedDoctorID)
	assert.Equal(t, "D-1", *confirmed.DoctorID)
	assert.Equal(t, "D-1", *confirmed.ApprovedDoctorID)

	_, err = f.svc.ConfirmAppointment(ctx, appt.BookingID, "D-2")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// still one seat: confirmation does not change the count
	assert.Equal(t, 1, bookedCount(t, f.svc, friday, "10:00 AM"))

	_, err = f.svc.ConfirmAppointment(ctx, "BK-missing", "D-1")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = f.svc.ConfirmAppointment(ctx, appt.BookingID, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConcurrentConfirmHasOneWinner(t *testing.T) {
	f := newFixture(t, 5)
	appt := f.book(t, "P-1", friday, "10:00 AM")

	var (
		wg       sync.WaitGroup
		winners  atomic.Int32
		conflict atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.ConfirmAppointment(context.Background(), appt.BookingID, fmt.Sprintf("D-%d", i))
			if err == nil {
				winners.Add(1)
			} else if errors.Is(err, ErrInvalidTransition) {
				conflict.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(7), conflict.Load())
}

func TestCancelAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("patient cancels own booking", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		res, err := f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "P-1", Role: RolePatient})
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, StatusCancelled, res.Appointment.Status)
		assert.Zero(t, f.repo.SeatsHeld(appt.SlotKey()))
		assert.Zero(t, bookedCount(t, f.svc, friday, "10:00 AM"))
	})

	t.Run("cancel twice is a no-op", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		first, err := f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "P-1"})
		require.NoError(t, err)

		f.clock.Set(testNow.Add(time.Minute))
		second, err := f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "P-1"})
		require.NoError(t, err)
		assert.False(t, second.Changed)
		assert.Equal(t, StatusCancelled, second.Appointment.Status)
		assert.Equal(t, first.Appointment.UpdatedAt, second.Appointment.UpdatedAt)
		assert.Zero(t, f.repo.SeatsHeld(appt.SlotKey()))
	})

	t.Run("other patient is refused", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		_, err := f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "P-2"})
		assert.ErrorIs(t, err, ErrNotOwner)
		assert.Equal(t, 1, f.repo.SeatsHeld(appt.SlotKey()))
	})

	t.Run("doctor may cancel", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		res, err := f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "D-1", Role: RoleDoctor})
		require.NoError(t, err)
		assert.True(t, res.Changed)
	})

	t.Run("past appointment", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")
		f.clock.Set(time.Date(2025, 1, 10, 10, 5, 0, 0, time.UTC))

		_, err := f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "P-1"})
		assert.ErrorIs(t, err, ErrAppointmentInPast)
	})

	t.Run("terminal record", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")
		_, err := f.svc.RescheduleAppointment(ctx, appt.BookingID, RescheduleRequest{NewDate: friday, NewTime: "2:00 PM"})
		require.NoError(t, err)

		_, err = f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "P-1"})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown role", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		_, err := f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "P-1", Role: "admin"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestRescheduleAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("doctor initiated", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		res, err := f.svc.RescheduleAppointment(ctx, appt.BookingID, RescheduleRequest{
			NewDate: monday, NewTime: "2:30 PM", DoctorID: "D-9",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusRescheduled, res.Original.Status)
		assert.True(t, strings.HasPrefix(res.Replacement.BookingID, PrefixReschedule))
		assert.Equal(t, StatusConfirmed, res.Replacement.Status)
		require.NotNil(t, res.Replacement.OriginalBookingID)
		assert.Equal(t, appt.BookingID, *res.Replacement.OriginalBookingID)
		require.NotNil(t, res.Replacement.ApprovedDoctorID)
		assert.Equal(t, "D-9", *res.Replacement.ApprovedDoctorID)
		assert.Equal(t, appt.PatientID, res.Replacement.PatientID)

		assert.Zero(t, bookedCount(t, f.svc, friday, "10:00 AM"))
		assert.Equal(t, 1, bookedCount(t, f.svc, monday, "2:30 PM"))

		old, err := f.svc.GetAppointment(ctx, appt.BookingID)
		require.NoError(t, err)
		assert.Equal(t, StatusRescheduled, old.Status)

		f.svc.WaitNotifications()
		assert.Contains(t, f.notifier.kinds(), NotifyRescheduled)
	})

	t.Run("patient initiated stays pending", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		res, err := f.svc.RescheduleAppointment(ctx, appt.BookingID, RescheduleRequest{NewDate: friday, NewTime: "10:30 AM"})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, res.Replacement.Status)
		assert.Nil(t, res.Replacement.DoctorID)
	})

	t.Run("full target leaves original untouched", func(t *testing.T) {
		f := newFixture(t, 1)
		appt := f.book(t, "P-1", friday, "10:00 AM")
		f.book(t, "P-2", friday, "2:00 PM")

		_, err := f.svc.RescheduleAppointment(ctx, appt.BookingID, RescheduleRequest{NewDate: friday, NewTime: "2:00 PM"})
		require.ErrorIs(t, err, ErrSlotUnavailable)

		stored, err := f.svc.GetAppointment(ctx, appt.BookingID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Equal(t, 1, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "10:00 AM"}))
		assert.Equal(t, 1, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "2:00 PM"}))
		assert.Equal(t, 1, bookedCount(t, f.svc, friday, "10:00 AM"))
	})

	t.Run("same slot when full", func(t *testing.T) {
		f := newFixture(t, 1)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		res, err := f.svc.RescheduleAppointment(ctx, appt.BookingID, RescheduleRequest{NewDate: friday, NewTime: "10:00 AM"})
		require.NoError(t, err)
		assert.Equal(t, 1, f.repo.SeatsHeld(res.Replacement.SlotKey()))
	})

	t.Run("invalid target", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")

		_, err := f.svc.RescheduleAppointment(ctx, appt.BookingID, RescheduleRequest{NewDate: friday, NewTime: "1:30 PM"})
		assert.ErrorIs(t, err, ErrInvalidSlot)
	})

	t.Run("cancelled cannot be rescheduled", func(t *testing.T) {
		f := newFixture(t, 5)
		appt := f.book(t, "P-1", friday, "10:00 AM")
		_, err := f.svc.CancelAppointment(ctx, appt.BookingID, CancelRequest{RequesterID: "P-1"})
		require.NoError(t, err)

		_, err = f.svc.RescheduleAppointment(ctx, appt.BookingID, RescheduleRequest{NewDate: friday, NewTime: "10:30 AM"})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Zero(t, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "10:30 AM"}))
	})
}

func TestExpireOverdueAppointments(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	early := f.book(t, "P-1", friday, "9:00 AM")
	confirmed := f.book(t, "P-2", friday, "9:30 AM")
	_, err := f.svc.ConfirmAppointment(ctx, confirmed.BookingID, "D-1")
	require.NoError(t, err)
	later := f.book(t, "P-3", friday, "4:10 PM")
	cancelled := f.book(t, "P-4", friday, "9:00 AM")
	_, err = f.svc.CancelAppointment(ctx, cancelled.BookingID, CancelRequest{RequesterID: "P-4"})
	require.NoError(t, err)

	f.clock.Set(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))

	n, err := f.svc.ExpireOverdueAppointments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]AppointmentStatus{
		early.BookingID:     StatusExpired,
		confirmed.BookingID: StatusExpired,
		later.BookingID:     StatusPending,
		cancelled.BookingID: StatusCancelled,
	} {
		got, err := f.svc.GetAppointment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	assert.Zero(t, bookedCount(t, f.svc, friday, "9:00 AM"))
	assert.Zero(t, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "9:30 AM"}))

	events := f.repo.Events(early.BookingID)
	require.NotEmpty(t, events)
	assert.Equal(t, EventAppointmentExpired, events[len(events)-1].EventType)

	again, err := f.svc.ExpireOverdueAppointments(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestAvailabilityIgnoresInactive(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	a := f.book(t, "P-1", friday, "10:00 AM")
	f.book(t, "P-2", friday, "10:00 AM")
	_, err := f.svc.CancelAppointment(ctx, a.BookingID, CancelRequest{RequesterID: "P-1"})
	require.NoError(t, err)

	slots, err := f.svc.GetAvailability(ctx, friday)
	require.NoError(t, err)
	require.Len(t, slots, len(f.svc.Slots()))
	for _, s := range slots {
		assert.Equal(t, 2, s.Capacity)
		if s.Label == "10:00 AM" {
			assert.Equal(t, 1, s.BookedCount)
			assert.True(t, s.IsAvailable)
		}
	}

	_, err = f.svc.GetAvailability(ctx, "tomorrow")
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestAvailabilityCacheIsInvalidatedOnWrites(t *testing.T) {
	c := newMapCache()
	f := newFixture(t, 5, WithCache(c))
	ctx := context.Background()

	assert.Zero(t, bookedCount(t, f.svc, friday, "10:00 AM"))
	_, cached, _ := c.Get(ctx, availabilityKey(friday, "0"))
	assert.True(t, cached)

	a := f.book(t, "P-1", friday, "10:00 AM")
	assert.Contains(t, c.deletes, availabilityKey(friday, "0"))
	assert.Equal(t, 1, bookedCount(t, f.svc, friday, "10:00 AM"))

	monGen, _ := f.svc.generation(ctx, monday)
	_, err := f.svc.RescheduleAppointment(ctx, a.BookingID, RescheduleRequest{NewDate: monday, NewTime: "10:00 AM"})
	require.NoError(t, err)
	assert.Zero(t, bookedCount(t, f.svc, friday, "10:00 AM"))
	assert.Contains(t, c.deletes, availabilityKey(monday, monGen))

	newMonGen, _ := f.svc.generation(ctx, monday)
	assert.NotEqual(t, monGen, newMonGen)
}

// bookDuringCountRepo books a seat after taking its counts, so the counts it
// returns are already stale when the service sees them.
type bookDuringCountRepo struct {
	*MemoryRepository
	book func()
	once sync.Once
}

func (r *bookDuringCountRepo) CountActiveByTime(ctx context.Context, date string) (map[string]int, error) {
	counts, err := r.MemoryRepository.CountActiveByTime(ctx, date)
	r.once.Do(r.book)
	return counts, err
}

func TestAvailabilityStaleCountIsNotCached(t *testing.T) {
	grid, err := slotgrid.NewGrid(slotgrid.DefaultPolicy())
	require.NoError(t, err)
	clock := &testClock{t: testNow}
	c := newMapCache()
	repo := &bookDuringCountRepo{MemoryRepository: NewMemoryRepository()}
	svc := NewService(repo, grid, config.Config{MaxSlotsPerTime: 5, BookingHorizonDays: 30},
		WithClock(clock.Now, time.UTC), WithCache(c))
	ctx := context.Background()

	repo.book = func() {
		_, err := svc.CreateBooking(ctx, bookingReq("P-1", friday, "10:00 AM"))
		require.NoError(t, err)
	}

	// The first read races the booking and may report the old count.
	assert.Zero(t, bookedCount(t, svc, friday, "10:00 AM"))
	assert.Equal(t, 1, bookedCount(t, svc, friday, "10:00 AM"))
	assert.Equal(t, 1, bookedCount(t, svc, friday, "10:00 AM"))
}

func TestNotificationFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t, 5)
	f.notifier.err = errors.New("smtp down")

	appt, err := f.svc.CreateBooking(context.Background(), bookingReq("P-1", friday, "10:00 AM"))
	require.NoError(t, err)
	assert.NotEmpty(t, appt.BookingID)

	f.svc.WaitNotifications()
	assert.Len(t, f.notifier.kinds(), 1)
}

type brokenRepo struct {
	*MemoryRepository
}

func (brokenRepo) InTx(context.Context, func(context.Context, Tx) error) error {
	return errors.New("connection refused")
}

func (brokenRepo) CountActiveByTime(context.Context, string) (map[string]int, error) {
	return nil, errors.New("connection refused")
}

func TestStorageFailuresAreClassified(t *testing.T) {
	grid, err := slotgrid.NewGrid(slotgrid.DefaultPolicy())
	require.NoError(t, err)
	clock := &testClock{t: testNow}
	svc := NewService(brokenRepo{NewMemoryRepository()}, grid, config.Config{MaxSlotsPerTime: 5}, WithClock(clock.Now, time.UTC))

	_, err = svc.CreateBooking(context.Background(), bookingReq("P-1", friday, "10:00 AM"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = svc.GetAvailability(context.Background(), friday)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = svc.ConfirmAppointment(context.Background(), "BK1", "D-1")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestListings(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	a := f.book(t, "P-1", friday, "10:00 AM")
	f.clock.Set(testNow.Add(time.Second))
	b := f.book(t, "P-1", friday, "9:00 AM")
	f.clock.Set(testNow.Add(2 * time.Second))
	c := f.book(t, "P-2", friday, "9:30 AM")
	_, err := f.svc.ConfirmAppointment(ctx, c.BookingID, "D-1")
	require.NoError(t, err)

	mine, err := f.svc.ListAppointmentsByPatient(ctx, "P-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, b.BookingID, mine[0].BookingID)
	assert.Equal(t, a.BookingID, mine[1].BookingID)

	pending, err := f.svc.ListPendingAppointments(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, b.BookingID, pending[0].BookingID)

	all, err := f.svc.ListAllAppointments(ctx, 2, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// lockCheckingRepo fails any seat change on a slot the transaction has not locked.
type lockCheckingRepo struct {
	*MemoryRepository
}

type lockCheckingTx struct {
	Tx
	locked map[SlotKey]bool
}

func (r lockCheckingRepo) InTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return r.MemoryRepository.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, &lockCheckingTx{Tx: tx, locked: map[SlotKey]bool{}})
	})
}

func (t *lockCheckingTx) LockSlots(ctx context.Context, keys ...SlotKey) error {
	for _, k := range keys {
		t.locked[k] = true
	}
	return t.Tx.LockSlots(ctx, keys...)
}

func (t *lockCheckingTx) ReleaseSlot(ctx context.Context, key SlotKey) error {
	if !t.locked[key] {
		return fmt.Errorf("release of unlocked slot %v", key)
	}
	return t.Tx.ReleaseSlot(ctx, key)
}

func (t *lockCheckingTx) ReserveSlot(ctx context.Context, key SlotKey, capacity int) error {
	if !t.locked[key] {
		return fmt.Errorf("reserve of unlocked slot %v", key)
	}
	return t.Tx.ReserveSlot(ctx, key, capacity)
}

func TestRescheduleLocksBothSlotsUpFront(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	appt := f.book(t, "P-1", friday, "10:00 AM")

	grid, err := slotgrid.NewGrid(slotgrid.DefaultPolicy())
	require.NoError(t, err)
	svc := NewService(lockCheckingRepo{f.repo}, grid, config.Config{MaxSlotsPerTime: 5, BookingHorizonDays: 30},
		WithClock(f.clock.Now, time.UTC))

	res, err := svc.RescheduleAppointment(ctx, appt.BookingID, RescheduleRequest{NewDate: monday, NewTime: "2:00 PM"})
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, res.Original.Status)
	assert.Equal(t, 0, f.repo.SeatsHeld(SlotKey{Date: friday, Time: "10:00 AM"}))
	assert.Equal(t, 1, f.repo.SeatsHeld(SlotKey{Date: monday, Time: "2:00 PM"}))
}
