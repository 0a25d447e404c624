package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/app"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/slotgrid"
)

var complaints = []string{
	"Persistent cough",
	"Skin rash",
	"Chest pain on exertion",
	"Lower back pain",
	"Recurring headaches",
	"Follow-up on blood work",
	"Sore throat and fever",
	"Knee swelling",
	"Blurred vision",
	"Annual check-up",
}

type patient struct {
	id    string
	email string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.FromConfig(cfg)
	log.Info().Msg("seed starting")

	// Seeded addresses are fake; never mail them.
	cfg.SMTP = config.SMTPConfig{}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true})
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	if seed := getInt("SEED_RANDOM_SEED", 0); seed != 0 {
		gofakeit.GlobalFaker = gofakeit.New(uint64(seed))
	}

	patients := makePatients(getInt("SEED_PATIENTS", 200))
	doctors := makeDoctors(getInt("SEED_DOCTORS", 10))

	if err := seedHistory(ctx, a.Repo, log, patients, getInt("SEED_HISTORY", 500)); err != nil {
		log.Fatal().Err(err).Msg("seed history")
	}
	if err := seedUpcoming(ctx, a.Service, log, patients, doctors, getInt("SEED_UPCOMING", 150)); err != nil {
		log.Fatal().Err(err).Msg("seed upcoming bookings")
	}

	log.Info().Msg("seed complete")
}

func makePatients(n int) []patient {
	out := make([]patient, n)
	for i := range out {
		out[i] = patient{id: uuid.NewString(), email: gofakeit.Email()}
	}
	return out
}

func makeDoctors(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "dr-" + gofakeit.LastName() + "-" + strconv.Itoa(i+1)
	}
	return out
}

// seedHistory writes terminal appointments on past dates straight into the
// repository. They hold no seat, so the capacity ledger is untouched.
func seedHistory(ctx context.Context, repo appointment.Repository, log zerolog.Logger, patients []patient, count int) error {
	log.Info().Int("count", count).Msg("seeding past appointments")

	terminal := []appointment.AppointmentStatus{appointment.StatusCancelled, appointment.StatusExpired}
	labels := []string{"9:00 AM", "9:30 AM", "10:00 AM", "10:30 AM", "2:00 PM", "2:30 PM"}

	const batchSize = 100
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := repo.InTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
			for i := offset; i < end; i++ {
				p := patients[gofakeit.Number(0, len(patients)-1)]
				day := slotgrid.StartOfDay(gofakeit.DateRange(time.Now().AddDate(0, -6, 0), time.Now().AddDate(0, 0, -1)))
				label := gofakeit.RandomString(labels)
				minute, err := slotgrid.ParseLabel(label)
				if err != nil {
					return err
				}
				startsAt := day.Add(time.Duration(minute) * time.Minute)
				created := startsAt.AddDate(0, 0, -gofakeit.Number(1, 14))

				appt := &appointment.Appointment{
					BookingID:       appointment.NewBookingID(appointment.PrefixBooking, created),
					PatientID:       p.id,
					PatientEmail:    p.email,
					ChiefComplaint:  gofakeit.RandomString(complaints),
					AppointmentDate: day.Format("2006-01-02"),
					AppointmentTime: label,
					StartsAt:        startsAt,
					Status:          terminal[gofakeit.Number(0, len(terminal)-1)],
					CreatedAt:       created,
					UpdatedAt:       startsAt,
				}
				if err := tx.InsertAppointment(ctx, appt); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Info().Int("done", end).Int("total", count).Msg("past appointments seeded")
	}
	return nil
}

// seedUpcoming books through the service so capacity and events behave exactly
// as they do for real traffic. Full slots are skipped.
func seedUpcoming(ctx context.Context, svc *appointment.Service, log zerolog.Logger, patients []patient, doctors []string, count int) error {
	log.Info().Int("count", count).Msg("seeding upcoming bookings")

	dates := svc.UpcomingDates(14)
	slots := svc.Slots()
	if len(dates) == 0 || len(slots) == 0 {
		return errors.New("no bookable dates or slots")
	}

	var booked, full, confirmed int
	for i := 0; i < count; i++ {
		p := patients[gofakeit.Number(0, len(patients)-1)]
		date := dates[gofakeit.Number(0, len(dates)-1)]
		slot := slots[gofakeit.Number(0, len(slots)-1)]

		appt, err := svc.CreateBooking(ctx, appointment.CreateBookingRequest{
			PatientID:      p.id,
			PatientEmail:   p.email,
			ChiefComplaint: gofakeit.RandomString(complaints),
			Date:           date.Date,
			Time:           slot.Label,
		})
		switch {
		case errors.Is(err, appointment.ErrSlotUnavailable), errors.Is(err, appointment.ErrInvalidSlot):
			// Full, or already started today.
			full++
			continue
		case err != nil:
			return err
		}
		booked++

		if gofakeit.Bool() {
			doctor := doctors[gofakeit.Number(0, len(doctors)-1)]
			if _, err := svc.ConfirmAppointment(ctx, appt.BookingID, doctor); err != nil {
				return err
			}
			confirmed++
		}
	}

	log.Info().
		Int("booked", booked).
		Int("confirmed", confirmed).
		Int("skipped_full", full).
		Msg("upcoming bookings seeded")
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
