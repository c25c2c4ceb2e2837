// Command bookctl fires concurrent overlapping booking requests at a running
// bookings service and reports how many were admitted. A healthy service
// admits exactly one.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"slotkeeper/pkg/auth"
	"slotkeeper/pkg/client"
	"slotkeeper/pkg/clock"
	"slotkeeper/pkg/config"
	apperrors "slotkeeper/pkg/errors"
	"slotkeeper/pkg/logger"
)

const ServiceName = "bookctl"

type contentionResult struct {
	admitted  int64
	conflicts int64
	retryable int64
	other     int64
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "bookings service address")
	resourceID := flag.String("resource", "", "resource to contend on")
	n := flag.Int("n", 20, "concurrent create requests")
	startAt := flag.String("start", "", "slot start (RFC 3339), defaults to tomorrow 09:00 UTC")
	length := flag.Duration("duration", time.Hour, "slot length")
	userID := flag.String("user", "bookctl", "subject of the issued token")
	cancelAfter := flag.Bool("cancel", false, "cancel the admitted booking afterwards")
	flag.Parse()

	cfg := config.Load(ServiceName)
	log := cfg.Log

	if *resourceID == "" || *n < 1 {
		log.Error("bookctl needs -resource and a positive -n")
		flag.Usage()
		os.Exit(2)
	}

	start, err := slotStart(*startAt, time.Now())
	if err != nil {
		log.Fatal("Invalid -start", "error", err)
	}

	token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL, clock.System{}).Issue(auth.Identity{ID: *userID})
	if err != nil {
		log.Fatal("Failed to issue token", "error", err)
	}
	bookings := client.NewBookingClient(*baseURL, token)

	ctx := context.Background()
	if err := bookings.HTTP().WaitForHealthy(ctx, 30*time.Second); err != nil {
		log.Fatal("Service not reachable", "base_url", *baseURL, "error", err)
	}

	body := client.NewCreateBookingBody(*resourceID, start, start.Add(*length))
	result, admittedID := contend(ctx, bookings, body, *n, log)

	log.Info("Contention run finished",
		"requests", *n,
		"admitted", result.admitted,
		"conflicts", result.conflicts,
		"lock_timeouts", result.retryable,
		"other_failures", result.other,
	)

	if *cancelAfter && admittedID != "" {
		if _, err := bookings.Cancel(ctx, admittedID); err != nil {
			log.Error("Failed to cancel admitted booking", "booking_id", admittedID, "error", err)
		} else {
			log.Info("Admitted booking cancelled", "booking_id", admittedID)
		}
	}

	if result.admitted > 1 {
		log.Error("Overlapping bookings were admitted", "admitted", result.admitted)
		os.Exit(1)
	}
}

func contend(ctx context.Context, bookings *client.BookingClient, body client.CreateBookingBody, n int, log *logger.Logger) (contentionResult, string) {
	var (
		result     contentionResult
		admittedID atomic.Value
		g          errgroup.Group
	)
	gate := make(chan struct{})

	for i := 0; i < n; i++ {
		g.Go(func() error {
			<-gate
			booking, err := bookings.Create(ctx, body, "")
			if err == nil {
				atomic.AddInt64(&result.admitted, 1)
				admittedID.Store(booking.ID)
				return nil
			}

			var apiErr *client.APIError
			switch {
			case errors.As(err, &apiErr) && apiErr.Code == apperrors.CodeBusinessRule:
				atomic.AddInt64(&result.conflicts, 1)
			case errors.As(err, &apiErr) && apiErr.Code == apperrors.CodeLockTimeout:
				atomic.AddInt64(&result.retryable, 1)
			default:
				atomic.AddInt64(&result.other, 1)
				log.Warn("Create failed", "error", err)
			}
			return nil
		})
	}
	close(gate)
	_ = g.Wait()

	id, _ := admittedID.Load().(string)
	return result, id
}

func slotStart(flagValue string, now time.Time) (time.Time, error) {
	if flagValue == "" {
		tomorrow := now.UTC().AddDate(0, 0, 1)
		return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 9, 0, 0, 0, time.UTC), nil
	}
	return time.Parse(time.RFC3339, flagValue)
}
