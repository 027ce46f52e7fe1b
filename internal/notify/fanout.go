package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/blood-connect/internal/models"
	"github.com/example/blood-connect/internal/observability"
	"github.com/example/blood-connect/internal/storage"
)

// Pusher delivers a live event to a connected user. False means the user was
// not reachable; there is no error to handle.
type Pusher interface {
	Push(userID, event string, payload any) bool
}

// EmergencyEvent is the payload pushed over the live channel to matched
// donors who are currently connected.
type EmergencyEvent struct {
	RequestID    string `json:"request_id"`
	BloodGroup   string `json:"blood_group"`
	HospitalName string `json:"hospital_name"`
	Message      string `json:"message"`
}

// Fanout dispatches one notification per matched donor: a persisted in-app
// record, an emergency email, and a best-effort live push. Dispatch is
// fire-and-forget relative to the caller; per-donor failures are isolated and
// only ever logged.
type Fanout struct {
	Email         EmailSender
	Pusher        Pusher
	Notifications storage.NotificationStore
	Logger        *slog.Logger

	// Concurrency caps simultaneous dispatches; Timeout bounds each one so a
	// hung transport cannot accumulate unbounded in-flight work.
	Concurrency int
	Timeout     time.Duration

	inflight atomic.Int64
}

// Dispatch hands the matched donor set to the worker group and returns
// immediately. The request-creation response does not wait for any of this.
func (f *Fanout) Dispatch(result models.MatchResult, req *models.Request) {
	if result.Empty() {
		return
	}
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Add(-1)
		f.run(context.Background(), result, req)
	}()
}

// run completes the whole fan-out for one request. Exposed to tests via
// DispatchAndWait.
func (f *Fanout) run(ctx context.Context, result models.MatchResult, req *models.Request) {
	limit := f.Concurrency
	if limit <= 0 {
		limit = 16
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var sent, failed, pushed atomic.Int64

	g := &errgroup.Group{}
	g.SetLimit(limit)
	for _, d := range result.Donors {
		donor := d
		g.Go(func() error {
			defer func() {
				// one panicking dispatch must not take down the group
				if rec := recover(); rec != nil {
					failed.Add(1)
					f.logger().Error("dispatch panic recovered", "donor_id", donor.ID, "panic", rec)
				}
			}()
			dctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			// the live push is independent of the email leg: a failing email
			// address must not cost the donor their in-app alert. Its write
			// deadline is enforced inside the presence registry.
			if f.push(donor.ID, req) {
				pushed.Add(1)
			}
			if err := f.dispatchOne(dctx, donor, req); err != nil {
				failed.Add(1)
				observability.NotificationsFailed.Inc()
				f.logger().Warn("donor dispatch failed", "donor_id", donor.ID, "request_id", req.ID, "error", err)
				return nil
			}
			sent.Add(1)
			observability.NotificationsSent.Inc()
			return nil
		})
	}
	_ = g.Wait()

	f.logger().Info("fan-out settled",
		"request_id", req.ID,
		"matched", len(result.Donors),
		"sent", sent.Load(),
		"failed", failed.Load(),
		"pushed", pushed.Load(),
	)
}

// DispatchAndWait runs the fan-out synchronously. Tests and batch tooling use
// it; the request path uses Dispatch.
func (f *Fanout) DispatchAndWait(ctx context.Context, result models.MatchResult, req *models.Request) {
	if result.Empty() {
		return
	}
	f.run(ctx, result, req)
}

func (f *Fanout) dispatchOne(ctx context.Context, donor models.Donor, req *models.Request) error {
	if f.Notifications != nil {
		n := &models.Notification{
			ID:          uuid.NewString(),
			RecipientID: donor.ID,
			SenderID:    req.RequesterID,
			Type:        models.NotificationEmergency,
			Title:       fmt.Sprintf("Urgent: %s blood needed", req.BloodGroup),
			Message:     fmt.Sprintf("%s needs %d unit(s) of %s blood near %s.", req.HospitalName, req.Units, req.BloodGroup, req.LocationLabel),
			Meta: map[string]string{
				"request_id":  req.ID,
				"blood_group": string(req.BloodGroup),
				"units":       fmt.Sprintf("%d", req.Units),
				"location":    req.LocationLabel,
			},
			CreatedAt: time.Now(),
		}
		if err := f.Notifications.SaveNotification(ctx, n); err != nil {
			// the email still goes out; the in-app record is an extra channel
			f.logger().Warn("notification insert failed", "donor_id", donor.ID, "error", err)
		}
	}

	msg := EmergencyEmail{
		To:            donor.Email,
		ToName:        donor.Name,
		Subject:       fmt.Sprintf("Emergency blood request: %s", req.BloodGroup),
		HospitalName:  req.HospitalName,
		BloodGroup:    string(req.BloodGroup),
		Units:         req.Units,
		LocationLabel: req.LocationLabel,
		ContactNumber: req.ContactNumber,
	}
	msg.Body = emailBody(msg)
	return f.Email.Send(ctx, msg)
}

func (f *Fanout) push(donorID string, req *models.Request) bool {
	if f.Pusher == nil {
		return false
	}
	ev := EmergencyEvent{
		RequestID:    req.ID,
		BloodGroup:   string(req.BloodGroup),
		HospitalName: req.HospitalName,
		Message:      fmt.Sprintf("%s needs %s blood urgently", req.HospitalName, req.BloodGroup),
	}
	if f.Pusher.Push(donorID, "emergencyRequest", ev) {
		observability.PushDelivered.Inc()
		return true
	}
	observability.PushMissed.Inc()
	return false
}

// Inflight reports fan-outs that have been handed off but not yet settled.
func (f *Fanout) Inflight() int64 { return f.inflight.Load() }

func (f *Fanout) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
