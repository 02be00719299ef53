// Package notify fans appointment and report events out to the websocket
// feed, Expo push and email, and keeps a history row per recipient.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/models"
	"github.com/mediscan/mediscan-server/service/metrics"
)

const (
	AppointmentBooked      = "appointment.booked"
	AppointmentRescheduled = "appointment.rescheduled"
	AppointmentCancelled   = "appointment.cancelled"
	AppointmentCompleted   = "appointment.completed"
	ReportCreated          = "report.created"
)

type Event struct {
	Type    string            `json:"type"`
	UserIDs []uuid.UUID       `json:"-"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
	// Email also sends the event by email.
	Email bool `json:"-"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type Mailer interface {
	Send(to, subject, body string) error
}

// Pusher sends a push message and reports tokens the provider rejected.
type Pusher interface {
	Push(tokens []string, title, body string, data map[string]string) (invalid []string, err error)
}

type Feed interface {
	Publish(userID uuid.UUID, eventType string, data interface{}) int
}

type Dispatcher struct {
	db      *gorm.DB
	mailer  Mailer
	pusher  Pusher
	feed    Feed
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher accepts nil for any channel that is not configured.
func NewDispatcher(db *gorm.DB, mailer Mailer, pusher Pusher, feed Feed, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		db:      db,
		mailer:  mailer,
		pusher:  pusher,
		feed:    feed,
		log:     log.With().Str("component", "notify").Logger(),
		metrics: m,
	}
}

// Notify delivers ev in the background; the request that caused it does
// not wait on SMTP or Expo.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	go d.Dispatch(ctx, ev)
}

// Dispatch delivers ev to every recipient on every configured channel.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	for _, userID := range ev.UserIDs {
		if userID == uuid.Nil {
			continue
		}
		var channels []string
		attempted, failed := 0, 0
		track := func(channel string, err error) {
			attempted++
			channels = append(channels, channel)
			d.metrics.ObserveNotification(channel, metrics.Outcome(err))
			if err != nil {
				failed++
				d.log.Warn().Err(err).Str("channel", channel).Str("user_id", userID.String()).Str("event", ev.Type).Msg("notification delivery failed")
			}
		}

		if d.feed != nil && d.feed.Publish(userID, ev.Type, ev) > 0 {
			track("ws", nil)
		}
		if d.pusher != nil {
			if sent, err := d.push(ctx, userID, ev); sent {
				track("push", err)
			}
		}
		if d.mailer != nil && ev.Email {
			track("email", d.email(ctx, userID, ev))
		}

		d.record(ctx, userID, ev, channels, status(attempted, failed))
	}
}

func status(attempted, failed int) string {
	switch {
	case attempted == 0:
		return models.NotificationStored
	case failed == 0:
		return models.NotificationSent
	case failed < attempted:
		return models.NotificationPartial
	default:
		return models.NotificationFailed
	}
}

// push reports sent=false when the user has no registered devices.
func (d *Dispatcher) push(ctx context.Context, userID uuid.UUID, ev Event) (sent bool, err error) {
	var tokens []string
	if err := d.db.WithContext(ctx).Model(&models.Device{}).Where("user_id = ?", userID).Pluck("token", &tokens).Error; err != nil {
		return true, err
	}
	if len(tokens) == 0 {
		return false, nil
	}

	invalid, err := d.pusher.Push(tokens, ev.Title, ev.Body, ev.Data)
	d.cleanupInvalidTokens(ctx, invalid)
	return true, err
}

func (d *Dispatcher) cleanupInvalidTokens(ctx context.Context, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	if err := d.db.WithContext(ctx).Where("token IN ?", tokens).Delete(&models.Device{}).Error; err != nil {
		d.log.Error().Err(err).Int("tokens", len(tokens)).Msg("cleaning up invalid push tokens")
		return
	}
	d.log.Info().Int("tokens", len(tokens)).Msg("cleaned up invalid push tokens")
}

func (d *Dispatcher) email(ctx context.Context, userID uuid.UUID, ev Event) error {
	var user models.User
	if err := d.db.WithContext(ctx).Select("email").First(&user, "id = ?", userID).Error; err != nil {
		return err
	}
	return d.mailer.Send(user.Email, ev.Title, ev.Body)
}

func (d *Dispatcher) record(ctx context.Context, userID uuid.UUID, ev Event, channels []string, status string) {
	data, _ := json.Marshal(ev.Data)
	row := models.NotificationHistory{
		UserID:   userID,
		Event:    ev.Type,
		Title:    ev.Title,
		Body:     ev.Body,
		Data:     string(data),
		Channels: strings.Join(channels, ","),
		Status:   status,
		SentAt:   time.Now().UTC(),
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		d.log.Error().Err(err).Str("user_id", userID.String()).Msg("saving notification history")
	}
}
