// Package mobile ingests multimodal field reports: normalize, triage,
// verify, score, lane, and enqueue for dispatch, idempotently.
package mobile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/geo"
	"github.com/aegishub/aegishub-go/internal/logging"
	"github.com/aegishub/aegishub-go/internal/metrics"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/internal/triage"
)

// Channel labels in detection priority order.
const (
	ChannelSOS   = "sos"
	ChannelVoice = "voice"
	ChannelImage = "image"
	ChannelVideo = "video"
	ChannelText  = "text"
)

// Lane thresholds on the 1..100 priority score.
const (
	laneP0Threshold = 90
	laneP1Threshold = 70
	laneP2Threshold = 40
)

// duplicateNeighbors marks a submission a likely duplicate when at least
// this many recent reports sit inside the radius.
const duplicateNeighbors = 3

// Submission is a raw mobile report before the pipeline runs.
type Submission struct {
	SubmissionKey string  `json:"submission_key"`
	Text          string  `json:"text"`
	Audio         []byte  `json:"-"`
	AudioMIME     string  `json:"audio_mime,omitempty"`
	HasImage      bool    `json:"has_image,omitempty"`
	HasVideo      bool    `json:"has_video,omitempty"`
	SOS           bool    `json:"sos,omitempty"`
	DeviceID      string  `json:"device_id"`
	ClientIP      string  `json:"-"`
	Latitude      float64 `json:"latitude,omitempty"`
	Longitude     float64 `json:"longitude,omitempty"`
}

// Result is what ingestion returns to the caller.
type Result struct {
	Ticket   *models.Ticket `json:"ticket"`
	JobID    string         `json:"job_id"`
	Replayed bool           `json:"replayed"`
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	store       *store.Store
	triage      *triage.Service
	weather     WeatherVerifier
	transcriber Transcriber
	fraud       FraudScorer

	duplicateRadiusM float64
	duplicateWindow  time.Duration

	logger zerolog.Logger
	now    func() time.Time
}

// NewPipeline builds the ingestion pipeline. transcriber and fraud may be
// nil; voice submissions then fall back to any provided text.
func NewPipeline(s *store.Store, t *triage.Service, w WeatherVerifier, tr Transcriber, f FraudScorer, dupRadiusM float64, dupWindow time.Duration) *Pipeline {
	return &Pipeline{
		store:            s,
		triage:           t,
		weather:          w,
		transcriber:      tr,
		fraud:            f,
		duplicateRadiusM: dupRadiusM,
		duplicateWindow:  dupWindow,
		logger:           logging.Component("mobile"),
		now:              time.Now,
	}
}

// Ingest runs every stage and enqueues the dispatch job. Replaying a
// submission key returns the original ticket without re-running anything.
func (p *Pipeline) Ingest(ctx context.Context, sub Submission) (*Result, error) {
	if sub.SubmissionKey == "" {
		return nil, apperrors.Validation("ingest", "", fmt.Errorf("submission_key is required"))
	}

	// Stage 1: normalize.
	channel := detectChannel(sub)
	text := sub.Text
	transcript := ""
	if channel == ChannelVoice || (sub.SOS && len(sub.Audio) > 0) {
		if p.transcriber != nil {
			t, err := p.transcriber.Transcribe(ctx, sub.Audio, sub.AudioMIME)
			if err != nil {
				p.logger.Warn().Err(err).Msg("Transcription failed, falling back to submitted text")
			} else {
				transcript = t
				if text == "" {
					text = t
				}
			}
		}
	}
	if text == "" && sub.SOS {
		text = "Emergency SOS button pressed"
	}
	if text == "" {
		return nil, apperrors.Validation("ingest", sub.SubmissionKey, fmt.Errorf("submission carries no usable text"))
	}

	lat, lon := sub.Latitude, sub.Longitude
	if lat == 0 && lon == 0 {
		anchor := geo.AnchorFromText(text)
		lat, lon = anchor.Lat, anchor.Lon
	}

	// Stage 2: triage.
	tri := p.triage.Classify(ctx, text)

	// Stage 3: weather verification.
	weather := WeatherReport{Confirmation: 0.5, Status: "skipped"}
	if p.weather != nil {
		weather = p.weather.Verify(ctx, lat, lon, tri.Category, text)
	}

	now := p.now().UTC()
	var result *Result

	err := p.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Stage 4: duplicate density.
		nearby, err := store.NearbyTicketCountTx(tx, lat, lon, p.duplicateRadiusM, now.Add(-p.duplicateWindow))
		if err != nil {
			return err
		}
		likelyDup := nearby >= duplicateNeighbors
		density := float64(nearby) / 5.0
		if density > 1 {
			density = 1
		}

		// Stage 5: fraud.
		device, ip, sameText, err := store.SubmissionCountsTx(tx, sub.DeviceID, sub.ClientIP, text, now)
		if err != nil {
			return err
		}
		modelSignal := 0.0
		if p.fraud != nil {
			modelSignal = p.fraud.Score(text)
		}
		fraud := fraudScore(FraudSignals{
			SameDevice10m: device,
			SameIP10m:     ip,
			SameText24h:   sameText,
		}, text, modelSignal)
		needsReview := fraud >= reviewThreshold

		// Stage 6: priority lane.
		score := priorityScore(sub.SOS, tri.Priority, density, weather.Confirmation, fraud)
		lane := laneFor(score, tri.Priority, needsReview, likelyDup)

		ticket := &models.Ticket{
			ID:            ulid.Make().String(),
			SubmissionKey: sub.SubmissionKey,
			Channel:       channel,
			Text:          text,
			Transcript:    transcript,
			DeviceID:      sub.DeviceID,
			ClientIP:      sub.ClientIP,
			Latitude:      lat,
			Longitude:     lon,
			Triage:        tri,
			WeatherScore:  weather.Confirmation,
			WeatherStatus: weather.Status,
			DensityScore:  density,
			LikelyDup:     likelyDup,
			FraudScore:    fraud,
			NeedsReview:   needsReview,
			PriorityScore: score,
			Lane:          lane,
			CreatedAt:     now,
		}

		// Stage 7: idempotent enqueue.
		incident := &models.Incident{
			ID:          ulid.Make().String(),
			ReporterID:  "mobile:" + sub.DeviceID,
			Description: text,
			Latitude:    lat,
			Longitude:   lon,
			Status:      models.StatusPending,
			Triage:      tri,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		ticket.IncidentID = incident.ID

		if err := store.InsertTicketTx(tx, ticket); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				original, lookupErr := store.GetTicketBySubmissionKeyTx(tx, sub.SubmissionKey)
				if lookupErr != nil {
					return lookupErr
				}
				result = &Result{Ticket: original, Replayed: true}
				return nil
			}
			return err
		}
		if err := store.InsertIncidentTx(tx, incident); err != nil {
			return err
		}

		payload, err := json.Marshal(ticket)
		if err != nil {
			return fmt.Errorf("marshal ticket payload: %w", err)
		}
		job := &models.DispatchJob{
			ID:             ulid.Make().String(),
			TicketID:       ticket.ID,
			Lane:           lane,
			State:          models.DispatchQueued,
			NextAttemptAt:  now,
			IdempotencyKey: uuid.NewString(),
			Payload:        string(payload),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := store.EnqueueDispatchTx(tx, job); err != nil {
			return err
		}

		result = &Result{Ticket: ticket, JobID: job.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		metrics.TicketsIngestedTotal.WithLabelValues(fmt.Sprintf("p%d", result.Ticket.Lane)).Inc()
		if result.Ticket.NeedsReview {
			metrics.TicketsFlaggedTotal.WithLabelValues("needs_review").Inc()
		}
		if result.Ticket.LikelyDup {
			metrics.TicketsFlaggedTotal.WithLabelValues("likely_duplicate").Inc()
		}
		p.logger.Info().Str("ticket", result.Ticket.ID).Str("channel", channel).
			Int("lane", result.Ticket.Lane).Float64("score", result.Ticket.PriorityScore).
			Msg("Ticket ingested")
	} else {
		p.logger.Debug().Str("ticket", result.Ticket.ID).Msg("Submission replayed, returning original ticket")
	}
	return result, nil
}

// detectChannel picks the submission channel: the SOS flag wins, then
// richer media over plain text.
func detectChannel(sub Submission) string {
	switch {
	case sub.SOS:
		return ChannelSOS
	case len(sub.Audio) > 0:
		return ChannelVoice
	case sub.HasImage:
		return ChannelImage
	case sub.HasVideo:
		return ChannelVideo
	default:
		return ChannelText
	}
}

// priorityScore produces the 1..100 dispatch score. SOS presses always
// pin to the top.
func priorityScore(sos bool, priority int, density, weather, fraud float64) float64 {
	if sos {
		return 100
	}
	severity := float64(priority) / 5.0
	score := 100 * (0.5*severity + 0.3*density + 0.2*weather) * (1 - 0.4*fraud)
	if score < 1 {
		score = 1
	}
	if score > 99 {
		score = 99
	}
	return score
}

// laneFor maps a score to a lane with per-priority floors: clean
// priority-5 triage pins p0, priority 4 never lands below p1 and
// priority 3 never below p2. Likely duplicates are demoted one lane
// (never out of p0).
func laneFor(score float64, priority int, needsReview, likelyDup bool) int {
	lane := 3
	switch {
	case score >= laneP0Threshold:
		lane = 0
	case score >= laneP1Threshold:
		lane = 1
	case score >= laneP2Threshold:
		lane = 2
	}
	switch {
	case priority >= 5 && !needsReview:
		lane = 0
	case priority == 4 && lane > 1:
		lane = 1
	case priority == 3 && lane > 2:
		lane = 2
	}
	if likelyDup && lane > 0 && lane < 3 {
		lane++
	}
	return lane
}
