package mobile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/internal/triage"
)

type fakeWeather struct {
	report WeatherReport
}

func (f *fakeWeather) Verify(context.Context, float64, float64, string, string) WeatherReport {
	return f.report
}

type fakeTranscriber struct {
	transcript string
	err        error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return f.transcript, f.err
}

type fakeFraud struct {
	score float64
}

func (f *fakeFraud) Score(string) float64 { return f.score }

func newTestPipeline(t *testing.T, weather WeatherVerifier, tr Transcriber, fraud FraudScorer) (*Pipeline, *store.Store) {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	p := NewPipeline(s, triage.NewService(nil), weather, tr, fraud, 500, 30*time.Minute)
	return p, s
}

func TestIngestSOSPinsTopLane(t *testing.T) {
	p, s := newTestPipeline(t, nil, nil, nil)

	result, err := p.Ingest(context.Background(), Submission{
		SubmissionKey: "sos-1",
		SOS:           true,
		DeviceID:      "device-1",
		ClientIP:      "10.0.0.1",
	})
	require.NoError(t, err)
	require.False(t, result.Replayed)

	ticket := result.Ticket
	assert.Equal(t, ChannelSOS, ticket.Channel)
	assert.Equal(t, "Emergency SOS button pressed", ticket.Text)
	assert.Equal(t, 100.0, ticket.PriorityScore)
	assert.Equal(t, 0, ticket.Lane)
	assert.Equal(t, "skipped", ticket.WeatherStatus)
	assert.NotZero(t, ticket.Latitude, "missing coordinates anchor to the default city")
	assert.NotEmpty(t, ticket.IncidentID)

	// The delivery job is queued on the ticket's lane.
	require.NotEmpty(t, result.JobID)
	job, err := s.GetDispatchJob(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchQueued, job.State)
	assert.Equal(t, 0, job.Lane)
	assert.NotEmpty(t, job.IdempotencyKey)

	// The incident entered the lifecycle pool.
	inc, err := s.GetIncident(context.Background(), ticket.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, inc.Status)
	assert.Equal(t, "mobile:device-1", inc.ReporterID)
}

func TestIngestReplaysSubmissionKey(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, nil)
	ctx := context.Background()

	sub := Submission{
		SubmissionKey: "key-1",
		Text:          "transformer down, power outage in our colony",
		DeviceID:      "device-1",
		Latitude:      17.40,
		Longitude:     78.48,
	}
	first, err := p.Ingest(ctx, sub)
	require.NoError(t, err)

	second, err := p.Ingest(ctx, sub)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Ticket.ID, second.Ticket.ID)
	assert.Empty(t, second.JobID, "a replay never enqueues another delivery")
}

func TestIngestLaneFromScore(t *testing.T) {
	// Low priority, no density, neutral weather: deep in the p3 band.
	p, _ := newTestPipeline(t, &fakeWeather{report: WeatherReport{Confirmation: 0.5, Status: "live"}}, nil, nil)

	result, err := p.Ingest(context.Background(), Submission{
		SubmissionKey: "key-infra",
		Text:          "transformer down, power outage in our colony",
		DeviceID:      "device-1",
		Latitude:      17.40,
		Longitude:     78.48,
	})
	require.NoError(t, err)

	ticket := result.Ticket
	assert.Equal(t, models.CategoryInfrastructure, ticket.Triage.Category)
	assert.InDelta(t, 30.0, ticket.PriorityScore, 1e-9)
	assert.Equal(t, 3, ticket.Lane)
	assert.Equal(t, "live", ticket.WeatherStatus)
}

func TestIngestPriorityFourNeverBelowLaneOne(t *testing.T) {
	// A lone priority-4 report scores mid-band, but the triage priority
	// still guarantees it the p1 lane.
	p, _ := newTestPipeline(t, &fakeWeather{report: WeatherReport{Confirmation: 0.5, Status: "live"}}, nil, nil)

	result, err := p.Ingest(context.Background(), Submission{
		SubmissionKey: "key-medical",
		Text:          "injured person needs an ambulance",
		DeviceID:      "device-1",
		Latitude:      17.40,
		Longitude:     78.48,
	})
	require.NoError(t, err)

	ticket := result.Ticket
	assert.Equal(t, 4, ticket.Triage.Priority)
	assert.InDelta(t, 50.0, ticket.PriorityScore, 1e-9)
	assert.Equal(t, 1, ticket.Lane)
}

func TestLaneFloors(t *testing.T) {
	assert.Equal(t, 1, laneFor(50, 4, false, false), "priority 4 never rides below p1")
	assert.Equal(t, 2, laneFor(25, 3, false, false), "priority 3 never rides below p2")
	assert.Equal(t, 0, laneFor(95, 3, false, false), "a hot score can still promote")
	assert.Equal(t, 2, laneFor(50, 4, false, true), "duplicates demote after the floor")
	assert.Equal(t, 3, laneFor(10, 2, false, false))
}

func TestIngestCleanCriticalForcesTopLane(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, nil)

	result, err := p.Ingest(context.Background(), Submission{
		SubmissionKey: "key-fire",
		Text:          "massive fire with smoke at the chemical warehouse",
		DeviceID:      "device-2",
		Latitude:      17.44,
		Longitude:     78.35,
	})
	require.NoError(t, err)

	ticket := result.Ticket
	require.Equal(t, 5, ticket.Triage.Priority)
	assert.False(t, ticket.NeedsReview)
	assert.Equal(t, 0, ticket.Lane, "an unflagged priority-5 report always rides p0")
}

func TestIngestFlagsBurstsAndDuplicates(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, &fakeFraud{score: 1})
	ctx := context.Background()

	// Three prior reports from the same device, text and block.
	for i := 0; i < 3; i++ {
		_, err := p.Ingest(ctx, Submission{
			SubmissionKey: fmt.Sprintf("burst-%d", i),
			Text:          "fire here",
			DeviceID:      "device-burst",
			ClientIP:      "10.0.0.9",
			Latitude:      17.40,
			Longitude:     78.48,
		})
		require.NoError(t, err)
	}

	result, err := p.Ingest(ctx, Submission{
		SubmissionKey: "burst-final",
		Text:          "fire here",
		DeviceID:      "device-burst",
		ClientIP:      "10.0.0.9",
		Latitude:      17.40,
		Longitude:     78.48,
	})
	require.NoError(t, err)

	ticket := result.Ticket
	assert.True(t, ticket.LikelyDup, "three nearby recent reports mark a duplicate")
	assert.True(t, ticket.NeedsReview)
	assert.GreaterOrEqual(t, ticket.FraudScore, 0.7)
	assert.Greater(t, ticket.Lane, 0, "a flagged report never rides p0")
}

func TestIngestVoiceUsesTranscript(t *testing.T) {
	p, _ := newTestPipeline(t, nil, &fakeTranscriber{transcript: "flood water entering our house, 4 people"}, nil)

	result, err := p.Ingest(context.Background(), Submission{
		SubmissionKey: "voice-1",
		Audio:         []byte{0x01, 0x02},
		AudioMIME:     "audio/ogg",
		DeviceID:      "device-3",
		Latitude:      17.38,
		Longitude:     78.49,
	})
	require.NoError(t, err)

	ticket := result.Ticket
	assert.Equal(t, ChannelVoice, ticket.Channel)
	assert.Equal(t, "flood water entering our house, 4 people", ticket.Text)
	assert.Equal(t, ticket.Text, ticket.Transcript)
	assert.Equal(t, models.CategoryFloodRescue, ticket.Triage.Category)
}

func TestIngestVoiceTranscriptionFailureFallsBack(t *testing.T) {
	p, _ := newTestPipeline(t, nil, &fakeTranscriber{err: fmt.Errorf("upstream down")}, nil)

	result, err := p.Ingest(context.Background(), Submission{
		SubmissionKey: "voice-2",
		Text:          "flood near the lake",
		Audio:         []byte{0x01},
		DeviceID:      "device-3",
		Latitude:      17.38,
		Longitude:     78.49,
	})
	require.NoError(t, err)
	assert.Equal(t, "flood near the lake", result.Ticket.Text)
	assert.Empty(t, result.Ticket.Transcript)
}

func TestIngestRequiresKeyAndText(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, Submission{Text: "fire", DeviceID: "d"})
	require.Error(t, err)

	_, err = p.Ingest(ctx, Submission{SubmissionKey: "k", DeviceID: "d"})
	require.Error(t, err)
}

func TestFraudScore(t *testing.T) {
	// All heuristics firing plus a maxed model signal saturates near 1.
	score := fraudScore(FraudSignals{SameDevice10m: 3, SameIP10m: 5, SameText24h: 2}, "hi", 1)
	assert.InDelta(t, 1.0, score, 1e-9)

	// A clean, descriptive report scores zero without a model signal.
	score = fraudScore(FraudSignals{}, "flood water rising fast near the old bridge", 0)
	assert.Equal(t, 0.0, score)
}

func TestLowInformation(t *testing.T) {
	assert.True(t, lowInformation("help"))
	assert.True(t, lowInformation("floodwaterhelppleasecome"), "long but single word")
	assert.False(t, lowInformation("flood water rising fast near the old bridge"))
}
