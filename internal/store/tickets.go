package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
)

const ticketColumns = `id, submission_key, channel, text, transcript, device_id, client_ip,
	latitude, longitude, category, priority, urgency, people_count, required_skills, division,
	confidence, triage_source, weather_score, weather_status, density_score, likely_dup,
	fraud_score, needs_review, priority_score, lane, incident_id, created_at`

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var (
		t         models.Ticket
		skills    string
		likelyDup int
		review    int
		createdAt int64
	)
	err := row.Scan(
		&t.ID, &t.SubmissionKey, &t.Channel, &t.Text, &t.Transcript, &t.DeviceID, &t.ClientIP,
		&t.Latitude, &t.Longitude, &t.Triage.Category, &t.Triage.Priority, &t.Triage.Urgency,
		&t.Triage.PeopleCount, &skills, &t.Triage.Division, &t.Triage.Confidence, &t.Triage.Source,
		&t.WeatherScore, &t.WeatherStatus, &t.DensityScore, &likelyDup,
		&t.FraudScore, &review, &t.PriorityScore, &t.Lane, &t.IncidentID, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	t.Triage.RequiredSkills = decodeStrings(skills)
	t.LikelyDup = likelyDup != 0
	t.NeedsReview = review != 0
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

// InsertTicketTx persists a ticket inside the caller's transaction. A
// duplicate submission key reports a conflict so callers can replay the
// original.
func InsertTicketTx(tx *sql.Tx, t *models.Ticket) error {
	_, err := tx.Exec(`
		INSERT INTO tickets (id, submission_key, channel, text, transcript, device_id, client_ip,
			latitude, longitude, category, priority, urgency, people_count, required_skills, division,
			confidence, triage_source, weather_score, weather_status, density_score, likely_dup,
			fraud_score, needs_review, priority_score, lane, incident_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SubmissionKey, t.Channel, t.Text, t.Transcript, t.DeviceID, t.ClientIP,
		t.Latitude, t.Longitude, t.Triage.Category, t.Triage.Priority, t.Triage.Urgency,
		t.Triage.PeopleCount, encodeStrings(t.Triage.RequiredSkills), t.Triage.Division,
		t.Triage.Confidence, t.Triage.Source, t.WeatherScore, t.WeatherStatus, t.DensityScore,
		boolInt(t.LikelyDup), t.FraudScore, boolInt(t.NeedsReview), t.PriorityScore, t.Lane,
		t.IncidentID, t.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.Conflict("insert_ticket", t.SubmissionKey, fmt.Errorf("submission already ingested"))
		}
		return fmt.Errorf("insert ticket %s: %w", t.ID, err)
	}
	return nil
}

// GetTicket loads a ticket by ID.
func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_ticket", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return t, nil
}

// GetTicketBySubmissionKeyTx resolves an idempotent replay.
func GetTicketBySubmissionKeyTx(tx *sql.Tx, key string) (*models.Ticket, error) {
	row := tx.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE submission_key = ?`, key)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_ticket_by_key", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket by key: %w", err)
	}
	return t, nil
}

// ListTickets returns recent tickets, newest first.
func (s *Store) ListTickets(ctx context.Context, limit int) (tickets []*models.Ticket, err error) {
	if limit <= 0 {
		limit = 200
	}
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		t, scanErr := scanTicket(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan ticket: %w", scanErr)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, err
}

// NearbyTicketCountTx counts recent tickets near a point, used for
// duplicate-density scoring. Uses a bounding box; the caller refines with
// true distance if it needs to.
func NearbyTicketCountTx(tx *sql.Tx, lat, lon, radiusM float64, since time.Time) (int, error) {
	// Approximate degrees per meter; good enough at Telangana latitudes.
	latDelta := radiusM / 111_000.0
	lonDelta := radiusM / 102_000.0

	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM tickets
		WHERE created_at >= ?
		  AND latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?`,
		since.Unix(), lat-latDelta, lat+latDelta, lon-lonDelta, lon+lonDelta).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count nearby tickets: %w", err)
	}
	return n, nil
}

// SubmissionCountsTx returns the fraud-heuristic counters for a device,
// IP and exact text within their respective windows.
func SubmissionCountsTx(tx *sql.Tx, deviceID, clientIP, text string, now time.Time) (device, ip, sameText int, err error) {
	shortWindow := now.Add(-10 * time.Minute).Unix()
	dayWindow := now.Add(-24 * time.Hour).Unix()

	if deviceID != "" {
		if err = tx.QueryRow(`SELECT COUNT(*) FROM tickets WHERE device_id = ? AND created_at >= ?`,
			deviceID, shortWindow).Scan(&device); err != nil {
			return 0, 0, 0, fmt.Errorf("count device submissions: %w", err)
		}
	}
	if clientIP != "" {
		if err = tx.QueryRow(`SELECT COUNT(*) FROM tickets WHERE client_ip = ? AND created_at >= ?`,
			clientIP, shortWindow).Scan(&ip); err != nil {
			return 0, 0, 0, fmt.Errorf("count ip submissions: %w", err)
		}
	}
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		if err = tx.QueryRow(`SELECT COUNT(*) FROM tickets WHERE text = ? AND created_at >= ?`,
			trimmed, dayWindow).Scan(&sameText); err != nil {
			return 0, 0, 0, fmt.Errorf("count identical submissions: %w", err)
		}
	}
	return device, ip, sameText, nil
}
