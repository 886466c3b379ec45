package mobile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegishub/aegishub-go/internal/logging"
)

const (
	openMeteoURL      = "https://api.open-meteo.com/v1/forecast"
	weatherTimeout    = 4 * time.Second
	weatherCacheTTL   = 10 * time.Minute
	weatherMaxPayload = 1 << 18
)

// WeatherReport is the verification outcome for one submission.
type WeatherReport struct {
	Relevant     bool    `json:"weather_relevant"`
	Confirmation float64 `json:"confirmation_score"`
	Status       string  `json:"status"` // "live", "cached", "skipped", "unavailable_fallback"
	RainMM       float64 `json:"rain_mm"`
	Precipitation float64 `json:"precipitation_mm"`
	WeatherCode  int     `json:"weather_code"`
}

// WeatherVerifier cross-checks weather-related reports against current
// conditions. Tests substitute a fake.
type WeatherVerifier interface {
	Verify(ctx context.Context, lat, lon float64, category, text string) WeatherReport
}

type conditions struct {
	Rain          float64
	Precipitation float64
	Code          int
}

type cacheEntry struct {
	expiresAt time.Time
	value     conditions
}

// OpenMeteoVerifier fetches current conditions from open-meteo with a
// short per-coordinate cache so a burst of reports from one neighbourhood
// costs one upstream call.
type OpenMeteoVerifier struct {
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewOpenMeteoVerifier builds the live verifier.
func NewOpenMeteoVerifier(baseURL string) *OpenMeteoVerifier {
	if baseURL == "" {
		baseURL = openMeteoURL
	}
	return &OpenMeteoVerifier{
		client:  &http.Client{Timeout: weatherTimeout},
		baseURL: baseURL,
		logger:  logging.Component("weather"),
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

var weatherKeywords = []string{
	"flood", "rain", "storm", "cyclone", "weather",
	"landslide", "water logging", "cloudburst",
}

func weatherRelated(category, text string) bool {
	merged := strings.ToLower(category + " " + text)
	for _, kw := range weatherKeywords {
		if strings.Contains(merged, kw) {
			return true
		}
	}
	return false
}

// Verify implements WeatherVerifier.
func (v *OpenMeteoVerifier) Verify(ctx context.Context, lat, lon float64, category, text string) WeatherReport {
	if !weatherRelated(category, text) {
		return WeatherReport{Relevant: false, Confirmation: 0.5, Status: "skipped"}
	}

	cond, err := v.fetch(ctx, lat, lon)
	if err == nil {
		v.writeCache(lat, lon, cond)
		return report(cond, "live")
	}

	if cached, ok := v.readCache(lat, lon); ok {
		v.logger.Debug().Err(err).Msg("Weather fetch failed, serving cached conditions")
		return report(cached, "cached")
	}

	v.logger.Warn().Err(err).Msg("Weather fetch failed with no cache, using neutral score")
	return WeatherReport{Relevant: true, Confirmation: 0.5, Status: "unavailable_fallback"}
}

func report(cond conditions, status string) WeatherReport {
	return WeatherReport{
		Relevant:      true,
		Confirmation:  confirmationScore(cond),
		Status:        status,
		RainMM:        cond.Rain,
		Precipitation: cond.Precipitation,
		WeatherCode:   cond.Code,
	}
}

// severeCodes are WMO weather codes for rain, showers and thunderstorms.
var severeCodes = map[int]bool{
	61: true, 63: true, 65: true,
	80: true, 81: true, 82: true,
	95: true, 96: true, 99: true,
}

func confirmationScore(cond conditions) float64 {
	if cond.Rain >= 2.0 || cond.Precipitation >= 3.0 || severeCodes[cond.Code] {
		return 1.0
	}
	if cond.Rain > 0 || cond.Precipitation > 0 {
		return 0.6
	}
	return 0.0
}

func (v *OpenMeteoVerifier) fetch(ctx context.Context, lat, lon float64) (conditions, error) {
	query := url.Values{
		"latitude":  []string{fmt.Sprintf("%.4f", lat)},
		"longitude": []string{fmt.Sprintf("%.4f", lon)},
		"current":   []string{"rain,precipitation,weather_code"},
		"timezone":  []string{"auto"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return conditions{}, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return conditions{}, fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return conditions{}, fmt.Errorf("weather api returned status %d", resp.StatusCode)
	}

	var payload struct {
		Current struct {
			Rain          float64 `json:"rain"`
			Precipitation float64 `json:"precipitation"`
			WeatherCode   int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, weatherMaxPayload)).Decode(&payload); err != nil {
		return conditions{}, fmt.Errorf("decode weather response: %w", err)
	}
	return conditions{
		Rain:          payload.Current.Rain,
		Precipitation: payload.Current.Precipitation,
		Code:          payload.Current.WeatherCode,
	}, nil
}

// Coordinates round to two decimals (~1 km) for cache keys.
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f:%.2f", lat, lon)
}

func (v *OpenMeteoVerifier) readCache(lat, lon float64) (conditions, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.cache[cacheKey(lat, lon)]
	if !ok {
		return conditions{}, false
	}
	if entry.expiresAt.Before(v.now()) {
		delete(v.cache, cacheKey(lat, lon))
		return conditions{}, false
	}
	return entry.value, true
}

func (v *OpenMeteoVerifier) writeCache(lat, lon float64, cond conditions) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[cacheKey(lat, lon)] = cacheEntry{
		expiresAt: v.now().Add(weatherCacheTTL),
		value:     cond,
	}
}
