package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ForecastID produces a deterministic ID from a forecast's identity tuple.
// Deterministic IDs enable idempotent upserts (ON CONFLICT DO NOTHING) and
// replay safety: reprocessing the same raw record produces the same ID.
func ForecastID(city, gridID string, gridX, gridY int, forecastTime, targetDate time.Time, source string) string {
	input := fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s",
		city, gridID, gridX, gridY,
		forecastTime.UTC().Format(time.RFC3339),
		targetDate.UTC().Format("2006-01-02"),
		source)
	hash := sha256.Sum256([]byte(input))
	return "fc-" + hex.EncodeToString(hash[:8])
}

// ActualID produces a deterministic ID from an observation's identity tuple.
// Corrections keep the same ID: identity is (city, date, source), not payload.
func ActualID(city string, date time.Time, source string) string {
	input := fmt.Sprintf("%s|%s|%s", city, date.UTC().Format("2006-01-02"), source)
	hash := sha256.Sum256([]byte(input))
	return "ob-" + hex.EncodeToString(hash[:8])
}
