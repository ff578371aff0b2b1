package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/avreports/dbopen"
)

const accidentColumns = `entry_key, fingerprint, manufacturer, vehicle_year, vehicle_make,
	vehicle_model, incident_at, location_address, city, county, intersection_type,
	damage_severity, damage_areas, casualties, av_mode, weather, narrative, raw_text,
	sections_json, completeness, failure_class, parse_error, vocabulary_version, parsed_at`

// RecordOutcome writes the accident record for a.EntryKey, replacing any
// previous record for the entry, and moves the entry to status in the same
// transaction, counting the attempt.
func (s *Store) RecordOutcome(ctx context.Context, a *Accident, status, lastError string, now int64) error {
	query, args, err := accidentUpsert(a)
	if err != nil {
		return err
	}
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE index_entries SET status=?, last_error=?, attempts=attempts+1, updated_at=?
			WHERE entry_key=?`, status, lastError, now, a.EntryKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: record outcome %s: %w", a.EntryKey, err)
	}
	return nil
}

func accidentUpsert(a *Accident) (string, []any, error) {
	areas := a.DamageAreas
	if areas == nil {
		areas = []string{}
	}
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return "", nil, fmt.Errorf("store: marshal damage areas: %w", err)
	}
	return `INSERT INTO accident_records (` + accidentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_key) DO UPDATE SET
			fingerprint=excluded.fingerprint, manufacturer=excluded.manufacturer,
			vehicle_year=excluded.vehicle_year, vehicle_make=excluded.vehicle_make,
			vehicle_model=excluded.vehicle_model, incident_at=excluded.incident_at,
			location_address=excluded.location_address, city=excluded.city,
			county=excluded.county, intersection_type=excluded.intersection_type,
			damage_severity=excluded.damage_severity, damage_areas=excluded.damage_areas,
			casualties=excluded.casualties, av_mode=excluded.av_mode, weather=excluded.weather,
			narrative=excluded.narrative, raw_text=excluded.raw_text,
			sections_json=excluded.sections_json, completeness=excluded.completeness,
			failure_class=excluded.failure_class, parse_error=excluded.parse_error,
			vocabulary_version=excluded.vocabulary_version, parsed_at=excluded.parsed_at`,
		[]any{
			a.EntryKey, a.Fingerprint, a.Manufacturer, a.VehicleYear, a.VehicleMake,
			a.VehicleModel, a.IncidentAt, a.LocationAddress, a.City, a.County, a.IntersectionType,
			a.DamageSeverity, string(areasJSON), a.Casualties, a.AVMode, a.Weather, a.Narrative,
			a.RawText, a.SectionsJSON, a.Completeness, a.FailureClass, a.ParseError,
			a.VocabularyVersion, a.ParsedAt,
		}, nil
}

// GetAccident returns the accident record for an entry, or nil.
func (s *Store) GetAccident(ctx context.Context, entryKey string) (*Accident, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+accidentColumns+` FROM accident_records WHERE entry_key = ?`, entryKey)
	return scanAccident(row)
}

func scanAccident(row rowScanner) (*Accident, error) {
	var a Accident
	var areas string
	err := row.Scan(
		&a.EntryKey, &a.Fingerprint, &a.Manufacturer, &a.VehicleYear, &a.VehicleMake,
		&a.VehicleModel, &a.IncidentAt, &a.LocationAddress, &a.City, &a.County,
		&a.IntersectionType, &a.DamageSeverity, &areas, &a.Casualties, &a.AVMode,
		&a.Weather, &a.Narrative, &a.RawText, &a.SectionsJSON, &a.Completeness,
		&a.FailureClass, &a.ParseError, &a.VocabularyVersion, &a.ParsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan accident: %w", err)
	}
	if err := json.Unmarshal([]byte(areas), &a.DamageAreas); err != nil {
		return nil, fmt.Errorf("scan accident %s: damage areas: %w", a.EntryKey, err)
	}
	return &a, nil
}
