// Package store persists tournaments and their schedules in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a tournament does not exist.
var ErrNotFound = errors.New("not found")

// DBConfig holds PostgreSQL connection settings read from environment variables.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DBConfigFromEnv reads the DB_* variables with local development defaults.
func DBConfigFromEnv() DBConfig {
	return DBConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		DBName:   getEnv("DB_NAME", "cricsched"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DSN builds a libpq-compatible connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// NewPool creates and pings a connection pool, retrying while the database
// starts up.
func NewPool(ctx context.Context, cfg DBConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	const attempts = 5
	var pool *pgxpool.Pool
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		logger.Warn("database connect failed",
			zap.Int("attempt", attempt), zap.Int("of", attempts), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to postgres: %w", err)
}

const schema = `
CREATE TABLE IF NOT EXISTS tournaments (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	settings    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS teams (
	id             TEXT NOT NULL,
	tournament_id  TEXT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	code           TEXT NOT NULL,
	position       INT NOT NULL,
	PRIMARY KEY (tournament_id, id)
);
CREATE TABLE IF NOT EXISTS venues (
	id             TEXT NOT NULL,
	tournament_id  TEXT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	city           TEXT NOT NULL DEFAULT '',
	day_window     JSONB,
	reservations   JSONB NOT NULL DEFAULT '[]',
	position       INT NOT NULL,
	PRIMARY KEY (tournament_id, id)
);
CREATE TABLE IF NOT EXISTS matches (
	id              UUID PRIMARY KEY,
	tournament_id   TEXT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
	match_number    INT NOT NULL,
	round           INT NOT NULL,
	round_label     TEXT NOT NULL,
	home_team_id    TEXT,
	away_team_id    TEXT,
	home_label      TEXT NOT NULL,
	away_label      TEXT NOT NULL,
	venue_id        TEXT NOT NULL,
	starts_at       TIMESTAMPTZ NOT NULL,
	ends_at         TIMESTAMPTZ NOT NULL,
	provisional     BOOLEAN NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (tournament_id, match_number)
);
`

// Store handles persistence for tournaments and matches.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateTournament stores a tournament with its teams and venues and returns
// its generated ID.
func (s *Store) CreateTournament(ctx context.Context, cfg *config.Config) (string, error) {
	settings, err := json.Marshal(tournamentSettings{Tournament: cfg.Tournament, Engine: cfg.Engine})
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}

	id := uuid.New().String()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO tournaments (id, name, settings) VALUES ($1, $2, $3)`,
		id, cfg.Tournament.Name, settings,
	); err != nil {
		return "", fmt.Errorf("insert tournament: %w", err)
	}

	for i, t := range cfg.Teams {
		if _, err := tx.Exec(ctx,
			`INSERT INTO teams (id, tournament_id, name, code, position) VALUES ($1, $2, $3, $4, $5)`,
			t.ID, id, t.Name, t.Code, i,
		); err != nil {
			return "", fmt.Errorf("insert team %s: %w", t.ID, err)
		}
	}

	for i, v := range cfg.Venues {
		var window []byte
		if v.DayWindow != nil {
			if window, err = json.Marshal(v.DayWindow); err != nil {
				return "", fmt.Errorf("encode venue window: %w", err)
			}
		}
		reservations, err := json.Marshal(nonNil(v.Reservations))
		if err != nil {
			return "", fmt.Errorf("encode reservations: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO venues (id, tournament_id, name, city, day_window, reservations, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			v.ID, id, v.Name, v.City, window, reservations, i,
		); err != nil {
			return "", fmt.Errorf("insert venue %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

type tournamentSettings struct {
	Tournament config.Tournament `json:"tournament"`
	Engine     config.Engine     `json:"engine"`
}

func nonNil(r []config.Reservation) []config.Reservation {
	if r == nil {
		return []config.Reservation{}
	}
	return r
}

// LoadTournament returns the stored tournament as a config, or ErrNotFound.
func (s *Store) LoadTournament(ctx context.Context, id string) (*config.Config, error) {
	var settings []byte
	err := s.db.QueryRow(ctx, `SELECT settings FROM tournaments WHERE id = $1`, id).Scan(&settings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tournament: %w", err)
	}
	var ts tournamentSettings
	if err := json.Unmarshal(settings, &ts); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	cfg := &config.Config{Tournament: ts.Tournament, Engine: ts.Engine}

	rows, err := s.db.Query(ctx,
		`SELECT id, name, code FROM teams WHERE tournament_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	for rows.Next() {
		var t config.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Code); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan team: %w", err)
		}
		cfg.Teams = append(cfg.Teams, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	rows, err = s.db.Query(ctx,
		`SELECT id, name, city, day_window, reservations FROM venues WHERE tournament_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v config.Venue
		var window, reservations []byte
		if err := rows.Scan(&v.ID, &v.Name, &v.City, &window, &reservations); err != nil {
			return nil, fmt.Errorf("scan venue: %w", err)
		}
		if len(window) > 0 {
			v.DayWindow = &config.Window{}
			if err := json.Unmarshal(window, v.DayWindow); err != nil {
				return nil, fmt.Errorf("decode venue window: %w", err)
			}
		}
		if err := json.Unmarshal(reservations, &v.Reservations); err != nil {
			return nil, fmt.Errorf("decode reservations: %w", err)
		}
		cfg.Venues = append(cfg.Venues, v)
	}
	return cfg, rows.Err()
}

// Match is a persisted scheduled match.
type Match struct {
	ID           string    `json:"id"`
	TournamentID string    `json:"tournament_id"`
	Number       int       `json:"match_number"`
	Round        int       `json:"round"`
	RoundLabel   string    `json:"round_label"`
	HomeTeamID   *string   `json:"home_team_id"`
	AwayTeamID   *string   `json:"away_team_id"`
	Home         string    `json:"home"`
	Away         string    `json:"away"`
	VenueID      string    `json:"venue_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Provisional  bool      `json:"provisional"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewMatches converts engine output into rows with fresh IDs.
func NewMatches(tournamentID string, matches []schedule.Match, now time.Time) []Match {
	out := make([]Match, len(matches))
	for i, m := range matches {
		out[i] = Match{
			ID:           uuid.New().String(),
			TournamentID: tournamentID,
			Number:       m.Number,
			Round:        m.Fixture.Round,
			RoundLabel:   m.Fixture.RoundLabel,
			Home:         m.Fixture.Home.Label(),
			Away:         m.Fixture.Away.Label(),
			VenueID:      m.Slot.VenueID,
			StartsAt:     m.Slot.Start,
			EndsAt:       m.Slot.End,
			Provisional:  m.Provisional,
			CreatedAt:    now,
		}
		if m.Fixture.Home.Resolved() {
			id := m.Fixture.Home.Team.ID
			out[i].HomeTeamID = &id
		}
		if m.Fixture.Away.Resolved() {
			id := m.Fixture.Away.Team.ID
			out[i].AwayTeamID = &id
		}
	}
	return out
}

// ReplaceMatches deletes any existing schedule for the tournament and inserts
// the new one in a single transaction.
func (s *Store) ReplaceMatches(ctx context.Context, tournamentID string, matches []schedule.Match) ([]Match, error) {
	rows := NewMatches(tournamentID, matches, time.Now().UTC())

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked string
	if err := tx.QueryRow(ctx,
		`SELECT id FROM tournaments WHERE id = $1 FOR UPDATE`, tournamentID,
	).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock tournament: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM matches WHERE tournament_id = $1`, tournamentID); err != nil {
		return nil, fmt.Errorf("delete matches: %w", err)
	}

	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(
			`INSERT INTO matches (id, tournament_id, match_number, round, round_label,
			   home_team_id, away_team_id, home_label, away_label, venue_id,
			   starts_at, ends_at, provisional, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			m.ID, m.TournamentID, m.Number, m.Round, m.RoundLabel,
			m.HomeTeamID, m.AwayTeamID, m.Home, m.Away, m.VenueID,
			m.StartsAt, m.EndsAt, m.Provisional, m.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert matches: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rows, nil
}

// ListMatches returns a tournament's matches in match number order.
func (s *Store) ListMatches(ctx context.Context, tournamentID string) ([]Match, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tournaments WHERE id = $1)`, tournamentID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("get tournament: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, tournament_id, match_number, round, round_label, home_team_id, away_team_id,
		        home_label, away_label, venue_id, starts_at, ends_at, provisional, created_at
		 FROM matches
		 WHERE tournament_id = $1
		 ORDER BY match_number`,
		tournamentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.TournamentID, &m.Number, &m.Round, &m.RoundLabel,
			&m.HomeTeamID, &m.AwayTeamID, &m.Home, &m.Away, &m.VenueID,
			&m.StartsAt, &m.EndsAt, &m.Provisional, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ClearMatches deletes a tournament's schedule and reports how many matches
// were removed.
func (s *Store) ClearMatches(ctx context.Context, tournamentID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM matches WHERE tournament_id = $1`, tournamentID)
	if err != nil {
		return 0, fmt.Errorf("delete matches: %w", err)
	}
	return tag.RowsAffected(), nil
}
