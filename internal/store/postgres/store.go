// Package postgres keeps agent state in a shared database, for kiosk
// deployments where several workstations run the agent against one
// operator account.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"blinkd/internal/domain"
	"blinkd/internal/store"
)

const tokenKey = "access_token"

type Store struct {
	db *sql.DB
}

func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		create table if not exists agent_state (
			key   text primary key,
			value text not null
		);
		create table if not exists pending_blinks (
			id          bigserial primary key,
			blink_count integer not null,
			ts          text not null default ''
		)`)
	return err
}

func (s *Store) LoadQueue() ([]domain.BlinkRecord, int, error) {
	rows, err := s.db.Query(`select blink_count, ts from pending_blinks order by id`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []domain.BlinkRecord
	for rows.Next() {
		var rec domain.BlinkRecord
		if err := rows.Scan(&rec.BlinkCount, &rec.Timestamp); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, 0, rows.Err()
}

// SaveQueue rewrites the whole queue so the table always mirrors the
// in-memory sequence.
func (s *Store) SaveQueue(records []domain.BlinkRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`delete from pending_blinks`); err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := tx.Exec(
			`insert into pending_blinks(blink_count, ts) values ($1, $2)`,
			rec.BlinkCount, rec.Timestamp,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadToken() (string, error) {
	var token string
	err := s.db.QueryRow(`select value from agent_state where key = $1`, tokenKey).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	if token == "" {
		return "", store.ErrNotFound
	}
	return token, nil
}

func (s *Store) SaveToken(token string) error {
	_, err := s.db.Exec(
		`insert into agent_state(key, value) values ($1, $2)
		 on conflict (key) do update set value = excluded.value`,
		tokenKey, token,
	)
	return err
}

func (s *Store) DeleteToken() error {
	_, err := s.db.Exec(`delete from agent_state where key = $1`, tokenKey)
	return err
}
