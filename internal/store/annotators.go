package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const annotatorColumns = "id, name, role, is_active, created_at"

func scanAnnotator(scanner rowScanner) (*Annotator, error) {
	var (
		id         int64
		name       string
		role       string
		isActive   sql.NullInt64
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&id, &name, &role, &isActive, &createdRaw); err != nil {
		return nil, err
	}
	return &Annotator{
		ID:        id,
		Name:      name,
		Role:      role,
		IsActive:  isActive.Valid && isActive.Int64 != 0,
		CreatedAt: timeFromColumn(createdRaw),
	}, nil
}

// CreateAnnotator inserts a new annotator.
func (s *Store) CreateAnnotator(ctx context.Context, annotator *Annotator) (*Annotator, error) {
	if annotator == nil {
		return nil, errors.New("annotator is nil")
	}
	role := annotator.Role
	if role == "" {
		role = "annotator"
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO annotators (name, role, is_active, created_at) VALUES (?, ?, ?, ?)`,
		annotator.Name,
		role,
		boolToInt(annotator.IsActive),
		timestamp(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert annotator: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetAnnotator(ctx, id)
}

// GetAnnotator fetches an annotator by identifier. Returns nil when absent.
func (s *Store) GetAnnotator(ctx context.Context, id int64) (*Annotator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annotatorColumns+` FROM annotators WHERE id = ?`, id)
	annotator, err := scanAnnotator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get annotator: %w", err)
	}
	return annotator, nil
}

// ListAnnotators returns all annotators ordered by identifier.
func (s *Store) ListAnnotators(ctx context.Context) ([]*Annotator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+annotatorColumns+` FROM annotators ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list annotators: %w", err)
	}
	defer rows.Close()

	var annotators []*Annotator
	for rows.Next() {
		annotator, err := scanAnnotator(rows)
		if err != nil {
			return nil, err
		}
		annotators = append(annotators, annotator)
	}
	return annotators, rows.Err()
}

// AnnotatorWorkload pairs an annotator with their count of open batches.
type AnnotatorWorkload struct {
	Annotator *Annotator
	OpenCount int
}

// AnnotatorWorkloads returns active annotators sorted by ascending count of
// open (pending or in-progress) human batches, then by id. Auto-assignment
// consumes this ordering directly.
func (s *Store) AnnotatorWorkloads(ctx context.Context) ([]AnnotatorWorkload, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT a.id, a.name, a.role, a.is_active, a.created_at,
                COUNT(b.id) AS open_count
         FROM annotators a
         LEFT JOIN annotation_batches b
             ON b.assigned_to = a.id AND b.status IN (?, ?)
         WHERE a.is_active = 1
         GROUP BY a.id
         ORDER BY open_count ASC, a.id ASC`,
		BatchStatusPending,
		BatchStatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("query annotator workloads: %w", err)
	}
	defer rows.Close()

	var workloads []AnnotatorWorkload
	for rows.Next() {
		var (
			annotator  Annotator
			isActive   sql.NullInt64
			createdRaw sql.NullString
			openCount  int
		)
		if err := rows.Scan(&annotator.ID, &annotator.Name, &annotator.Role, &isActive, &createdRaw, &openCount); err != nil {
			return nil, err
		}
		annotator.IsActive = isActive.Valid && isActive.Int64 != 0
		annotator.CreatedAt = timeFromColumn(createdRaw)
		workloads = append(workloads, AnnotatorWorkload{Annotator: &annotator, OpenCount: openCount})
	}
	return workloads, rows.Err()
}
