// Package archive persists published signals to PostgreSQL for offline
// analysis, off the ingestion hot path.
//
// Writes go through a buffered queue drained by a single worker; a full
// queue drops the oldest-style write (the live log still has the
// signal), so a slow database can never stall a producer.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/metrics"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
)

const (
	queueSize     = 1024
	insertTimeout = 5 * time.Second
)

// Store wraps the archive table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	queue  chan *signal.Signal
	done   chan struct{}
}

// NewStore creates an archive store and starts its writer worker.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	s := &Store{
		db:     db,
		logger: logger,
		queue:  make(chan *signal.Signal, queueSize),
		done:   make(chan struct{}),
	}
	go s.worker()
	return s
}

// Archive enqueues a signal for persistence. Never blocks; when the
// queue is full the write is dropped and counted.
func (s *Store) Archive(ctx context.Context, sig *signal.Signal) {
	select {
	case s.queue <- sig:
	default:
		metrics.ArchiveInsertsTotal.WithLabelValues("dropped").Inc()
		s.logger.Warn("archive queue full, dropping", "signal", sig.ID)
	}
}

// Close drains nothing further and stops the worker.
func (s *Store) Close() {
	close(s.queue)
	<-s.done
}

func (s *Store) worker() {
	defer close(s.done)
	for sig := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := s.insert(ctx, sig); err != nil {
			metrics.ArchiveInsertsTotal.WithLabelValues("error").Inc()
			s.logger.Error("archive insert failed", "signal", sig.ID, "error", err)
		} else {
			metrics.ArchiveInsertsTotal.WithLabelValues("ok").Inc()
		}
		cancel()
	}
}

func (s *Store) insert(ctx context.Context, sig *signal.Signal) error {
	tagsJSON, err := json.Marshal(sig.Tags)
	if err != nil {
		return err
	}
	numericJSON, err := json.Marshal(sig.Numeric)
	if err != nil {
		return err
	}
	var impactJSON, patternJSON []byte
	if sig.Impact != nil {
		if impactJSON, err = json.Marshal(sig.Impact); err != nil {
			return err
		}
	}
	if sig.Pattern != nil {
		if patternJSON, err = json.Marshal(sig.Pattern); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signal_archive (
			id, kind, sub_type, ts, summary, tags, numeric_fields,
			source_addr, destination_addr, issuer_addr,
			execution_score, impact, pattern
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, sig.ID, string(sig.Kind), sig.SubType, sig.Timestamp, sig.Summary,
		tagsJSON, numericJSON,
		sig.Addresses.Source, sig.Addresses.Destination, sig.Addresses.Issuer,
		sig.ExecutionScore, nullable(impactJSON), nullable(patternJSON))
	return err
}

// Recent returns the most recently archived signals, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*signal.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, sub_type, ts, summary, tags, numeric_fields,
		       source_addr, destination_addr, issuer_addr,
		       execution_score, impact, pattern
		FROM signal_archive ORDER BY ts DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*signal.Signal
	for rows.Next() {
		sig := &signal.Signal{}
		var kind, subType, summary, source, dest, issuer sql.NullString
		var tagsJSON, numericJSON []byte
		var impactJSON, patternJSON []byte

		if err := rows.Scan(
			&sig.ID, &kind, &subType, &sig.Timestamp, &summary,
			&tagsJSON, &numericJSON, &source, &dest, &issuer,
			&sig.ExecutionScore, &impactJSON, &patternJSON,
		); err != nil {
			return nil, err
		}
		sig.Kind = signal.Kind(kind.String)
		sig.SubType = subType.String
		sig.Summary = summary.String
		sig.Addresses.Source = source.String
		sig.Addresses.Destination = dest.String
		sig.Addresses.Issuer = issuer.String

		sig.Tags = signal.NewTagSet()
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, sig.Tags); err != nil {
				return nil, err
			}
		}
		if len(numericJSON) > 0 {
			if err := json.Unmarshal(numericJSON, &sig.Numeric); err != nil {
				return nil, err
			}
		}
		if len(impactJSON) > 0 {
			sig.Impact = &signal.Impact{}
			if err := json.Unmarshal(impactJSON, sig.Impact); err != nil {
				return nil, err
			}
		}
		if len(patternJSON) > 0 {
			sig.Pattern = &signal.PatternMeta{}
			if err := json.Unmarshal(patternJSON, sig.Pattern); err != nil {
				return nil, err
			}
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
