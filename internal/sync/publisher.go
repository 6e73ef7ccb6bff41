package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Message is the body posted for each FinalGradeComputed event.
type Message struct {
	Seq         int64           `json:"seq"`
	SiteID      string          `json:"site_id"`
	Type        string          `json:"type"`
	Grade       json.RawMessage `json:"grade"`
	PublishedAt time.Time       `json:"published_at"`
}

// Publisher forwards final grades from event_log to a Poster, at least once,
// in seq order. Its position is kept in sync_cursor under Name.
type Publisher struct {
	Events *EventRepo
	Poster Poster
	Name   string
	Batch  int
	Log    *zap.Logger
	Now    func() time.Time
}

func NewPublisher(events *EventRepo, poster Poster, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		Events: events,
		Poster: poster,
		Name:   "transcript",
		Batch:  200,
		Log:    log.Named("publisher"),
		Now:    time.Now,
	}
}

// Cursor returns the last seq handed to the Poster, 0 if none.
func (p *Publisher) Cursor(ctx context.Context) (int64, error) {
	var seq int64
	err := p.Events.db.QueryRowContext(ctx,
		`SELECT seq FROM sync_cursor WHERE name = $1`, p.Name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// LastError returns the failure recorded by the previous Drain, if any.
func (p *Publisher) LastError(ctx context.Context) (string, error) {
	var msg sql.NullString
	err := p.Events.db.QueryRowContext(ctx,
		`SELECT last_error FROM sync_cursor WHERE name = $1`, p.Name).Scan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return msg.String, err
}

func (p *Publisher) advance(ctx context.Context, seq int64) error {
	_, err := p.Events.db.ExecContext(ctx, `
		INSERT INTO sync_cursor (name, seq, last_error, updated_at) VALUES ($1,$2,NULL,$3)
		ON CONFLICT (name) DO UPDATE SET
		  seq = excluded.seq, last_error = NULL, updated_at = excluded.updated_at`,
		p.Name, seq, p.Now().UnixMilli())
	return err
}

func (p *Publisher) fail(ctx context.Context, cause error) {
	_, err := p.Events.db.ExecContext(ctx, `
		INSERT INTO sync_cursor (name, seq, last_error, updated_at) VALUES ($1,0,$2,$3)
		ON CONFLICT (name) DO UPDATE SET
		  last_error = excluded.last_error, updated_at = excluded.updated_at`,
		p.Name, cause.Error(), p.Now().UnixMilli())
	if err != nil {
		p.Log.Warn("record publish failure", zap.Error(err))
	}
}

// Drain posts every pending grade and returns how many were delivered.
// It stops at the first delivery failure; the cursor stays on the last success.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	after, err := p.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	sent := 0
	for {
		events, err := p.Events.Since(ctx, after, p.Batch)
		if err != nil {
			return sent, fmt.Errorf("read events: %w", err)
		}
		if len(events) == 0 {
			return sent, nil
		}
		for _, ev := range events {
			if ev.Type == TypeFinalGradeComputed {
				body, err := json.Marshal(Message{
					Seq: ev.Seq, SiteID: ev.SiteID, Type: ev.Type,
					Grade: ev.Data, PublishedAt: p.Now().UTC(),
				})
				if err != nil {
					return sent, err
				}
				if err := p.Poster.Post(ctx, body); err != nil {
					p.fail(ctx, err)
					return sent, fmt.Errorf("publish seq %d: %w", ev.Seq, err)
				}
				sent++
			}
			if err := p.advance(ctx, ev.Seq); err != nil {
				return sent, fmt.Errorf("advance cursor: %w", err)
			}
			after = ev.Seq
		}
	}
}

// Run drains every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = 30 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		n, err := p.Drain(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			p.Log.Warn("publish grades", zap.Error(err), zap.Int("sent", n))
		case n > 0:
			p.Log.Info("published grades", zap.Int("sent", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
