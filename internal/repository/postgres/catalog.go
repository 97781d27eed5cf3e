package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/repository"
)

type CatalogRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CatalogRepo) With(db DB) *CatalogRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CatalogRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// CreateCompetition records a newly opened competition.
//
// Returns:
//   - error: repository.ErrConflict if the competition already exists.
func (r *CatalogRepo) CreateCompetition(ctx context.Context, space domain.NumberSpace) error {
	const op = "postgres.CatalogRepo.CreateCompetition"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO competitions(id, total_tickets, numbers_per_order, status)
       	 VALUES ($1, $2, $3, 'open')`,
		space.CompetitionID, space.TotalTickets, space.NumbersPerOrder,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// InitTicketSlots seeds one free row per ticket number of the competition.
func (r *CatalogRepo) InitTicketSlots(ctx context.Context, space domain.NumberSpace) error {
	const op = "postgres.CatalogRepo.InitTicketSlots"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO ticket_slots(competition_id, number, state)
       	 SELECT $1, n, 'free' FROM generate_series(1, $2) AS n`,
		space.CompetitionID, space.TotalTickets,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ArchiveCompetition marks the competition archived and drops its holds.
// Purchased slot rows stay for the competition's records.
//
// Returns:
//   - error: repository.ErrNotFound if the competition is not open.
func (r *CatalogRepo) ArchiveCompetition(ctx context.Context, competitionID int64) error {
	const op = "postgres.CatalogRepo.ArchiveCompetition"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE competitions SET status = 'archived'
      	 WHERE id = $1 AND status = 'open'`,
		competitionID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	if _, err := db.Exec(ctx,
		`DELETE FROM holds WHERE competition_id = $1`,
		competitionID,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if _, err := db.Exec(ctx,
		`UPDATE ticket_slots
        	SET state = 'free', holder_id = NULL, hold_id = NULL, held_at = NULL
      	 WHERE competition_id = $1 AND state = 'held'`,
		competitionID,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ListOpen lists all competitions open for sale; used by the startup restore.
func (r *CatalogRepo) ListOpen(ctx context.Context) ([]domain.NumberSpace, error) {
	const op = "postgres.CatalogRepo.ListOpen"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, total_tickets, numbers_per_order
       	 FROM competitions
      	 WHERE status = 'open'
      	 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.NumberSpace
	for rows.Next() {
		var ns domain.NumberSpace
		if err := rows.Scan(&ns.CompetitionID, &ns.TotalTickets, &ns.NumbersPerOrder); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
