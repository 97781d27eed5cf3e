package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/repository"
)

// InventoryRepo persists the durable image of the in-memory ledgers: one
// row per ticket slot plus one row per active hold (see docs in DESIGN.md).
// The in-memory ledger stays authoritative for availability decisions; these
// rows exist so a restart can rebuild it.
type InventoryRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *InventoryRepo) With(db DB) *InventoryRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *InventoryRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// SaveHold records a freshly created hold and marks its slots held.
func (r *InventoryRepo) SaveHold(ctx context.Context, hold domain.Hold) error {
	const op = "postgres.InventoryRepo.SaveHold"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO holds(id, competition_id, holder_id, numbers, created_at, expires_at)
       	 VALUES ($1, $2, $3, $4, $5, $6)
       	 ON CONFLICT (id) DO NOTHING`,
		hold.ID, hold.CompetitionID, hold.HolderID, hold.Numbers, hold.CreatedAt, hold.ExpiresAt,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if _, err := db.Exec(ctx,
		`UPDATE ticket_slots
        	SET state = 'held', holder_id = $3, hold_id = $4, held_at = $5
      	 WHERE competition_id = $1 AND number = ANY($2)`,
		hold.CompetitionID, hold.Numbers, hold.HolderID, hold.ID, hold.CreatedAt,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// DeleteHold removes a hold and frees its slots. Idempotent like the
// in-memory release: deleting an absent hold is not an error.
func (r *InventoryRepo) DeleteHold(ctx context.Context, holdID uuid.UUID) error {
	const op = "postgres.InventoryRepo.DeleteHold"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE ticket_slots
        	SET state = 'free', holder_id = NULL, hold_id = NULL, held_at = NULL
      	 WHERE hold_id = $1 AND state = 'held'`,
		holdID,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if _, err := db.Exec(ctx, `DELETE FROM holds WHERE id = $1`, holdID); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// RenewHold moves a hold's expiry.
//
// Returns:
//   - error: repository.ErrNotFound if the hold row is gone.
func (r *InventoryRepo) RenewHold(ctx context.Context, holdID uuid.UUID, expiresAt time.Time) error {
	const op = "postgres.InventoryRepo.RenewHold"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE holds SET expires_at = $2 WHERE id = $1`,
		holdID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// MarkPurchased flips the hold's slots to purchased and drops the hold row.
func (r *InventoryRepo) MarkPurchased(ctx context.Context, hold domain.Hold, purchasedAt time.Time) error {
	const op = "postgres.InventoryRepo.MarkPurchased"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE ticket_slots
        	SET state = 'purchased', hold_id = NULL, held_at = NULL, purchased_at = $2
      	 WHERE hold_id = $1`,
		hold.ID, purchasedAt,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if _, err := db.Exec(ctx, `DELETE FROM holds WHERE id = $1`, hold.ID); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// SweepExpired frees every slot held by a lapsed hold and deletes the hold
// rows. Mirrors what the reaper does in memory.
func (r *InventoryRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "postgres.InventoryRepo.SweepExpired"

	db := r.handle()

	var released int64
	tag, err := db.Exec(ctx,
		`UPDATE ticket_slots ts
        	SET state = 'free', holder_id = NULL, hold_id = NULL, held_at = NULL
       	 FROM holds h
      	 WHERE ts.hold_id = h.id AND h.expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	released += tag.RowsAffected()

	if _, err := db.Exec(ctx, `DELETE FROM holds WHERE expires_at <= $1`, now); err != nil {
		return released, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return released, nil
}

// LoadState reads the persisted slots and active holds of a competition for
// the startup restore.
func (r *InventoryRepo) LoadState(
	ctx context.Context,
	competitionID int64,
) ([]domain.TicketSlot, []domain.Hold, error) {
	const op = "postgres.InventoryRepo.LoadState"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT number, state, COALESCE(holder_id, 0), COALESCE(hold_id, '00000000-0000-0000-0000-000000000000'),
            	COALESCE(held_at, 'epoch'), COALESCE(purchased_at, 'epoch')
       	 FROM ticket_slots
      	 WHERE competition_id = $1 AND state <> 'free'
      	 ORDER BY number`,
		competitionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var slots []domain.TicketSlot
	for rows.Next() {
		var s domain.TicketSlot
		var state string
		if err := rows.Scan(&s.Number, &state, &s.HolderID, &s.HoldID, &s.HeldAt, &s.PurchasedAt); err != nil {
			return nil, nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		s.State = domain.SlotState(state)
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, err)
	}

	holdRows, err := db.Query(ctx,
		`SELECT id, holder_id, numbers, created_at, expires_at
       	 FROM holds
      	 WHERE competition_id = $1`,
		competitionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer holdRows.Close()

	var holds []domain.Hold
	for holdRows.Next() {
		h := domain.Hold{CompetitionID: competitionID}
		if err := holdRows.Scan(&h.ID, &h.HolderID, &h.Numbers, &h.CreatedAt, &h.ExpiresAt); err != nil {
			return nil, nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		holds = append(holds, h)
	}
	if err := holdRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, err)
	}

	return slots, holds, nil
}
