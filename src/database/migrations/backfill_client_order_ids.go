package migrations

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// backfillClientOrderIDs assigns a client order id to rows created before the
// idempotency key existed. Uses raw SQL so the migration does not depend on
// the current shape of the Order model.
func backfillClientOrderIDs(db *gorm.DB) error {
	type row struct {
		ID uint
	}

	var rows []row
	if err := db.Raw(`SELECT id FROM orders WHERE client_order_id IS NULL OR client_order_id = ''`).Scan(&rows).Error; err != nil {
		return fmt.Errorf("select orders missing client_order_id: %w", err)
	}

	for _, r := range rows {
		cid := "ord-" + uuid.New().String()
		if err := db.Exec(`UPDATE orders SET client_order_id = ? WHERE id = ?`, cid, r.ID).Error; err != nil {
			return fmt.Errorf("backfill order %d: %w", r.ID, err)
		}
	}

	return nil
}
