package orders

import (
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
)

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
