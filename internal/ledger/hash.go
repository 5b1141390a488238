package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chainsettle/chainsettle-backend/pkg/db/models"
)

// computeIntentHash folds the ordered event tuples into one digest. Events
// must already be sorted by sequence; any change to the event set changes the
// hash, which is how downstream consumers detect ledger drift.
func computeIntentHash(events []models.SettlementEvent) string {
	h := sha256.New()
	for _, event := range events {
		fmt.Fprintf(h, "%d|%s|%s|%s|%s|%d|%s\n",
			event.Sequence,
			event.EventType,
			event.Status,
			event.Amount.StringFixed(2),
			event.Currency,
			event.OccurredAt.UTC().UnixNano(),
			event.Metadata.Canonical(),
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}
