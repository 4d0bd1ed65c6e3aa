package ledger

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewTransactionID returns a ULID, so ids sort by creation time.
func NewTransactionID(at time.Time) TransactionID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return TransactionID(ulid.MustNew(ulid.Timestamp(at), entropy).String())
}

// NewAccountID returns a random UUID.
func NewAccountID() AccountID {
	return AccountID(uuid.NewString())
}
