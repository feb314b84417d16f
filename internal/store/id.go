package store

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	ulidEntropyMu sync.Mutex
)

const (
	withdrawalIDPrefix  = "wd_"
	reservationIDPrefix = "rsv_"
	alertIDPrefix       = "alt_"
)

func NewID() string {
	ulidEntropyMu.Lock()
	defer ulidEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// NewWithdrawalID returns a sortable withdrawal id ("wd_" + ULID).
func NewWithdrawalID() string {
	return withdrawalIDPrefix + NewID()
}

func NewReservationID() string {
	return reservationIDPrefix + NewID()
}

func NewAlertID() string {
	return alertIDPrefix + NewID()
}
