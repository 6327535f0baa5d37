package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

var ErrGateway = errors.New("payment gateway error")

// SessionRequest is everything the hosted checkout needs to open a session.
type SessionRequest struct {
	Amount        float64
	Currency      string
	TransactionID string
	ProductName   string

	SuccessURL string
	FailURL    string
	CancelURL  string
	IPNURL     string

	CustomerName    string
	CustomerEmail   string
	CustomerAddress string
	CustomerCity    string
	CustomerPhone   string
}

type Session struct {
	GatewayURL string
	SessionKey string
}

// Gateway opens hosted checkout sessions.
type Gateway interface {
	InitializeSession(ctx context.Context, req SessionRequest) (*Session, error)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTransactionID returns APPOINTMENT_<unix millis>_<9 base36 chars>.
func NewTransactionID(now time.Time) string {
	var b strings.Builder
	b.Grow(9)
	for i := 0; i < 9; i++ {
		b.WriteByte(base36[rand.IntN(len(base36))])
	}
	return fmt.Sprintf("APPOINTMENT_%d_%s", now.UnixMilli(), b.String())
}
