package flow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
	"github.com/Mohsinsiddi/permitflow/internal/permit2"
)

// Action names a user-triggered operation.
type Action string

// Actions.
const (
	ActionConnect        Action = "connect"
	ActionCheckAllowance Action = "check-allowance"
	ActionApprove        Action = "approve"
	ActionPermit         Action = "permit"
	ActionTransfer       Action = "transfer"
)

// Steps is the full split flow in its natural order.
var Steps = []Action{ActionCheckAllowance, ActionApprove, ActionPermit, ActionTransfer}

// ErrorKind classifies a failed action. KindNone means success.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNoSession
	KindConnection
	KindQuery
	KindTransaction
	KindSignatureRejected
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNoSession:
		return "no-session"
	case KindConnection:
		return "connection"
	case KindQuery:
		return "query"
	case KindTransaction:
		return "transaction"
	case KindSignatureRejected:
		return "signature-rejected"
	case KindInvalidInput:
		return "invalid-input"
	default:
		return "unknown"
	}
}

// AllowanceSnapshot is Permit2's view of Owner's Token allowance to Spender
// at FetchedAt. It goes stale as soon as any transaction lands.
type AllowanceSnapshot struct {
	Token      common.Address
	Owner      common.Address
	Spender    common.Address
	Amount     *big.Int
	Expiration uint64
	Nonce      uint64
	FetchedAt  time.Time
}

// Unlimited reports whether the amount is the max sentinel.
func (s *AllowanceSnapshot) Unlimited() bool {
	return s.Amount != nil && s.Amount.Cmp(permit2.MaxAllowanceTransferAmount) == 0
}

// ExpiresAt returns the expiration as a time; zero means never set.
func (s *AllowanceSnapshot) ExpiresAt() time.Time {
	if s.Expiration == 0 {
		return time.Time{}
	}
	return time.Unix(int64(s.Expiration), 0)
}

// Result is the outcome of one action. Fields that do not apply to the
// action are left zero.
type Result struct {
	ID        uuid.UUID
	Action    Action
	Kind      ErrorKind
	Err       error
	TxHash    common.Hash
	Receipt   *chain.TxReceipt
	Snapshot  *AllowanceSnapshot
	Permit    *permit2.PermitSingle
	Signature []byte
	Amount    *big.Int
	Started   time.Time
	Finished  time.Time
}

// OK reports whether the action succeeded.
func (r Result) OK() bool { return r.Kind == KindNone }

// Duration is how long the action took.
func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }
