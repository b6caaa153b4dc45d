package wire

import (
	"github.com/shopspring/decimal"
)

// Expense is a single shared expense as computed by the backend. The client
// never recomputes amounts; records are display values only.
type Expense struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	PaidBy      string          `json:"paid_by"`
	SplitAmong  []string        `json:"split_among"`
	Timestamp   string          `json:"timestamp"`
}

// Payment is a settlement between two participants.
type Payment struct {
	ID        string          `json:"id"`
	FromUser  string          `json:"from_user"`
	ToUser    string          `json:"to_user"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Timestamp string          `json:"timestamp"`
}

// Debt is a simplified outstanding amount between two participants.
type Debt struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Balances maps debtor -> creditor -> amount.
type Balances map[string]map[string]decimal.Decimal

// SessionState is the authoritative, server-computed aggregate for one
// session. It is a pure display cache on the client side.
type SessionState struct {
	Expenses     []Expense         `json:"expenses"`
	Payments     []Payment         `json:"payments"`
	Balances     Balances          `json:"balances"`
	Participants []string          `json:"participants"`
	Debts        map[string][]Debt `json:"debts"`
}

// NewSessionState returns a state with every collection initialized empty.
func NewSessionState() SessionState {
	return SessionState{
		Expenses:     []Expense{},
		Payments:     []Payment{},
		Balances:     Balances{},
		Participants: []string{},
		Debts:        map[string][]Debt{},
	}
}

// Normalize replaces nil collections with empty ones.
func (s *SessionState) Normalize() {
	if s.Expenses == nil {
		s.Expenses = []Expense{}
	}
	if s.Payments == nil {
		s.Payments = []Payment{}
	}
	if s.Balances == nil {
		s.Balances = Balances{}
	}
	if s.Participants == nil {
		s.Participants = []string{}
	}
	if s.Debts == nil {
		s.Debts = map[string][]Debt{}
	}
}

// SessionPatch is a partial session-state update. A nil field means "not
// present on the wire, leave the current value alone"; a non-nil field
// replaces the current value wholesale, including replacement by an empty
// collection. This is presence-based overwrite, not a deep merge.
type SessionPatch struct {
	Expenses     *[]Expense         `json:"expenses,omitempty"`
	Payments     *[]Payment         `json:"payments,omitempty"`
	Balances     *Balances          `json:"balances,omitempty"`
	Participants *[]string          `json:"participants,omitempty"`
	Debts        *map[string][]Debt `json:"debts,omitempty"`
}

// IsZero reports whether the patch carries no fields at all.
func (p SessionPatch) IsZero() bool {
	return p.Expenses == nil && p.Payments == nil && p.Balances == nil &&
		p.Participants == nil && p.Debts == nil
}

// Apply overwrites the fields present in the patch and leaves the rest
// untouched.
func (p SessionPatch) Apply(s *SessionState) {
	if s == nil {
		return
	}
	if p.Expenses != nil {
		s.Expenses = *p.Expenses
	}
	if p.Payments != nil {
		s.Payments = *p.Payments
	}
	if p.Balances != nil {
		s.Balances = *p.Balances
	}
	if p.Participants != nil {
		s.Participants = *p.Participants
	}
	if p.Debts != nil {
		s.Debts = *p.Debts
	}
	s.Normalize()
}
