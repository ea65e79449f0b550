package domain

// AccountType selects the real-money or practice sub-account.
type AccountType string

const (
	AccountReal     AccountType = "real"
	AccountPractice AccountType = "practice"
)

// Balance is one sub-account balance. Amount is in currency units.
type Balance struct {
	ID      int64       `json:"id"`
	Account AccountType `json:"account"`
	Amount  float64     `json:"amount"`
}

// Profile is the account snapshot returned by the login exchange.
type Profile struct {
	Real          Balance     `json:"real"`
	Practice      Balance     `json:"practice"`
	ActiveAccount AccountType `json:"active_account"`
	Balance       float64     `json:"balance"`
	Currency      string      `json:"currency"`
}

// BalanceFor returns the balance of the named account.
func (p Profile) BalanceFor(acct AccountType) (Balance, bool) {
	switch acct {
	case AccountReal:
		return p.Real, true
	case AccountPractice:
		return p.Practice, true
	}
	return Balance{}, false
}

// ActiveBalanceID returns the balance id of the active account.
func (p Profile) ActiveBalanceID() int64 {
	b, _ := p.BalanceFor(p.ActiveAccount)
	return b.ID
}

// SessionStatus summarises the client's runtime state.
type SessionStatus struct {
	Mode          string      `json:"mode"`
	Connected     bool        `json:"connected"`
	ActiveAccount AccountType `json:"active_account"`
	ServerTime    int64       `json:"server_time"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	OpenPositions int         `json:"open_positions"`
	Positions     int         `json:"positions"`
}

// BalanceUpdate is a balance change pushed on a profile frame. Frames
// without a currency report the active balance and may switch accounts.
type BalanceUpdate struct {
	BalanceID    int64
	Balance      float64
	Currency     string
	SwitchActive bool
}
