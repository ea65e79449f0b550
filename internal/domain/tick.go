package domain

import "time"

// Tick is one quote update for an instrument symbol. Time is the
// server bucket key in unix seconds.
type Tick struct {
	ActiveID  int64   `json:"active_id"`
	Symbol    string  `json:"symbol"`
	Time      int64   `json:"time"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Value     float64 `json:"value"`
	Volume    float64 `json:"volume"`
	ShowValue float64 `json:"show_value"`
	Buy       float64 `json:"buy"`
	Sell      float64 `json:"sell"`
	Closed    bool    `json:"closed"`
}

// Timestamp returns the tick bucket as a time.Time.
func (t Tick) Timestamp() time.Time {
	return time.Unix(t.Time, 0)
}
