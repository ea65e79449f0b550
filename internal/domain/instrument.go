package domain

// InstrumentType is the product family an instrument belongs to.
type InstrumentType string

const (
	InstrumentForex   InstrumentType = "forex"
	InstrumentCrypto  InstrumentType = "crypto"
	InstrumentCFD     InstrumentType = "cfd"
	InstrumentDigital InstrumentType = "digital-option"
	InstrumentBinary  InstrumentType = "binary"
)

// Instrument maps a human-readable instrument id to the server's numeric active id.
type Instrument struct {
	ID       string         `json:"id"`
	ActiveID int64          `json:"active_id"`
	Type     InstrumentType `json:"type"`
	Name     string         `json:"name,omitempty"`
}

// LeverageTable maps a leverage multiplier to whether it is regulated.
type LeverageTable map[int]bool

// Supports reports whether the leverage is offered at all.
func (t LeverageTable) Supports(leverage int) bool {
	_, ok := t[leverage]
	return ok
}
