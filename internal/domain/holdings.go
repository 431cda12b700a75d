package domain

// UnitHoldings is the exchange's report of one security's units. Available
// excludes units reserved by our open sell orders.
type UnitHoldings struct {
	Units     int64 `yaml:"units"`
	Available int64 `yaml:"available"`
}

// Holdings is the exchange's report of our cash (cents) and units.
type Holdings struct {
	Cash          int64                `yaml:"cash"`
	AvailableCash int64                `yaml:"available_cash"`
	Markets       map[int]UnitHoldings `yaml:"markets"`
}
