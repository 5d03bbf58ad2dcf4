package schema

// RiskReason identifies which rule rejected an order.
type RiskReason uint8

const (
	RiskReasonNone RiskReason = iota
	RiskReasonPositionSize
	RiskReasonNotionalValue
	RiskReasonDailyTrades
	RiskReasonDailyVolume
	RiskReasonConcentration
	RiskReasonInternal
)

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "NONE"
	case RiskReasonPositionSize:
		return "POSITION_SIZE"
	case RiskReasonNotionalValue:
		return "NOTIONAL_VALUE"
	case RiskReasonDailyTrades:
		return "DAILY_TRADES"
	case RiskReasonDailyVolume:
		return "DAILY_VOLUME"
	case RiskReasonConcentration:
		return "CONCENTRATION"
	case RiskReasonInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}
