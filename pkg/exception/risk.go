package exception

import "errors"

var (
	ErrRiskRejected = errors.New("risk: order rejected by risk limits")
)
