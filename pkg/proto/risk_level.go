// Package proto holds shared wire/enum types referenced across agentd
// subsystems.
package proto

// RiskLevel classifies how dangerous a tool invocation is.
type RiskLevel int32

const (
	RiskLevel_RISK_LEVEL_LOW      RiskLevel = 0
	RiskLevel_RISK_LEVEL_MEDIUM   RiskLevel = 1
	RiskLevel_RISK_LEVEL_HIGH     RiskLevel = 2
	RiskLevel_RISK_LEVEL_CRITICAL RiskLevel = 3
)
