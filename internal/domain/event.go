package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a state change notification.
type EventType string

const (
	EventTransfer             EventType = "TRANSFER"
	EventApproval             EventType = "APPROVAL"
	EventTaxCollected         EventType = "TAX_COLLECTED"
	EventMint                 EventType = "MINT"
	EventBurn                 EventType = "BURN"
	EventPaused               EventType = "PAUSED"
	EventUnpaused             EventType = "UNPAUSED"
	EventSchemaMigrated       EventType = "SCHEMA_MIGRATED"
	EventBlacklisted          EventType = "BLACKLISTED"
	EventBlacklistRemoved     EventType = "BLACKLIST_REMOVED"
	EventFundsLocked          EventType = "FUNDS_LOCKED"
	EventFundsUnlocked        EventType = "FUNDS_UNLOCKED"
	EventLimitExclusionSet    EventType = "LIMIT_EXCLUSION_SET"
	EventLimitsUpdated        EventType = "LIMITS_UPDATED"
	EventTaxConfigUpdated     EventType = "TAX_CONFIG_UPDATED"
	EventInflationRateUpdated EventType = "INFLATION_RATE_UPDATED"
	EventMintPeriodRolled     EventType = "MINT_PERIOD_ROLLED"
	EventCapabilityGranted    EventType = "CAPABILITY_GRANTED"
	EventCapabilityRevoked    EventType = "CAPABILITY_REVOKED"
	EventWindowOpened         EventType = "SPENDING_WINDOW_OPENED"
	EventTreasuryWithdrawal   EventType = "TREASURY_WITHDRAWAL"
	EventEmergencyToggled     EventType = "EMERGENCY_MODE_TOGGLED"
	EventChainConfigured      EventType = "CHAIN_CONFIGURED"
	EventBridgeSent           EventType = "BRIDGE_SENT"
	EventBridgeReceived       EventType = "BRIDGE_RECEIVED"
	EventStaked               EventType = "STAKED"
	EventStakeWithdrawn       EventType = "STAKE_WITHDRAWN"
)

// Event is a committed state change notification.
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Type      EventType              `json:"type"`
	Component string                 `json:"component"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps a new event.
func NewEvent(component string, typ EventType, at time.Time, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		Component: component,
		Timestamp: at,
		Data:      data,
	}
}
