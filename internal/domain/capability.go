package domain

// Capability is a named permission required by a restricted entry point.
type Capability string

const (
	CapAdmin           Capability = "admin"
	CapMinter          Capability = "minter"
	CapCompliance      Capability = "compliance"
	CapGovernance      Capability = "governance"
	CapPauser          Capability = "pauser"
	CapBridge          Capability = "bridge"
	CapRelayer         Capability = "relayer"
	CapBridgeAdmin     Capability = "bridge_admin"
	CapTreasuryManager Capability = "treasury_manager"
	CapTreasurySpender Capability = "treasury_spender"
	CapEmergency       Capability = "emergency"
)

// Capabilities lists the closed capability set.
var Capabilities = []Capability{
	CapAdmin,
	CapMinter,
	CapCompliance,
	CapGovernance,
	CapPauser,
	CapBridge,
	CapRelayer,
	CapBridgeAdmin,
	CapTreasuryManager,
	CapTreasurySpender,
	CapEmergency,
}

// Valid reports whether c belongs to the closed set.
func (c Capability) Valid() bool {
	for _, known := range Capabilities {
		if c == known {
			return true
		}
	}
	return false
}
