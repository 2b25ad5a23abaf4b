// Package universe holds the security reference data that lots point at.
package universe

// Security represents a tradeable instrument known to the ledger.
// Every holding lot must reference a security that exists here; downstream
// aggregation joins on the security id.
type Security struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Currency string `json:"currency,omitempty"`
	Active   bool   `json:"active"`
}
