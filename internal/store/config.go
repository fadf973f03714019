package store

import "fmt"

// Config is the immutable per-orderbook configuration
type Config struct {
	OrderbookID  string `json:"orderbook_id"`
	ContractType string `json:"contract_type"`

	TimeframeMs int64 `json:"timeframe_ms"` // Column width

	PriceStep int64 `json:"price_step"`
	MinBucket int64 `json:"min_bucket"`
	MaxBucket int64 `json:"max_bucket"`

	// Buffers and horizon are measured in column widths
	HorizonColumns int64 `json:"horizon_columns"`
	PlaceBuffer    int64 `json:"place_orders_buffer"`
	UpdateBuffer   int64 `json:"update_orders_buffer"`
	FillLeadBuffer int64 `json:"fill_lead_buffer"`
}

// Horizon returns the covered span in milliseconds
func (c *Config) Horizon() int64 {
	return c.HorizonColumns * c.TimeframeMs
}

func (c *Config) placeLead() int64  { return c.PlaceBuffer * c.TimeframeMs }
func (c *Config) updateLead() int64 { return c.UpdateBuffer * c.TimeframeMs }

// FillLead returns how long before fillWindow.Start fills are accepted
func (c *Config) FillLead() int64 { return c.FillLeadBuffer * c.TimeframeMs }

// DefaultConfigs are the books created when no orderbook file is configured
func DefaultConfigs(contractType string) []Config {
	out := make([]Config, 0, 3)
	for _, tf := range []struct {
		suffix string
		ms     int64
	}{
		{"2s", 2_000},
		{"10s", 10_000},
		{"60s", 60_000},
	} {
		out = append(out, Config{
			OrderbookID:    contractType + "-" + tf.suffix,
			ContractType:   contractType,
			TimeframeMs:    tf.ms,
			PriceStep:      100,
			MinBucket:      0,
			MaxBucket:      100_000_000,
			HorizonColumns: 30,
			PlaceBuffer:    2,
			UpdateBuffer:   2,
			FillLeadBuffer: 0,
		})
	}
	return out
}

// ValidateConfig checks that orderbook parameters are within valid ranges:
// timeframe > 0, price_step > 0, min <= max, horizon > buffers >= 0.
func ValidateConfig(c *Config) error {
	if c.OrderbookID == "" {
		return fmt.Errorf("orderbook_id is required")
	}
	if c.ContractType == "" {
		return fmt.Errorf("contract_type is required")
	}
	if c.TimeframeMs <= 0 {
		return fmt.Errorf("timeframe_ms must be > 0, got %d", c.TimeframeMs)
	}
	if c.PriceStep <= 0 {
		return fmt.Errorf("price_step must be > 0, got %d", c.PriceStep)
	}
	if c.MinBucket > c.MaxBucket {
		return fmt.Errorf("min_bucket (%d) must be <= max_bucket (%d)", c.MinBucket, c.MaxBucket)
	}
	if c.PlaceBuffer < 0 || c.UpdateBuffer < 0 || c.FillLeadBuffer < 0 {
		return fmt.Errorf("buffers must be >= 0, got place=%d update=%d fill_lead=%d",
			c.PlaceBuffer, c.UpdateBuffer, c.FillLeadBuffer)
	}
	if c.HorizonColumns <= c.PlaceBuffer || c.HorizonColumns <= c.UpdateBuffer {
		return fmt.Errorf("horizon_columns (%d) must exceed place (%d) and update (%d) buffers",
			c.HorizonColumns, c.PlaceBuffer, c.UpdateBuffer)
	}
	return nil
}
