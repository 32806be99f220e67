package flash

// Feature names a capability that can be switched on per deployment.
type Feature string

const (
	FeatureFlashSend   Feature = "flashSend"
	FeatureBankSettle  Feature = "bankSettle"
	FeatureBankTopup   Feature = "bankTopup"
	FeatureFygaroTopup Feature = "fygaroTopup"
)

// Features is the capability map supplied at construction. The client only
// consumes it; how the flags get configured is up to the caller.
type Features struct {
	FlashSend   bool
	BankSettle  bool
	BankTopup   bool
	FygaroTopup bool
}

type featureGate struct {
	enabled map[Feature]bool
}

func newFeatureGate(f Features) featureGate {
	return featureGate{enabled: map[Feature]bool{
		FeatureFlashSend:   f.FlashSend,
		FeatureBankSettle:  f.BankSettle,
		FeatureBankTopup:   f.BankTopup,
		FeatureFygaroTopup: f.FygaroTopup,
	}}
}

// isEnabled is a pure lookup; unknown capabilities are disabled.
func (g featureGate) isEnabled(f Feature) bool {
	return g.enabled[f]
}

// IsFeatureEnabled reports whether the named capability is switched on.
func (c *Client) IsFeatureEnabled(f Feature) bool {
	return c.gate.isEnabled(f)
}

// EnabledFeatures lists the capabilities switched on for this client.
func (c *Client) EnabledFeatures() []Feature {
	var out []Feature
	for _, f := range []Feature{FeatureFlashSend, FeatureBankSettle, FeatureBankTopup, FeatureFygaroTopup} {
		if c.gate.isEnabled(f) {
			out = append(out, f)
		}
	}
	return out
}

func (c *Client) requireFeature(f Feature) error {
	if c.gate.isEnabled(f) {
		return nil
	}
	return newAPIError(KindFeatureDisabled, string(f)+" feature is not enabled").
		withDetail("feature", string(f))
}
