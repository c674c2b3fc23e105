package radio

// Sensor dynamic range. Every synthesized value is clamped into it.
const (
	MinRssiDbm = -120.0
	MaxRssiDbm = -30.0
)

// StrongSignalDbm is reported for zero or negative distances instead of
// running the log-distance law into a singularity.
const StrongSignalDbm = -30.0

// CumulativeBase raises the marginal loss of each wall beyond the first:
// the i-th crossing is scaled by CumulativeBase^i.
const CumulativeBase = 1.1

// Model defaults. Reference power matches a common BLE beacon calibration
// at 1 meter; the exponent sits mid-range for indoor propagation.
const (
	DefaultTxPowerAt1m         = -59.0
	DefaultPathLossExponent    = 2.7
	DefaultNoiseStdDevDb       = 2.0
	DefaultMinDetectionRssiDbm = -100.0
)

// clamp returns x within [min, max].
func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
