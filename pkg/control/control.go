// Package control computes the throttle command from the current speed.
package control

// DefaultSpeedLimit is the speed at which throttle reaches zero.
const DefaultSpeedLimit = 10.0

// Throttle decays linearly from 1 at standstill to 0 at speedLimit and goes
// negative (braking) above it. The result is not clamped.
func Throttle(speed, speedLimit float64) float64 {
	return 1.0 - speed/speedLimit
}

// Policy is the stateless throttle policy for a fixed speed limit.
type Policy struct {
	SpeedLimit float64
}

// NewPolicy returns a policy for the given limit.
func NewPolicy(speedLimit float64) Policy {
	return Policy{SpeedLimit: speedLimit}
}

// DefaultPolicy returns a policy using DefaultSpeedLimit.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultSpeedLimit)
}

// Throttle returns the throttle for the current speed.
func (p Policy) Throttle(speed float64) float64 {
	return Throttle(speed, p.SpeedLimit)
}
