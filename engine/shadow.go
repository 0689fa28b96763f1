package engine

// ShadowRAMControl modulates how register writes interact with the 3D
// engine's shadow register file. Macro programs use Track/Replay pairs
// to re-issue earlier values through specific methods.
type ShadowRAMControl uint32

const (
	// ShadowTrack writes the real and shadow register files.
	ShadowTrack ShadowRAMControl = 0

	// ShadowTrackWithFilter is Track with a hardware-side method
	// filter; treated as Track here.
	ShadowTrackWithFilter ShadowRAMControl = 1

	// ShadowPassthrough writes only the real register file.
	ShadowPassthrough ShadowRAMControl = 2

	// ShadowReplay substitutes the shadow value for the written
	// argument.
	ShadowReplay ShadowRAMControl = 3
)

// String returns the control mode name.
func (s ShadowRAMControl) String() string {
	switch s {
	case ShadowTrack:
		return "Track"
	case ShadowTrackWithFilter:
		return "TrackWithFilter"
	case ShadowPassthrough:
		return "Passthrough"
	case ShadowReplay:
		return "Replay"
	default:
		return "Unknown"
	}
}
