package event

// Priority orders handlers for a single event type. Higher priorities
// run first; registration order breaks ties within a tier.
type Priority int

// Priority tiers, lowest to highest.
const (
	Lowest Priority = iota
	Low
	Normal
	High
	Highest
)

func (p Priority) String() string {
	switch p {
	case Lowest:
		return "lowest"
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Highest:
		return "highest"
	default:
		return "unknown"
	}
}
