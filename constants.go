package landrun

import "time"

// Geometry rules. Distances are meters, areas square meters.
const (
	// BaseRadius is the default radius of a solo base claim circle.
	BaseRadius = 30

	// ClanBaseRadius is the radius of a clan base circle (area ≈ 10000 m²).
	ClanBaseRadius = 56.42

	// MinClaimArea is the smallest polygon accepted for any non-initial claim.
	MinClaimArea = 100

	// WipeoutThreshold is the remaining area below which a victim territory
	// is considered fully conquered and stored as empty.
	WipeoutThreshold = 1

	// ChestPickupRadius is the distance within which a drawing player
	// collects a superpower chest.
	ChestPickupRadius = 20

	// ClanStartDistance is the maximum distance from the clan base at which
	// a clan expansion trail may begin.
	ClanStartDistance = 70
)

// Conquest rules.
const (
	// ArenaRadiusFactor scales the max centroid-to-vertex distance of the
	// target territory to produce the arena radius.
	ArenaRadiusFactor = 1.5

	// SimilarityKernel is the average path error, in meters, at which lap
	// similarity reaches zero.
	SimilarityKernel = 50

	// SimilarityThreshold is the minimum lap similarity accepted.
	SimilarityThreshold = 0.7
)

// Timeouts.
const (
	ArenaTimeout    = 5 * time.Minute
	ConquestTimeout = 30 * time.Minute
	ShieldTTL       = 48 * time.Hour
	DisconnectGrace = 60 * time.Second
)
