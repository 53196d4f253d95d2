package models

import "regexp"

// Validation limits enforced by the control handler and controllers.
const (
	// MaxPhases bounds how many phase records may ever be completed in a
	// session. The 13th transition is rejected and the controller moves to
	// FINALIZING.
	MaxPhases = 12

	// MaxCommandsHistory caps the deduplicated bootstrap command history.
	MaxCommandsHistory = 10

	// MaxImagesPerMessage bounds images attached to one user suggestion.
	MaxImagesPerMessage = 4

	// MaxImageSizeBytes bounds a single attached image.
	MaxImageSizeBytes = 4 << 20

	// MaxReviewCycles bounds the app controller's review loop in
	// deterministic mode.
	MaxReviewCycles = 3

	// MaxConversationHistory is the compact-log length that triggers
	// compaction. The full log is never compacted.
	MaxConversationHistory = 40

	// ConversationCompactTail is how many recent messages survive compaction
	// verbatim; everything older is folded into a summary message.
	ConversationCompactTail = 10
)

// ProjectNameRe validates project names after initialization.
var ProjectNameRe = regexp.MustCompile(`^[a-z0-9-_]{3,50}$`)
