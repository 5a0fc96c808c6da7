// Package pipeline provides the business boundary for Quell's alert
// noise reduction. It defines the Service (intake, lifecycle, async
// dispatch), Engine (pure analysis orchestration), Store interface
// (persistence), and domain models.
package pipeline
