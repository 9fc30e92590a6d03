package lesson

import (
	"fmt"

	"github.com/ashureev/viso-labs/internal/domain"
)

const (
	msgNoImage            = "Please generate an image first."
	msgAttemptsExhausted  = "You've used all your allowed attempts. Let's try a new image."
	msgSameDifficulty     = "Great job identifying the details! Here's a new image at the same difficulty level."
	msgNewImage           = "Let's try a new image!"
	msgReplacementFailure = "There was an issue generating a new image. Please try again."
)

func thresholdAdvanceMessage(identified, total int, next domain.Difficulty) string {
	return fmt.Sprintf("Congratulations! You've identified enough details (%d/%d) to advance to %s difficulty! Here's a new image to describe.", identified, total, next)
}

func advanceMessage(next domain.Difficulty) string {
	return fmt.Sprintf("Congratulations! You've advanced to %s difficulty! Here's a new image to describe.", next)
}

// systemMessage picks the announcement for a replacement, first match wins.
func systemMessage(t Triggers, identified, total int, current, next domain.Difficulty) string {
	switch {
	case t.AttemptsExhausted:
		return msgAttemptsExhausted
	case t.ThresholdReached && next != current:
		return thresholdAdvanceMessage(identified, total, next)
	case t.ShouldAdvance:
		return advanceMessage(next)
	case t.ThresholdReached || t.AllIdentified:
		return msgSameDifficulty
	default:
		return msgNewImage
	}
}
