package tokens

import "github.com/haasonsaas/rlm/pkg/models"

// MessageChars sums per-message character counts. Array-shaped content
// contributes its joined text blocks; non-text blocks are ignored by the
// point counter.
func MessageChars(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content.JoinedText())
	}
	return total
}

// CountMessages returns the point token estimate for a message list.
func CountMessages(o *Oracle, msgs []models.Message) int {
	return o.Estimate(MessageChars(msgs))
}

// CountMessagesSafe returns the conservative token estimate, adding a fixed
// surcharge for each image block which the character sum cannot see.
func CountMessagesSafe(o *Oracle, msgs []models.Message, coverage float64) int {
	images := 0
	for _, m := range msgs {
		images += m.Content.ImageCount()
	}
	return o.EstimateSafe(MessageChars(msgs), coverage) + images*ImageTokenSurcharge
}
