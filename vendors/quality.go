package vendors

import (
	"github.com/PuerkitoBio/goquery"
)

const (
	imageBlockSelector = ".se-image, .se-imageStrip, .se-imageGroup"

	// ImageRunThreshold is the number of back to back image blocks that
	// marks a post as a gallery needing an update.
	ImageRunThreshold = 4
)

// NeedsUpdate reports whether doc has ImageRunThreshold or more image blocks
// in direct succession inside one container.
func NeedsUpdate(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}

	found := false

	doc.Find(imageBlockSelector).Parent().EachWithBreak(func(_ int, container *goquery.Selection) bool {
		run := 0

		container.Children().EachWithBreak(func(_ int, child *goquery.Selection) bool {
			if !child.Is(imageBlockSelector) {
				run = 0

				return true
			}

			run++
			if run >= ImageRunThreshold {
				found = true
			}

			return !found
		})

		return !found
	})

	return found
}
