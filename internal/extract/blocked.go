package extract

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockingStatuses are responses that indicate the crawler itself is refused.
var blockingStatuses = map[int]bool{
	http.StatusUnauthorized:       true,
	http.StatusForbidden:          true,
	http.StatusTooManyRequests:    true,
	http.StatusServiceUnavailable: true,
}

var challengeSelectors = []string{
	"#challenge-form",
	"#challenge-running",
	"#px-captcha",
	".g-recaptcha",
	".h-captcha",
	"[data-sitekey]",
	`iframe[src*="captcha"]`,
	`script[src*="captcha"]`,
}

var challengeTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
	"are you a robot",
	"verify you are human",
	"security check",
}

// detectChallenge reports whether a 2xx page is actually a bot challenge or
// CAPTCHA interstitial, returning the matched marker.
func detectChallenge(doc *goquery.Document) (string, bool) {
	for _, sel := range challengeSelectors {
		if doc.Find(sel).Length() > 0 {
			return sel, true
		}
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, marker := range challengeTitles {
		if strings.Contains(title, marker) {
			return "title: " + marker, true
		}
	}
	return "", false
}
