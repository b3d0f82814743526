package fetcher

import (
	"math/rand/v2"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var headerSets = []map[string]string{
	{
		"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
		"Sec-Ch-Ua":                 `"Google Chrome";v="129", "Not=A?Brand";v="8", "Chromium";v="129"`,
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"Windows"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Upgrade-Insecure-Requests": "1",
	},
	{
		"User-Agent":                "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language":           "ko-KR,ko;q=0.9,en;q=0.8",
		"Sec-Ch-Ua":                 `"Chromium";v="128", "Not;A=Brand";v="24", "Google Chrome";v="128"`,
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"macOS"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Upgrade-Insecure-Requests": "1",
	},
	{
		"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "ko-KR,ko;q=0.9",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
	},
	{
		"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:130.0) Gecko/20100101 Firefox/130.0",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language":           "ko-KR,ko;q=0.8,en-US;q=0.5,en;q=0.3",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Upgrade-Insecure-Requests": "1",
	},
}

// randomHeaders returns a copy of one header set chosen at random.
func randomHeaders() map[string]string {
	src := headerSets[rand.IntN(len(headerSets))]

	ans := make(map[string]string, len(src))
	for k, v := range src {
		ans[k] = v
	}

	return ans
}

func RandomUserAgent() string {
	return headerSets[rand.IntN(len(headerSets))]["User-Agent"]
}

var blockedPhrases = []string{
	"unusual traffic",
	"automated queries",
	"verify you are a human",
	"confirm you are a human",
	"자동입력 방지",
	"비정상적인 접근",
}

const blockedSelector = `form#captcha-form, div.g-recaptcha, #recaptcha, #captcha, .captcha_wrap, body.captcha`

// IsBlocked reports whether doc is a bot-detection page instead of content.
func IsBlocked(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}

	if doc.Find(blockedSelector).Length() > 0 {
		return true
	}

	text := strings.ToLower(doc.Find("title").Text() + " " + doc.Find("body").Text())
	for _, phrase := range blockedPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}

	return false
}
