package youtube

import (
	neturl "net/url"
	"regexp"
	"strings"
)

var ytHostRe = regexp.MustCompile(`(?i)(^|\.)youtube\.com$`)

// WatchURL is the canonical link stored as the content url.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + neturl.QueryEscape(videoID)
}

// VideoID extracts the video id from watch, short and youtu.be links.
func VideoID(u string) string {
	parsed, err := neturl.Parse(strings.TrimSpace(u))
	if err != nil {
		return ""
	}
	h := strings.ToLower(parsed.Host)
	if h == "youtu.be" {
		return strings.Trim(parsed.Path, "/")
	}
	if ytHostRe.MatchString(h) {
		if strings.HasPrefix(parsed.Path, "/watch") {
			return strings.TrimSpace(parsed.Query().Get("v"))
		}
		if strings.HasPrefix(parsed.Path, "/shorts/") {
			return strings.Trim(strings.TrimPrefix(parsed.Path, "/shorts/"), "/")
		}
	}
	return ""
}
