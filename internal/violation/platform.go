package violation

import (
	"context"
	"regexp"
)

// Handler receives environment signals from a platform adapter.
type Handler interface {
	OnFocusLost()
	OnBackNavigation()
	OnReloadAttempt()
	OnResize(width, height int)
	OnScreenshotKey()
}

// Platform is an adapter that watches a concrete environment (a browser over
// a websocket, a terminal) and reports signals to h until ctx ends.
type Platform interface {
	Watch(ctx context.Context, h Handler) error
}

var handheldAgent = regexp.MustCompile(`(?i)android|webos|iphone|ipad|ipod|blackberry|iemobile|opera mini|mobile|tablet`)

// IsHandheld guesses whether a client is a phone or tablet, where viewport
// changes come from on-screen keyboards rather than window splitting.
func IsHandheld(userAgent string, width int, touch bool) bool {
	return handheldAgent.MatchString(userAgent) || (width > 0 && width < 768 && touch)
}
