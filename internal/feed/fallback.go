package feed

// FallbackReason distinguishes why the fallback feed is being shown.
type FallbackReason string

const (
	// ReasonOffline means no connectivity was available at failure time.
	ReasonOffline FallbackReason = "offline"
	// ReasonError means connectivity was present but the fetch or parse failed.
	ReasonError FallbackReason = "error"
)

// Fallback produces the synthetic single-item feed for the given reason.
// The item id carries the fallback prefix so analytics, share, and
// open-detail flows can suppress it; activating it should re-trigger a sync
// attempt rather than open a detail view.
func Fallback(reason FallbackReason) []Item {
	title := "Error loading the feed"
	desc := "Failed to fetch the feed document. Check that it exists at the origin and try again."
	if reason == ReasonOffline {
		title = "Offline: no cached feed available"
		desc = "Connect to the internet at least once so the feed can be cached. After that, the app opens offline."
	}

	return []Item{
		Normalize(Item{
			ID:     FallbackIDPrefix + string(reason),
			Source: "EVK News",
			Title:  title,
			Desc:   desc,
			Image:  DefaultImage,
			Credit: "EVK",
			Tags:   []string{"Status", "Help"},
			URL:    "./",
		}, 0),
	}
}
