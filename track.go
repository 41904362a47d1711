package stemsync

type (
	// TrackDefinition is what a processing job hands over for each stem: an id
	// unique within the session and the locator of the audio asset.
	TrackDefinition struct {
		ID      string
		Locator string
	}

	// ReadyState is the lifecycle state of a track.
	ReadyState int
)

const (
	Unattached ReadyState = iota
	Loading
	Ready
	Playing
	Paused
	Errored
)

var readyStateNames = [...]string{
	Unattached: "unattached",
	Loading:    "loading",
	Ready:      "ready",
	Playing:    "playing",
	Paused:     "paused",
	Errored:    "errored",
}

func (s ReadyState) String() string {
	if s < 0 || int(s) >= len(readyStateNames) {
		return "unknown"
	}
	return readyStateNames[s]
}

// AudioCapable reports whether a track in this state has its source attached
// to the audio graph, i.e. it takes part in synchronization.
func (s ReadyState) AudioCapable() bool {
	return s == Ready || s == Playing || s == Paused
}
