package session

import (
	"fmt"
	"net/url"

	"github.com/stemsync/stemsync"
)

// Registry owns the tracks of the current job, in definition order.
type Registry struct {
	tracks     []*Track
	byID       map[string]*Track
	generation uint64
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]*Track{}}
}

// Generation increases every time the registry is cleared. Results of work
// started for an older generation are stale.
func (r *Registry) Generation() uint64 { return r.generation }

func (r *Registry) Len() int { return len(r.tracks) }

func (r *Registry) Tracks() []*Track { return r.tracks }

func (r *Registry) Lookup(id string) (*Track, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// Handles returns the tracks as TrackHandles for the controller.
func (r *Registry) Handles() []TrackHandle {
	ret := make([]TrackHandle, len(r.tracks))
	for i, t := range r.tracks {
		ret[i] = t
	}
	return ret
}

// Populate creates a track for every definition. Tracks whose locator is not
// an absolute URI are created in the Errored state; the rest are Unattached
// and need to be loaded by the caller. Empty or duplicate ids are rejected
// before anything is created.
func (r *Registry) Populate(defs []stemsync.TrackDefinition, onChange func(*Track)) error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("track definition for %q has no id: %w", d.Locator, stemsync.ErrInvalidParameter)
		}
		if seen[d.ID] {
			return fmt.Errorf("track %q defined twice: %w", d.ID, stemsync.ErrDuplicateTrack)
		}
		seen[d.ID] = true
	}
	for _, d := range defs {
		u, err := parseLocator(d)
		t := newTrack(d.ID, u, onChange)
		if err != nil {
			t.fail(err)
		}
		r.tracks = append(r.tracks, t)
		r.byID[d.ID] = t
	}
	return nil
}

// Clear releases every track and starts a new generation.
func (r *Registry) Clear() {
	for _, t := range r.tracks {
		t.release()
	}
	r.tracks = nil
	clear(r.byID)
	r.generation++
}

// AllReady is true when at least one track is audio-capable and no track that
// can still become playable is lagging behind. Errored tracks are ignored.
func (r *Registry) AllReady() bool {
	capable := 0
	for _, t := range r.tracks {
		switch {
		case t.state == stemsync.Errored:
		case t.state.AudioCapable():
			capable++
		default:
			return false
		}
	}
	return capable > 0
}

func parseLocator(d stemsync.TrackDefinition) (*url.URL, error) {
	u, err := url.Parse(d.Locator)
	if err != nil {
		return nil, &stemsync.InvalidAssetError{ID: d.ID, Locator: d.Locator, Reason: err.Error()}
	}
	if !u.IsAbs() {
		return nil, &stemsync.InvalidAssetError{ID: d.ID, Locator: d.Locator, Reason: "not an absolute URI"}
	}
	if u.Path == "" && u.Opaque == "" {
		return nil, &stemsync.InvalidAssetError{ID: d.ID, Locator: d.Locator, Reason: "empty path"}
	}
	return u, nil
}
