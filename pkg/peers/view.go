package peers

import "github.com/mbhillrn/peerwatch/pkg/geostore"

// GeoReader is the read side of the geo cache.
type GeoReader interface {
	Get(addr string) (geostore.GeoRecord, bool, error)
}

// MergedPeer is a live peer joined with its cached geolocation, when any.
type MergedPeer struct {
	PeerRecord
	Geo *geostore.GeoRecord `json:"geo,omitempty"`
}

// MergeGeo joins a snapshot with the cache. Best effort: a read failure or a
// missing row just leaves Geo nil.
func MergeGeo(recs []PeerRecord, store GeoReader) []MergedPeer {
	out := make([]MergedPeer, 0, len(recs))
	for _, p := range recs {
		mp := MergedPeer{PeerRecord: p}
		if rec, ok, err := store.Get(p.Addr); err == nil && ok {
			g := rec
			mp.Geo = &g
		}
		out = append(out, mp)
	}
	return out
}
