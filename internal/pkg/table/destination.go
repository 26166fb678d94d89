// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package table

import (
	"fmt"
	"slices"

	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

type BestPathReason uint8

const (
	BPR_UNKNOWN BestPathReason = iota
	BPR_ONLY_PATH
	BPR_LOCAL_PREF
	BPR_ASPATH
	BPR_ORIGIN
	BPR_MED
	BPR_FIRST_RECEIVED
)

var BestPathReasonStringMap = map[BestPathReason]string{
	BPR_UNKNOWN:        "Unknown",
	BPR_ONLY_PATH:      "Only Path",
	BPR_LOCAL_PREF:     "Local Pref",
	BPR_ASPATH:         "AS Path",
	BPR_ORIGIN:         "Origin",
	BPR_MED:            "MED",
	BPR_FIRST_RECEIVED: "First Received",
}

func (r BestPathReason) String() string {
	return BestPathReasonStringMap[r]
}

type missingAttributeError struct {
	attr bgp.BGPAttrType
	path *Path
}

func (e *missingAttributeError) Error() string {
	return fmt.Sprintf("no %s attribute in path from %s", e.attr, e.path.SourceString())
}

// Destination holds every candidate path for one prefix, at most one per
// source peer.
type Destination struct {
	nlri   *bgp.Prefix
	paths  []*Path
	reason BestPathReason
}

func newDestination(nlri *bgp.Prefix) *Destination {
	return &Destination{
		nlri:  nlri,
		paths: make([]*Path, 0, 1),
	}
}

func (dd *Destination) GetNlri() *bgp.Prefix {
	return dd.nlri
}

// GetAllKnownPathList returns the candidates in arrival order.
func (dd *Destination) GetAllKnownPathList() []*Path {
	return slices.Clone(dd.paths)
}

func (dd *Destination) GetBestPath() *Path {
	for _, p := range dd.paths {
		if p.best {
			return p
		}
	}
	return nil
}

func (dd *Destination) BestReason() BestPathReason {
	return dd.reason
}

func (dd *Destination) pathFrom(source PeerID) (int, *Path) {
	for i, p := range dd.paths {
		if p.source == source {
			return i, p
		}
	}
	return -1, nil
}

func (dd *Destination) remove(source PeerID) *Path {
	i, p := dd.pathFrom(source)
	if p == nil {
		return nil
	}
	dd.paths = slices.Delete(dd.paths, i, i+1)
	return p
}

// bestPathSelection marks exactly one path best. Candidates are compared
// in arrival order against the running best; the first decisive rule
// wins, and an undecided comparison keeps the running best.
func (dd *Destination) bestPathSelection(logger log.Logger) *Path {
	var best *Path
	dd.reason = BPR_UNKNOWN
	for _, p := range dd.paths {
		p.best = false
		if best == nil {
			best = p
			dd.reason = BPR_ONLY_PATH
			continue
		}
		winner, reason := comparePath(logger, p, best)
		switch winner {
		case p:
			best = p
			dd.reason = reason
		case nil:
			if dd.reason == BPR_ONLY_PATH {
				dd.reason = BPR_FIRST_RECEIVED
			}
		default:
			dd.reason = reason
		}
	}
	if best != nil {
		best.best = true
	}
	return best
}

func comparePath(logger log.Logger, path1, path2 *Path) (*Path, BestPathReason) {
	rules := []struct {
		reason  BestPathReason
		compare func(*Path, *Path) (*Path, error)
	}{
		{BPR_LOCAL_PREF, compareByLocalPref},
		{BPR_ASPATH, compareByASPath},
		{BPR_ORIGIN, compareByOrigin},
		{BPR_MED, compareByMED},
	}
	for _, r := range rules {
		better, err := r.compare(path1, path2)
		if err != nil {
			if logger.GetLevel() >= log.DebugLevel {
				logger.Debug("best path comparison skipped",
					log.Fields{
						"Topic":  "Table",
						"Key":    path1.nlri.String(),
						"Reason": r.reason.String(),
						"Error":  err})
			}
			continue
		}
		if better != nil {
			return better, r.reason
		}
	}
	return nil, BPR_UNKNOWN
}

func compareByLocalPref(path1, path2 *Path) (*Path, error) {
	// Highest local-preference value is preferred.
	localPref1, ok := path1.GetLocalPref()
	if !ok {
		return nil, &missingAttributeError{bgp.BGP_ATTR_TYPE_LOCAL_PREF, path1}
	}
	localPref2, ok := path2.GetLocalPref()
	if !ok {
		return nil, &missingAttributeError{bgp.BGP_ATTR_TYPE_LOCAL_PREF, path2}
	}
	if localPref1 > localPref2 {
		return path1, nil
	} else if localPref1 < localPref2 {
		return path2, nil
	}
	return nil, nil
}

func compareByASPath(path1, path2 *Path) (*Path, error) {
	// Shortest as-path length is preferred. A set counts as one hop.
	l1, ok := path1.GetAsPathLen()
	if !ok {
		return nil, &missingAttributeError{bgp.BGP_ATTR_TYPE_AS_PATH, path1}
	}
	l2, ok := path2.GetAsPathLen()
	if !ok {
		return nil, &missingAttributeError{bgp.BGP_ATTR_TYPE_AS_PATH, path2}
	}
	if l1 > l2 {
		return path2, nil
	} else if l1 < l2 {
		return path1, nil
	}
	return nil, nil
}

func compareByOrigin(path1, path2 *Path) (*Path, error) {
	// IGP < EGP < INCOMPLETE
	origin1, ok := path1.GetOrigin()
	if !ok {
		return nil, &missingAttributeError{bgp.BGP_ATTR_TYPE_ORIGIN, path1}
	}
	origin2, ok := path2.GetOrigin()
	if !ok {
		return nil, &missingAttributeError{bgp.BGP_ATTR_TYPE_ORIGIN, path2}
	}
	if origin1 < origin2 {
		return path1, nil
	} else if origin1 > origin2 {
		return path2, nil
	}
	return nil, nil
}

func compareByMED(path1, path2 *Path) (*Path, error) {
	// Higher MULTI_EXIT_DISC is preferred.
	med1, ok := path1.GetMed()
	if !ok {
		return nil, &missingAttributeError{bgp.BGP_ATTR_TYPE_MULTI_EXIT_DISC, path1}
	}
	med2, ok := path2.GetMed()
	if !ok {
		return nil, &missingAttributeError{bgp.BGP_ATTR_TYPE_MULTI_EXIT_DISC, path2}
	}
	if med1 > med2 {
		return path1, nil
	} else if med1 < med2 {
		return path2, nil
	}
	return nil, nil
}

func (dd *Destination) String() string {
	return fmt.Sprintf("Destination NLRI: %s", dd.nlri)
}
