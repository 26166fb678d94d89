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
	"bytes"
	"net/netip"
	"slices"
	"strconv"
	"time"

	"github.com/armon/go-radix"
	"github.com/segmentio/fasthash/fnv1a"

	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

// used internally, should not be aliassed
type addrPrefixKey uint64

func tableKey(nlri *bgp.Prefix) addrPrefixKey {
	h := fnv1a.Init64
	h = fnv1a.AddUint64(h, uint64(nlri.AFI()))
	h = fnv1a.AddBytes64(h, nlri.Bits())
	h = fnv1a.AddBytes64(h, []byte{nlri.Length()})
	return addrPrefixKey(h)
}

type Destinations map[addrPrefixKey][]*Destination

func (d Destinations) Get(nlri *bgp.Prefix) *Destination {
	for _, dest := range d[tableKey(nlri)] {
		if dest.nlri.Equal(nlri) {
			return dest
		}
	}
	return nil
}

func (d Destinations) InsertUpdate(dest *Destination) (collision bool) {
	key := tableKey(dest.nlri)
	l, ok := d[key]
	for i, v := range l {
		if v.nlri.Equal(dest.nlri) {
			l[i] = dest
			return false
		}
	}
	d[key] = append(l, dest)
	return ok
}

func (d Destinations) Remove(nlri *bgp.Prefix) {
	key := tableKey(nlri)
	l := slices.DeleteFunc(d[key], func(dest *Destination) bool {
		return dest.nlri.Equal(nlri)
	})
	if len(l) == 0 {
		delete(d, key)
	} else {
		d[key] = l
	}
}

// IpToRadixkey renders the first prefixLen bits of b as a '0'/'1' string
// behind a family tag, so that radix prefixes follow address prefixes.
func IpToRadixkey(afi uint16, b []byte, prefixLen uint8) string {
	var buffer bytes.Buffer
	buffer.WriteString(strconv.Itoa(int(afi)))
	buffer.WriteByte(':')
	for i := 0; i < int(prefixLen) && i/8 < len(b); i++ {
		if b[i/8]&(0x80>>uint(i%8)) != 0 {
			buffer.WriteByte('1')
		} else {
			buffer.WriteByte('0')
		}
	}
	return buffer.String()
}

func addrToRadixkey(addr netip.Addr) string {
	afi := uint16(bgp.AFI_IP)
	if addr.Is6() {
		afi = bgp.AFI_IP6
	}
	return IpToRadixkey(afi, addr.AsSlice(), uint8(addr.BitLen()))
}

// Scheduler arms the update debounce; the owner calls Flush when it fires.
type Scheduler interface {
	Schedule()
}

// UpdateTarget is a peer that table changes may be advertised to.
type UpdateTarget interface {
	IsEstablished() bool
	RemoteAS() uint32
	TxUpdate(nlri []*bgp.Prefix, attrs *Attributes, withdrawn []*bgp.Prefix) error
}

// UpdateGroup is a set of prefixes whose best paths share one attribute
// set and can be announced in a single UPDATE.
type UpdateGroup struct {
	Attrs *Attributes
	NLRI  []*bgp.Prefix
}

type UpdateBatch struct {
	Withdrawn []*bgp.Prefix
	Groups    []*UpdateGroup
}

func (b *UpdateBatch) Empty() bool {
	return len(b.Withdrawn) == 0 && len(b.Groups) == 0
}

// Table is the shared multi-path routing table. It is not safe for
// concurrent use; the server serializes every access.
type Table struct {
	localAS      uint32
	destinations Destinations
	radix        *radix.Tree
	pool         *attrPool
	touched      map[string]*bgp.Prefix
	scheduler    Scheduler
	logger       log.Logger
	paths        int
}

func NewTable(logger log.Logger, localAS uint32) *Table {
	return &Table{
		localAS:      localAS,
		destinations: make(Destinations),
		radix:        radix.New(),
		pool:         newAttrPool(),
		touched:      make(map[string]*bgp.Prefix),
		logger:       logger,
	}
}

func (t *Table) SetScheduler(s Scheduler) {
	t.scheduler = s
}

func (t *Table) LocalAS() uint32 {
	return t.localAS
}

func (t *Table) touch(nlri *bgp.Prefix) {
	t.touched[nlri.Key()] = nlri
	if t.scheduler != nil {
		t.scheduler.Schedule()
	}
}

func (t *Table) radixKey(nlri *bgp.Prefix) string {
	return IpToRadixkey(nlri.AFI(), nlri.Bits(), nlri.Length())
}

func (t *Table) insertDestination(dest *Destination) {
	t.destinations.InsertUpdate(dest)
	key := t.radixKey(dest.nlri)
	var l []*Destination
	if v, ok := t.radix.Get(key); ok {
		l = v.([]*Destination)
	}
	t.radix.Insert(key, append(l, dest))
}

func (t *Table) removeDestination(dest *Destination) {
	t.destinations.Remove(dest.nlri)
	key := t.radixKey(dest.nlri)
	v, ok := t.radix.Get(key)
	if !ok {
		return
	}
	l := slices.DeleteFunc(v.([]*Destination), func(d *Destination) bool {
		return d == dest
	})
	if len(l) == 0 {
		t.radix.Delete(key)
	} else {
		t.radix.Insert(key, l)
	}
}

// AddPath installs or replaces the path for nlri from source. LOCAL_PREF
// is filled in with the default when the set lacks one; an equal set
// already in the table is shared rather than copied.
func (t *Table) AddPath(nlri *bgp.Prefix, attrs []bgp.PathAttributeInterface, source PeerID) (*Path, error) {
	list := attrs
	if !slices.ContainsFunc(attrs, func(a bgp.PathAttributeInterface) bool {
		return a.GetType() == bgp.BGP_ATTR_TYPE_LOCAL_PREF
	}) {
		list = append(slices.Clone(attrs), bgp.NewPathAttributeLocalPref(DEFAULT_LOCAL_PREF))
	}
	a, err := t.pool.intern(list)
	if err != nil {
		return nil, err
	}
	t.touch(nlri)

	dest := t.destinations.Get(nlri)
	if dest == nil {
		dest = newDestination(nlri)
		t.insertDestination(dest)
	}
	_, path := dest.pathFrom(source)
	if path != nil {
		t.pool.release(path.attrs)
		path.attrs = a
		path.timestamp = time.Now()
	} else {
		path = &Path{
			nlri:      dest.nlri,
			attrs:     a,
			source:    source,
			timestamp: time.Now(),
		}
		dest.paths = append(dest.paths, path)
		t.paths++
	}
	dest.bestPathSelection(t.logger)

	if t.logger.GetLevel() >= log.DebugLevel {
		t.logger.Debug("path added",
			log.Fields{
				"Topic":  "Table",
				"Key":    nlri.String(),
				"Source": path.SourceString(),
				"Attrs":  a.String()})
	}
	return path, nil
}

// DelPath removes the path for nlri from source, reporting whether one
// existed.
func (t *Table) DelPath(nlri *bgp.Prefix, source PeerID) bool {
	dest := t.destinations.Get(nlri)
	if dest == nil {
		return false
	}
	path := dest.remove(source)
	if path == nil {
		return false
	}
	t.touch(nlri)
	t.pool.release(path.attrs)
	t.paths--
	if len(dest.paths) == 0 {
		t.removeDestination(dest)
	} else {
		dest.bestPathSelection(t.logger)
	}

	if t.logger.GetLevel() >= log.DebugLevel {
		t.logger.Debug("path withdrawn",
			log.Fields{
				"Topic":  "Table",
				"Key":    nlri.String(),
				"Source": path.SourceString()})
	}
	return true
}

// PurgePeer drops every path learned from source and returns how many
// were removed.
func (t *Table) PurgePeer(source PeerID) int {
	n := 0
	for _, l := range t.destinations {
		for _, dest := range slices.Clone(l) {
			path := dest.remove(source)
			if path == nil {
				continue
			}
			n++
			t.touch(dest.nlri)
			t.pool.release(path.attrs)
			t.paths--
			if len(dest.paths) == 0 {
				t.removeDestination(dest)
			} else {
				dest.bestPathSelection(t.logger)
			}
		}
	}
	if n > 0 {
		t.logger.Info("purged peer paths",
			log.Fields{
				"Topic": "Table",
				"Key":   source.String(),
				"Count": n})
	}
	return n
}

func (t *Table) BestPathSelection(nlri *bgp.Prefix) *Path {
	dest := t.destinations.Get(nlri)
	if dest == nil {
		return nil
	}
	return dest.bestPathSelection(t.logger)
}

func (t *Table) BestPathSelectionAll() {
	for _, l := range t.destinations {
		for _, dest := range l {
			dest.bestPathSelection(t.logger)
		}
	}
}

func (t *Table) GetDestination(nlri *bgp.Prefix) *Destination {
	return t.destinations.Get(nlri)
}

// Lookup returns every candidate path for nlri.
func (t *Table) Lookup(nlri *bgp.Prefix) []*Path {
	dest := t.destinations.Get(nlri)
	if dest == nil {
		return nil
	}
	return dest.GetAllKnownPathList()
}

func (t *Table) Best(nlri *bgp.Prefix) *Path {
	dest := t.destinations.Get(nlri)
	if dest == nil {
		return nil
	}
	return dest.GetBestPath()
}

// LongestMatch returns the most specific destination covering addr.
func (t *Table) LongestMatch(addr netip.Addr) *Destination {
	_, v, ok := t.radix.LongestPrefix(addrToRadixkey(addr))
	if !ok {
		return nil
	}
	l := v.([]*Destination)
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

// GetSortedDestinations lists destinations in prefix order.
func (t *Table) GetSortedDestinations() []*Destination {
	results := make([]*Destination, 0, t.Len())
	for _, l := range t.destinations {
		results = append(results, l...)
	}
	slices.SortFunc(results, func(a, b *Destination) int {
		return bgp.ComparePrefix(a.nlri, b.nlri)
	})
	return results
}

// Walk visits destinations in prefix order until fn returns false.
func (t *Table) Walk(fn func(*Destination) bool) {
	for _, dest := range t.GetSortedDestinations() {
		if !fn(dest) {
			return
		}
	}
}

// Len is the number of prefixes with at least one path.
func (t *Table) Len() int {
	n := 0
	for _, l := range t.destinations {
		n += len(l)
	}
	return n
}

func (t *Table) PathCount() int {
	return t.paths
}

// AttributeSets is the number of distinct attribute sets in use.
func (t *Table) AttributeSets() int {
	return t.pool.len()
}

// Pending is the number of prefixes changed since the last flush.
func (t *Table) Pending() int {
	return len(t.touched)
}

// groupBest groups best paths by their shared attribute set, keeping the
// order of first appearance in nlris.
func (t *Table) groupBest(nlris []*bgp.Prefix) ([]*UpdateGroup, []*bgp.Prefix) {
	groups := make([]*UpdateGroup, 0)
	index := make(map[*Attributes]*UpdateGroup)
	withdrawn := make([]*bgp.Prefix, 0)
	for _, n := range nlris {
		dest := t.destinations.Get(n)
		if dest == nil {
			withdrawn = append(withdrawn, n)
			continue
		}
		best := dest.GetBestPath()
		if best == nil {
			best = dest.bestPathSelection(t.logger)
		}
		g, ok := index[best.attrs]
		if !ok {
			g = &UpdateGroup{Attrs: best.attrs}
			index[best.attrs] = g
			groups = append(groups, g)
		}
		g.NLRI = append(g.NLRI, dest.nlri)
	}
	return groups, withdrawn
}

// BestGroups groups the best path of every prefix for a full table send.
func (t *Table) BestGroups() []*UpdateGroup {
	dests := t.GetSortedDestinations()
	nlris := make([]*bgp.Prefix, 0, len(dests))
	for _, d := range dests {
		nlris = append(nlris, d.nlri)
	}
	groups, _ := t.groupBest(nlris)
	return groups
}

// TakeUpdates drains the changed prefixes into withdrawn prefixes and
// announcements grouped by best path attributes.
func (t *Table) TakeUpdates() *UpdateBatch {
	nlris := make([]*bgp.Prefix, 0, len(t.touched))
	for _, n := range t.touched {
		nlris = append(nlris, n)
	}
	clear(t.touched)
	slices.SortFunc(nlris, bgp.ComparePrefix)

	groups, withdrawn := t.groupBest(nlris)
	return &UpdateBatch{
		Withdrawn: withdrawn,
		Groups:    groups,
	}
}

// Flush sends the pending changes to every established eBGP target:
// one UPDATE per attribute group, with withdrawals riding on the first
// UPDATE each target gets.
func (t *Table) Flush(targets []UpdateTarget) *UpdateBatch {
	batch := t.TakeUpdates()
	if batch.Empty() {
		return batch
	}
	for _, target := range targets {
		if !target.IsEstablished() || target.RemoteAS() == t.localAS {
			continue
		}
		withdrawn := batch.Withdrawn
		for _, g := range batch.Groups {
			if err := target.TxUpdate(g.NLRI, g.Attrs, withdrawn); err != nil {
				t.logger.Warn("failed to send update",
					log.Fields{
						"Topic": "Table",
						"Key":   target,
						"Error": err})
			}
			withdrawn = nil
		}
		if len(withdrawn) > 0 {
			if err := target.TxUpdate(nil, nil, withdrawn); err != nil {
				t.logger.Warn("failed to send withdrawal",
					log.Fields{
						"Topic": "Table",
						"Key":   target,
						"Error": err})
			}
		}
	}
	t.logger.Debug("flushed updates",
		log.Fields{
			"Topic":     "Table",
			"Withdrawn": len(batch.Withdrawn),
			"Groups":    len(batch.Groups)})
	return batch
}
