package peering

import (
	"time"

	"github.com/bgpd-go/bgpd/pkg/log"
	"github.com/bgpd-go/bgpd/pkg/packet/bgp"
)

// startKeepaliveTimer arms the next keepalive, replacing any armed one.
// The firing is posted as an event carrying the timer generation so the
// owner can tell it from a timer that was stopped in the meantime.
func (p *Peer) startKeepaliveTimer() {
	p.stopKeepaliveTimer()
	if p.keepaliveTime == 0 {
		return
	}
	gen := p.keepaliveGen
	addr := p.conf.Address
	post := p.post
	d := time.Duration(p.keepaliveTime) * time.Second
	p.keepaliveTimer = time.AfterFunc(d, func() {
		post(&Event{
			Type:       EventKeepalive,
			Peer:       addr,
			Generation: gen,
			Timestamp:  time.Now(),
		})
	})
}

func (p *Peer) stopKeepaliveTimer() {
	p.keepaliveGen++
	if p.keepaliveTimer == nil {
		return
	}
	if !p.keepaliveTimer.Stop() && p.logger.GetLevel() >= log.DebugLevel {
		p.logger.Debug("keepalive timer already fired",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address})
	}
	p.keepaliveTimer = nil
}

// KeepaliveTimerFired sends a KEEPALIVE and re-arms the timer. A send
// failure is logged; the session is torn down only by the connection
// reporting its own error.
func (p *Peer) KeepaliveTimerFired(gen uint64) {
	if gen != p.keepaliveGen {
		if p.logger.GetLevel() >= log.DebugLevel {
			p.logger.Debug("stale keepalive timer",
				log.Fields{
					"Topic":      "Peer",
					"Key":        p.conf.Address,
					"Generation": gen})
		}
		return
	}
	p.keepaliveTimer = nil
	if err := p.send(bgp.NewBGPKeepAliveMessage()); err != nil {
		p.logger.Warn("failed to send keepalive",
			log.Fields{
				"Topic": "Peer",
				"Key":   p.conf.Address,
				"State": p.state,
				"Error": err})
	}
	p.startKeepaliveTimer()
}
