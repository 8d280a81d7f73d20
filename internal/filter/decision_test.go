package filter

import (
	"testing"

	"github.com/gobwas/glob"
	"github.com/stretchr/testify/assert"
)

func TestDecide_ipLevelDeny(t *testing.T) {
	pkt := parsedPacket{dstIP: "1.2.3.4", protocol: "TCP", dstPort: 443}
	snap := snapshot{blockedIPs: map[string]struct{}{"1.2.3.4": {}}}

	o := decide(pkt, snap)
	assert.True(t, o.drop)
	assert.Empty(t, o.tempBlockIP)
}

func TestDecide_quicHardDrop(t *testing.T) {
	pkt := parsedPacket{dstIP: "5.5.5.5", protocol: "UDP", dstPort: 443}

	o := decide(pkt, snapshot{})
	assert.True(t, o.drop)
}

func TestDecide_domainMatchViaSNI(t *testing.T) {
	payload := buildClientHello(t, "www.blocked.example")
	pkt := parsedPacket{dstIP: "9.9.9.9", protocol: "TCP", dstPort: 443, payload: payload}
	snap := snapshot{domains: map[string]struct{}{"blocked.example": {}}}

	o := decide(pkt, snap)
	assert.True(t, o.drop)
	assert.Equal(t, "9.9.9.9", o.tempBlockIP)
	assert.Equal(t, "www.blocked.example", o.tempBlockDomain)
}

func TestDecide_domainMatchFallsBackToSubstringScan(t *testing.T) {
	pkt := parsedPacket{
		dstIP:    "9.9.9.9",
		protocol: "TCP",
		dstPort:  80,
		payload:  []byte("\x00\x01\x02 contains blocked.example somewhere in the body \x03"),
	}
	snap := snapshot{domains: map[string]struct{}{"blocked.example": {}}}

	o := decide(pkt, snap)
	assert.True(t, o.drop)
	assert.Equal(t, "9.9.9.9", o.tempBlockIP)
}

func TestDecide_dohHardDrop(t *testing.T) {
	pkt := parsedPacket{
		dstIP:    "1.1.1.1",
		protocol: "TCP",
		dstPort:  443,
		payload:  []byte("...cloudflare-dns.com..."),
	}

	o := decide(pkt, snapshot{})
	assert.True(t, o.drop)
}

func TestDecide_applicationMatch(t *testing.T) {
	payload := []byte("GET / HTTP/1.1\r\nHost: app.example.com\r\n\r\n")
	pkt := parsedPacket{dstIP: "2.2.2.2", protocol: "TCP", dstPort: 80, payload: payload}

	g, err := glob.Compile("app.*.com")
	assert.NoError(t, err)

	snap := snapshot{signatures: []signature{{appName: "test-app", pattern: g}}}

	o := decide(pkt, snap)
	assert.True(t, o.drop)
	assert.Equal(t, "2.2.2.2", o.tempBlockIP)
}

func TestDecide_default_reinject(t *testing.T) {
	payload := []byte("GET / HTTP/1.1\r\nHost: allowed.example.com\r\n\r\n")
	pkt := parsedPacket{dstIP: "3.3.3.3", protocol: "TCP", dstPort: 80, payload: payload}

	o := decide(pkt, snapshot{})
	assert.False(t, o.drop)
}
