package dnsproxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDomainLister struct {
	domains []string
}

func (f fakeDomainLister) BlockedDomains(context.Context) ([]string, error) {
	return f.domains, nil
}

func TestProxy_isBlocked(t *testing.T) {
	p := &Proxy{}
	require.NoError(t, p.RefreshFromDB(context.Background()))

	p.Domains = fakeDomainLister{domains: []string{"facebook.com", "*.ads.example"}}
	require.NoError(t, p.RefreshFromDB(context.Background()))

	assert.True(t, p.isBlocked("facebook.com"))
	assert.True(t, p.isBlocked("www.facebook.com"))
	assert.False(t, p.isBlocked("notfacebook.com"))

	assert.True(t, p.isBlocked("x.ads.example"))
	assert.False(t, p.isBlocked("ads.example"))
}

func TestProxy_Serve_blocksAndForwards(t *testing.T) {
	// Fake upstream that always answers with a fixed A record.
	upstream, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, rerr := upstream.ReadFrom(buf)
			if rerr != nil {
				return
			}

			req := new(dns.Msg)
			if uerr := req.Unpack(buf[:n]); uerr != nil {
				continue
			}

			resp := new(dns.Msg)
			resp.SetReply(req)
			packed, _ := resp.Pack()
			_, _ = upstream.WriteTo(packed, addr)
		}
	}()

	p := &Proxy{
		ListenAddr: "127.0.0.1:0",
		Upstream:   upstream.LocalAddr().String(),
		Domains:    fakeDomainLister{domains: []string{"blocked.example"}},
	}
	require.NoError(t, p.RefreshFromDB(context.Background()))

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	listenConn, err := net.ListenPacket("udp", p.ListenAddr)
	require.NoError(t, err)
	p.ListenAddr = listenConn.LocalAddr().String()
	require.NoError(t, listenConn.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.Serve(ctx) }()
	time.Sleep(100 * time.Millisecond) // let the listener bind

	serverAddr, err := net.ResolveUDPAddr("udp", p.ListenAddr)
	require.NoError(t, err)

	// Blocked query.
	blockedReq := new(dns.Msg)
	blockedReq.SetQuestion("blocked.example.", dns.TypeA)
	sendAndAssert(t, conn, serverAddr, blockedReq, dns.RcodeNameError)

	// Allowed query, forwarded upstream.
	okReq := new(dns.Msg)
	okReq.SetQuestion("allowed.example.", dns.TypeA)
	sendAndAssert(t, conn, serverAddr, okReq, dns.RcodeSuccess)
}

func sendAndAssert(t *testing.T, conn net.PacketConn, addr net.Addr, req *dns.Msg, wantRcode int) {
	t.Helper()

	packed, err := req.Pack()
	require.NoError(t, err)

	_, err = conn.WriteTo(packed, addr)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 512)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))
	assert.Equal(t, wantRcode, resp.Rcode)
}
