package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve_merges(t *testing.T) {
	r := &Resolver{
		Lookup: func(_ context.Context, host string) ([]net.IP, error) {
			switch host {
			case "example.com":
				return []net.IP{net.ParseIP("1.1.1.1")}, nil
			case "www.example.com":
				return []net.IP{net.ParseIP("1.1.1.1"), net.ParseIP("2.2.2.2")}, nil
			default:
				return nil, errors.New("no record")
			}
		},
		Workers:  2,
		Deadline: time.Second,
	}

	got, err := r.Resolve(context.Background(), "example.com")
	require.NoError(t, err)

	want := map[netip.Addr]struct{}{
		netip.MustParseAddr("1.1.1.1"): {},
		netip.MustParseAddr("2.2.2.2"): {},
	}
	assert.Equal(t, want, got)
}

func TestResolver_Resolve_allFail(t *testing.T) {
	r := &Resolver{
		Lookup: func(context.Context, string) ([]net.IP, error) {
			return nil, errors.New("nxdomain")
		},
		Workers:  4,
		Deadline: time.Second,
	}

	got, err := r.Resolve(context.Background(), "gone.example")
	require.NoError(t, err)
	assert.Empty(t, got)
}
