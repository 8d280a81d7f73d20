//go:build windows

package netutil

import (
	"bufio"
	"fmt"
	"net"
	"os/exec"
	"strings"
)

// DefaultGateway shells out to "route print" and parses the IPv4 default
// route (destination 0.0.0.0), mirroring the arp-table-shelling idiom the
// teacher's arpdb package uses for other neighbor-table facts on Windows.
func DefaultGateway() (net.IP, error) {
	out, err := exec.Command("route", "print", "-4").Output()
	if err != nil {
		return nil, fmt.Errorf("running route print: %w", err)
	}

	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}

		if fields[0] != "0.0.0.0" || fields[1] != "0.0.0.0" {
			continue
		}

		if ip := net.ParseIP(fields[2]); ip != nil {
			return ip.To4(), nil
		}
	}

	if err = sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning route print output: %w", err)
	}

	return nil, fmt.Errorf("no default gateway found")
}
