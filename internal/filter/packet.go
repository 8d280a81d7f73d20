package filter

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// parsedPacket is the subset of an IPv4 packet the decision pipeline needs.
type parsedPacket struct {
	dstIP    string
	dstPort  uint16
	protocol string // "TCP" or "UDP"
	payload  []byte
}

// parsePacket decodes raw (a whole packet delivered by the network-layer
// capture handle, so no Ethernet header) into a parsedPacket. It reports
// false for anything that isn't a TCP or UDP segment over IPv4, which the
// capture filter shouldn't be delivering in the first place.
func parsePacket(raw []byte) (parsedPacket, bool) {
	packet := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.NoCopy)

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return parsedPacket{}, false
	}

	ip, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return parsedPacket{}, false
	}

	switch ip.Protocol {
	case layers.IPProtocolTCP:
		tcpLayer, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok {
			return parsedPacket{}, false
		}

		return parsedPacket{
			dstIP:    ip.DstIP.String(),
			dstPort:  uint16(tcpLayer.DstPort),
			protocol: "TCP",
			payload:  tcpLayer.Payload,
		}, true

	case layers.IPProtocolUDP:
		udpLayer, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			return parsedPacket{}, false
		}

		return parsedPacket{
			dstIP:    ip.DstIP.String(),
			dstPort:  uint16(udpLayer.DstPort),
			protocol: "UDP",
			payload:  udpLayer.Payload,
		}, true

	default:
		return parsedPacket{}, false
	}
}
