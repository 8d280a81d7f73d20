package devicescan

import "strings"

// ouiPrefixes maps a handful of well-known OUI prefixes (the first three MAC
// octets) to vendor names. It is intentionally small: a lookup miss degrades
// to an "Unknown" vendor rather than failing the scan.
var ouiPrefixes = map[string]string{
	"00:1a:11": "Google",
	"f4:f5:e8": "Google",
	"3c:5a:b4": "Google",
	"dc:a6:32": "Raspberry Pi Foundation",
	"b8:27:eb": "Raspberry Pi Foundation",
	"00:1c:42": "Apple",
	"f0:18:98": "Apple",
	"ac:de:48": "Apple",
	"00:50:56": "VMware",
	"00:0c:29": "VMware",
	"08:00:27": "Oracle VirtualBox",
	"00:1b:63": "Netgear",
	"c0:3f:0e": "Netgear",
	"00:14:bf": "Cisco-Linksys",
	"00:24:01": "D-Link",
	"00:18:e7": "D-Link",
	"b0:be:76": "TP-Link",
	"50:c7:bf": "TP-Link",
	"a4:2b:b0": "TP-Link",
	"fc:ec:da": "Samsung",
	"5c:0a:5b": "Samsung",
	"00:26:37": "Samsung",
	"28:6a:ba": "Amazon",
	"fc:65:de": "Amazon",
	"44:65:0d": "Amazon",
}

// lookupVendor resolves mac's OUI prefix to a vendor name, or "Unknown".
func lookupVendor(mac string) string {
	if len(mac) < 8 {
		return "Unknown"
	}

	prefix := strings.ToLower(mac[:8])

	if vendor, ok := ouiPrefixes[prefix]; ok {
		return vendor
	}

	return "Unknown"
}

// devTypeByVendor is a small heuristic table mapping vendor substrings to a
// coarse device-type classification, per SPEC_FULL.md §4.7.
var devTypeByVendor = []struct {
	substr  string
	devType string
}{
	{"Netgear", "router"},
	{"TP-Link", "router"},
	{"D-Link", "router"},
	{"Cisco-Linksys", "router"},
	{"Apple", "phone"},
	{"Samsung", "phone"},
	{"Google", "phone"},
	{"Amazon", "iot"},
	{"Raspberry Pi", "pc"},
	{"VMware", "pc"},
	{"Oracle VirtualBox", "pc"},
}

// guessDevType classifies vendor into a coarse device-type bucket, defaulting
// to "unknown".
func guessDevType(vendor string) string {
	for _, entry := range devTypeByVendor {
		if strings.Contains(vendor, entry.substr) {
			return entry.devType
		}
	}

	return "unknown"
}
