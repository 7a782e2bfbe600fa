// Package privacy provides masking helpers for values that appear in
// responses and logs but must never be shown in full.
package privacy

import "strings"

// MaskEmail keeps the first two characters of the local part and the domain:
// "citizen@example.org" -> "ci***@example.org".
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	local := email[:at]
	if len(local) <= 2 {
		return local[:1] + "***" + email[at:]
	}
	return local[:2] + "***" + email[at:]
}

// MaskDocumentNumber keeps only the last four characters:
// "123456789012" -> "XXXX-XXXX-9012".
func MaskDocumentNumber(number string) string {
	if len(number) < 4 {
		return "XXXX"
	}
	return "XXXX-XXXX-" + number[len(number)-4:]
}

// MaskPhone keeps the last four digits of a delivery channel identifier.
func MaskPhone(phone string) string {
	if len(phone) < 4 {
		return "XXXXXX"
	}
	return "XXXXXX" + phone[len(phone)-4:]
}

// AnonymizeIP truncates an address for audit records: the last IPv4 octet or
// everything past the second IPv6 group is dropped.
func AnonymizeIP(ip string) string {
	if ip == "" {
		return ""
	}
	if i := strings.LastIndexByte(ip, '.'); i > 0 {
		return ip[:i] + ".0"
	}
	groups := strings.Split(ip, ":")
	if len(groups) > 2 {
		return groups[0] + ":" + groups[1] + "::"
	}
	return ip
}
