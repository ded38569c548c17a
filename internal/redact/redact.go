// Package redact shortens sensitive identifiers before they reach logs.
package redact

// Address elides the middle of a hex address, keeping four significant
// characters from each end: 0xAAAA…BBBB. Anything too short to elide is
// returned unchanged.
func Address(addr string) string {
	if len(addr) < 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// Nonce keeps the leading eight characters of a nonce so log lines can
// be correlated without reproducing the full replay key.
func Nonce(nonce string) string {
	if len(nonce) <= 10 {
		return nonce
	}
	return nonce[:10] + "…"
}
