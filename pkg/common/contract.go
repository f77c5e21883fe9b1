package common

import "strings"

// KnownSymbols are the root symbols recognised inside broker contract ids.
// Longer roots come first so that "MNQ" wins over "NQ".
var KnownSymbols = []string{"MNQ", "MES", "MCL", "MGC", "M2K", "MYM", "NQ", "ES", "CL", "GC"}

// ExtractSymbol maps a broker contract id such as "CON.F.US.MNQ.Z25" to its root symbol.
// Unknown ids fall back to the fourth dot separated segment and then to the id itself.
func ExtractSymbol(contractID string) string {
	upper := strings.ToUpper(contractID)
	parts := strings.Split(upper, ".")

	for _, symbol := range KnownSymbols {
		for _, part := range parts {
			if part == symbol {
				return symbol
			}
		}
	}
	for _, symbol := range KnownSymbols {
		if strings.Contains(upper, symbol) {
			return symbol
		}
	}

	if len(parts) >= 4 {
		return parts[3]
	}
	return contractID
}
