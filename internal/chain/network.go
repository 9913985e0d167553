package chain

import "strings"

var networkNames = map[uint64]string{
	1:        "Ethereum",
	5:        "Goerli",
	10:       "Optimism",
	42:       "Kovan",
	56:       "BinanceSmartChain",
	100:      "GnosisChain",
	137:      "Polygon",
	42161:    "Arbitrum",
	43114:    "Avalanche",
	11155111: "Sepolia",
}

var nativeSymbols = map[uint64]string{
	56:    "BNB",
	100:   "xDAI",
	137:   "MATIC",
	43114: "AVAX",
}

// NetworkName returns the cache directory name for a chain id. Unknown
// chains share the "testRPC" directory.
func NetworkName(chainID uint64) string {
	if name, ok := networkNames[chainID]; ok {
		return name
	}
	return "testRPC"
}

// NativeSymbol returns the symbol of the chain's native currency.
func NativeSymbol(chainID uint64) string {
	if symbol, ok := nativeSymbols[chainID]; ok {
		return symbol
	}
	return "ETH"
}

// IsNativeCurrency reports whether currency is the chain's native currency.
func IsNativeCurrency(chainID uint64, currency string) bool {
	return strings.EqualFold(NativeSymbol(chainID), currency)
}
