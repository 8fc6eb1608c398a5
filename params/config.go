package params

// Engine limits. These are consensus policy parameters: every node of a
// ledger must run with the same values.
const (
	// CallCreateDepth is the maximum nesting of contract calls.
	CallCreateDepth = 128

	// MaxCodeSize bounds the raw bytecode accepted by the loader.
	MaxCodeSize = 1 << 20

	// MaxMemoryPages caps a contract's linear memory (64 KiB pages).
	MaxMemoryPages = 256
)

// Config carries the engine policy parameters.
type Config struct {
	MaxCallDepth   int
	MaxCodeSize    int
	MaxMemoryPages uint32
	GasTable       *GasTable
}

// DefaultConfig returns the reference ledger parameters.
func DefaultConfig() *Config {
	return &Config{
		MaxCallDepth:   CallCreateDepth,
		MaxCodeSize:    MaxCodeSize,
		MaxMemoryPages: MaxMemoryPages,
		GasTable:       DefaultGasTable(),
	}
}
