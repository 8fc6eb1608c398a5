package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wasmledger/wavm/params"
	"github.com/wasmledger/wavm/state"
	"github.com/wasmledger/wavm/vm"
)

// latestRootKey tracks the most recent committed root inside the
// database, so consecutive commands chain without passing --root.
var latestRootKey = []byte("wavm-latest-root")

func buildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("wavm", pflag.ContinueOnError)
	fs.String("db", "", "leveldb directory (in-memory store when empty)")
	fs.String("root", "", "state root to run against (defaults to the last committed root)")
	fs.Uint64("gas", 10_000_000, "gas limit for call")
	fs.Uint64("value", 0, "value transferred with call")
	fs.Uint64("height", 0, "block height exposed to contracts")
	fs.String("caller", "0x0000000000000000000000000000000000000001", "caller address")
	fs.String("input", "", "hex encoded call input")
	fs.String("log-level", "info", "trace|debug|info|warn|error")
	return fs
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "wavm:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := buildFlagSet()
	fs.Usage = func() { printUsage(fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	v := viper.New()
	v.SetEnvPrefix("wavm")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	lvl, err := log.LvlFromString(v.GetString("log-level"))
	if err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	var db state.Database
	if path := v.GetString("db"); path != "" {
		ldb, err := state.OpenLevelDB(path)
		if err != nil {
			return err
		}
		db = ldb
		defer db.Close()
		store := state.NewStore(db)
		return dispatch(fs.Args(), v, store, db)
	}
	store := state.NewMemoryStore()
	return dispatch(fs.Args(), v, store, nil)
}

func dispatch(args []string, v *viper.Viper, store *state.Store, db state.Database) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command, try --help")
	}
	engine := vm.NewEngine(store, params.DefaultConfig(), vm.BlockContext{Height: v.GetUint64("height")})
	switch args[0] {
	case "deploy":
		if len(args) != 2 {
			return fmt.Errorf("usage: wavm deploy <code.wasm>")
		}
		return deploy(engine, v, db, args[1])
	case "call":
		if len(args) != 3 {
			return fmt.Errorf("usage: wavm call <address> <entry>")
		}
		return call(engine, v, db, args[1], args[2])
	case "root":
		root, err := resolveRoot(v, db)
		if err != nil {
			return err
		}
		fmt.Println(root.Hex())
		return nil
	default:
		return fmt.Errorf("unknown command %q, try --help", args[0])
	}
}

func deploy(engine *vm.Engine, v *viper.Viper, db state.Database, path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	root, err := resolveRoot(v, db)
	if err != nil {
		return err
	}
	addr, newRoot, err := engine.Deploy(root, code)
	if err != nil {
		return err
	}
	if err := saveRoot(db, newRoot); err != nil {
		return err
	}
	fmt.Println("address:", addr.Hex())
	fmt.Println("root:   ", newRoot.Hex())
	return nil
}

func call(engine *vm.Engine, v *viper.Viper, db state.Database, addr, entry string) error {
	root, err := resolveRoot(v, db)
	if err != nil {
		return err
	}
	input, err := hex.DecodeString(strings.TrimPrefix(v.GetString("input"), "0x"))
	if err != nil {
		return fmt.Errorf("bad input: %w", err)
	}
	receipt, err := engine.Execute(vm.CallParams{
		Root:     root,
		Caller:   common.HexToAddress(v.GetString("caller")),
		Contract: common.HexToAddress(addr),
		Entry:    entry,
		Input:    input,
		Value:    uint256.NewInt(v.GetUint64("value")),
		GasLimit: v.GetUint64("gas"),
	})
	if err != nil {
		return err
	}
	if err := saveRoot(db, receipt.Root); err != nil {
		return err
	}
	fmt.Println("gas used:", receipt.GasUsed)
	fmt.Println("return:  ", hex.EncodeToString(receipt.ReturnData))
	fmt.Println("root:    ", receipt.Root.Hex())
	for _, ev := range receipt.Events {
		fmt.Printf("event:    %s %q %s\n", ev.Emitter.Hex(), ev.Topic, hex.EncodeToString(ev.Payload))
	}
	return nil
}

func resolveRoot(v *viper.Viper, db state.Database) (common.Hash, error) {
	if s := v.GetString("root"); s != "" {
		return common.HexToHash(s), nil
	}
	if db != nil {
		if buf, err := db.Get(latestRootKey); err == nil && len(buf) == common.HashLength {
			return common.BytesToHash(buf), nil
		}
	}
	return common.Hash{}, nil
}

func saveRoot(db state.Database, root common.Hash) error {
	if db == nil {
		return nil
	}
	return db.Put(latestRootKey, root.Bytes())
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `wavm - deterministic wasm contract runner

commands:
  deploy <code.wasm>       validate, instrument and store a contract
  call <address> <entry>   invoke a deployed contract
  root                     print the current state root

flags:
%s`, fs.FlagUsages())
}
