// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/hashvault/custody/internal/cfgutil"
)

const (
	defaultConfigFilename   = "custodyscan.conf"
	defaultLogLevel         = "info"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "custodyscan.log"
	defaultPollInterval     = 30 * time.Second
	defaultMaxBlocksPerScan = 200

	defaultBTCPort        = "8332"
	defaultBTCTestNetPort = "18332"

	custodyDbName = "custody.db"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("custodyscan", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir  *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory for the embedded database and logs"`
	TestNet     bool                    `long:"testnet" description:"Use the test networks (Bitcoin testnet3, Ethereum Sepolia) (default mainnet)"`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      string                  `long:"logdir" description:"Directory to log output."`
	EnvFile     string                  `long:"envfile" description:"Load additional environment variables from this file before reading credentials"`

	// Scan behavior
	PollInterval     time.Duration `long:"pollinterval" description:"Time between scan cycles.  Valid time units are {s, m, h}"`
	MaxBlocksPerScan int64         `long:"maxblocksperscan" description:"Max number of blocks walked in a single scan cycle"`

	// Bitcoin node options
	BTCConnect  string              `long:"btcconnect" description:"Hostname/IP and port of the bitcoind RPC server (default port: 8332, testnet: 18332)"`
	BTCUsername string              `long:"btcusername" description:"Username for bitcoind RPC authentication"`
	BTCPassword string              `long:"btcpassword" default-mask:"-" description:"Password for bitcoind RPC authentication"`
	MinDeposit  *cfgutil.AmountFlag `long:"mindeposit" description:"Ignore Bitcoin outputs below this amount"`

	// Ethereum node options
	ETHConnect string `long:"ethconnect" description:"URL of the Ethereum JSON-RPC endpoint"`

	// Storage options
	PostgresDSN string `long:"postgres" default-mask:"-" description:"PostgreSQL connection string; when unset an embedded database under appdata is used"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(homeDir, path[1:]))
}

// validLogLevel returns whether logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems
// for logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and
// set the levels accordingly.  An appropriate error is returned if anything
// is invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in the scanner functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		DebugLevel:       defaultLogLevel,
		ConfigFile:       cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir:       cfgutil.NewExplicitString(defaultAppDataDir),
		LogDir:           defaultLogDir,
		PollInterval:     defaultPollInterval,
		MaxBlocksPerScan: defaultMaxBlocksPerScan,
		MinDeposit:       cfgutil.NewAmountFlag(0),
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = cleanAndExpandPath(configFilePath)
	} else if preCfg.AppDataDir.ExplicitlySet() {
		appDataDir := cleanAndExpandPath(preCfg.AppDataDir.Value)
		configFilePath = filepath.Join(appDataDir, defaultConfigFilename)
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		// Missing config file is fine as long as it wasn't explicitly
		// requested.
		if preCfg.ConfigFile.ExplicitlySet() {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// If an alternate data directory was specified, derive the log
	// directory from it unless one was set explicitly.
	if cfg.AppDataDir.ExplicitlySet() {
		cfg.AppDataDir.Value = cleanAndExpandPath(cfg.AppDataDir.Value)
		if !preCfg.ConfigFile.ExplicitlySet() {
			cfg.LogDir = filepath.Join(cfg.AppDataDir.Value,
				defaultLogDirname)
		}
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Initialize log rotation.  After it is initialized, use the
	// package-global logger variables.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", "loadConfig", err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Node credentials and connection strings may live in the
	// environment instead of the config file.  An explicit env file is
	// loaded first so it can provide them.
	if cfg.EnvFile != "" {
		if err := godotenv.Load(cleanAndExpandPath(cfg.EnvFile)); err != nil {
			log.Errorf("Failed to load environment file %s: %v",
				cfg.EnvFile, err)
			return nil, nil, err
		}
	} else {
		// A .env in the working directory is picked up when present.
		_ = godotenv.Load()
	}
	if cfg.BTCUsername == "" {
		cfg.BTCUsername = os.Getenv("CUSTODY_BTC_USERNAME")
	}
	if cfg.BTCPassword == "" {
		cfg.BTCPassword = os.Getenv("CUSTODY_BTC_PASSWORD")
	}
	if cfg.ETHConnect == "" {
		cfg.ETHConnect = os.Getenv("CUSTODY_ETH_URL")
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = os.Getenv("CUSTODY_POSTGRES_DSN")
	}

	// Normalize the bitcoind endpoint, adding the default port when
	// missing.
	if cfg.BTCConnect != "" {
		port := defaultBTCPort
		if cfg.TestNet {
			port = defaultBTCTestNetPort
		}
		cfg.BTCConnect, err = cfgutil.NormalizeAddress(cfg.BTCConnect, port)
		if err != nil {
			err := fmt.Errorf("invalid btcconnect address: %v", err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	if cfg.BTCConnect == "" && cfg.ETHConnect == "" {
		err := fmt.Errorf("no chain endpoints configured; set " +
			"--btcconnect and/or --ethconnect")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if cfg.PollInterval < time.Second {
		err := fmt.Errorf("pollinterval %v is below the 1s minimum",
			cfg.PollInterval)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
