package config

import (
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/recoverylabs/recoveryd/metrics"
	"github.com/recoverylabs/recoveryd/util"
)

// Constants for config default values
const (
	defaultLogLevel       = zapcore.InfoLevel
	defaultLogDirname     = "logs"
	defaultLogFilename    = "recoveryd.log"
	defaultConfigFileName = "recoveryd.conf"
	defaultDataDirname    = "data"
	DefaultAPIPort        = 12701
	// defaultMaxFriends bounds the friend list of a single configuration.
	// Vouch sets are subsets of the friend list, so this bound covers them too.
	defaultMaxFriends = 9
	// default deposit parameters, in protocol units
	defaultConfigDepositBase   = 10
	defaultFriendDepositFactor = 1
	defaultRecoveryDeposit     = 10
)

var (
	//   C:\Users\<username>\AppData\Local\Recoveryd on Windows
	//   ~/.recoveryd on Linux
	//   ~/Library/Application Support/Recoveryd on MacOS
	DefaultRecoverydDir = btcutil.AppDataDir("recoveryd", false)

	DefaultAPIListener = fmt.Sprintf("127.0.0.1:%d", DefaultAPIPort)
)

// Config is the main config for the recoveryd cli command
type Config struct {
	LogLevel string `long:"loglevel" description:"Logging level for all subsystems" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal"`

	MaxFriends          uint32 `long:"maxfriends" description:"The maximum number of friends in one recovery configuration"`
	ConfigDepositBase   uint64 `long:"configdepositbase" description:"The base deposit reserved when creating a recovery configuration"`
	FriendDepositFactor uint64 `long:"frienddepositfactor" description:"The additional deposit reserved per registered friend"`
	RecoveryDeposit     uint64 `long:"recoverydeposit" description:"The deposit reserved when initiating a recovery attempt"`

	RootAuthority string `long:"rootauthority" description:"Hex account id of the privileged authority allowed to override proxy links; empty disables overrides"`
	HMACKey       string `long:"hmackey" description:"The HMAC key for API request authentication; empty disables authentication"`

	APIListener string `long:"apilistener" description:"the listener for API connections, e.g., 127.0.0.1:1234"`

	DatabaseConfig *DBConfig `group:"dbconfig" namespace:"dbconfig"`

	Metrics *metrics.Config `group:"metrics" namespace:"metrics"`
}

func DefaultConfigWithHome(homePath string) Config {
	cfg := Config{
		LogLevel:            defaultLogLevel.String(),
		MaxFriends:          defaultMaxFriends,
		ConfigDepositBase:   defaultConfigDepositBase,
		FriendDepositFactor: defaultFriendDepositFactor,
		RecoveryDeposit:     defaultRecoveryDeposit,
		APIListener:         DefaultAPIListener,
		DatabaseConfig:      DefaultDBConfigWithHomePath(homePath),
		Metrics:             metrics.DefaultRecoverydConfig(),
	}

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	return cfg
}

func DefaultConfig() Config {
	return DefaultConfigWithHome(DefaultRecoverydDir)
}

func CfgFile(homePath string) string {
	return filepath.Join(homePath, defaultConfigFileName)
}

func LogDir(homePath string) string {
	return filepath.Join(homePath, defaultLogDirname)
}

func LogFile(homePath string) string {
	return filepath.Join(LogDir(homePath), defaultLogFilename)
}

func DataDir(homePath string) string {
	return filepath.Join(homePath, defaultDataDirname)
}

// LoadConfig initializes and parses the config using the config file found
// under the home directory.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Load configuration file overwriting defaults with any specified options
func LoadConfig(homePath string) (*Config, error) {
	// The home directory is required to have a configuration file with a specific name
	// under it.
	cfgFile := CfgFile(homePath)
	if !util.FileExists(cfgFile) {
		return nil, fmt.Errorf("specified config file does "+
			"not exist in %s", cfgFile)
	}

	// Next, load any additional configuration options from the file.
	var cfg Config
	fileParser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(fileParser).ParseFile(cfgFile)
	if err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the given configuration to be sane. This makes sure no
// illegal values or a combination of values are set.
func (cfg *Config) Validate() error {
	if cfg.MaxFriends == 0 {
		return fmt.Errorf("maxfriends must be positive")
	}

	if cfg.RecoveryDeposit == 0 {
		return fmt.Errorf("recoverydeposit must be positive")
	}

	if cfg.APIListener == "" {
		return fmt.Errorf("apilistener must be set")
	}

	if cfg.Metrics == nil {
		return fmt.Errorf("metrics config is required")
	}

	if err := cfg.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if cfg.DatabaseConfig == nil {
		return fmt.Errorf("db config is required")
	}

	return nil
}
