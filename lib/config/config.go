package config

import (
	"errors"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/util"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GOS0_BASE_DIR = ".go-s0"

// InitConfig loads the configuration file named by CfgFile, or
// $HOME/.go-s0/config.yaml, creating the latter with defaults when missing.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildBaseDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("base_dir", d.Node.BaseDir)
	viper.SetDefault("node_id", d.Node.NodeID)
	viper.SetDefault("transmit_options", d.Node.TransmitOptions)
	viper.SetDefault("network_key_file", d.Node.NetworkKeyFile)

	viper.SetDefault("security.strategy", d.Security.Strategy)
	viper.SetDefault("security.custom_secured_cc", d.Security.CustomSecuredCC)
	viper.SetDefault("security.nonce_ttl", d.Security.NonceTTL)
	viper.SetDefault("security.nonce_rate", d.Security.NonceRate)
	viper.SetDefault("security.nonce_burst", d.Security.NonceBurst)
	viper.SetDefault("security.state_file", d.Security.StateFile)
}

// CurrentConfig reads the active configuration from viper, using the same
// keys setDefaults writes. Relative file paths are resolved inside base_dir.
func CurrentConfig() ConfigDefaults {
	baseDir := viper.GetString("base_dir")
	return ConfigDefaults{
		Node: NodeDefaults{
			BaseDir:         baseDir,
			NodeID:          uint8(viper.GetUint("node_id")),
			TransmitOptions: uint8(viper.GetUint("transmit_options")),
			NetworkKeyFile:  resolveDataPath(baseDir, viper.GetString("network_key_file")),
		},
		Security: SecurityDefaults{
			Strategy:        viper.GetString("security.strategy"),
			CustomSecuredCC: viper.GetString("security.custom_secured_cc"),
			NonceTTL:        viper.GetDuration("security.nonce_ttl"),
			NonceRate:       viper.GetFloat64("security.nonce_rate"),
			NonceBurst:      viper.GetInt("security.nonce_burst"),
			StateFile:       resolveDataPath(baseDir, viper.GetString("security.state_file")),
		},
	}
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := CreateSecureDirectory(defaultConfigDir); err != nil {
		return oops.Wrapf(err, "could not create config directory")
	}

	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		return oops.Wrapf(err, "could not write default config file")
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return oops.Wrapf(err, "error reading config file")
	}
	if CfgFile != "" {
		return oops.Wrapf(err, "config file %s is not found", CfgFile)
	}
	return createDefaultConfig(BuildBaseDirPath())
}

// BuildBaseDirPath returns $HOME/.go-s0
func BuildBaseDirPath() string {
	return filepath.Join(util.UserHome(), GOS0_BASE_DIR)
}
