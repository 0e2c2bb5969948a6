// trackboard is the project tracker's server and maintenance CLI.
package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.3.0"

// Config keys.
const (
	cfgKeyAddr        = "addr"
	cfgKeyContentDir  = "content_dir"
	cfgKeyDatabaseDSN = "database_dsn"
	cfgKeySchemaDir   = "schema_dir"
	cfgKeySessionTTL  = "session_ttl"
	cfgKeyOpenAccess  = "open_access"
)

var (
	flagConfigFile string
	cfg            *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:     "trackboard",
	Short:   "Trackboard is a project tracker with a file or relational backing store",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(flagConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyAddr, ":8080")
	v.SetDefault(cfgKeyContentDir, "./content")
	v.SetDefault(cfgKeyDatabaseDSN, "file:./content")
	v.SetDefault(cfgKeySchemaDir, "")
	v.SetDefault(cfgKeySessionTTL, "12h")
	v.SetDefault(cfgKeyOpenAccess, false)
	v.SetEnvPrefix("TRACKBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("trackboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is not an error; defaults and env
		// cover it. An explicitly named file must exist and parse.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return v, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file (default: ./trackboard.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pagesCmd)
	rootCmd.AddCommand(userCmd)
}
