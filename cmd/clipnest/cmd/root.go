package cmd

import (
	"net/http"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-clipnest/index"
	"go-clipnest/internal/config"
	"go-clipnest/internal/database"
	"go-clipnest/internal/helpers"
	"go-clipnest/internal/models"
	"go-clipnest/internal/transport"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

var logLevel string
var logFormat string

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper = http.DefaultTransport

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clipnest",
	Short: "Collect images from web pages into a local library",
	Long: `ClipNest collects images from web pages into a local, de-duplicated library.

Run a relay with 'serve', harvest a page's images with 'harvest', simulate the
in-page capture button with 'capture', and inspect the library with 'db' and 'search'.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Root returns the root command for execution by main.
func Root() *cobra.Command {
	return rootCmd
}

// Shutdown flushes and closes the HTTP log if one was opened.
func Shutdown() {
	if loggingTransport, ok := globalHttpTransport.(*transport.LoggingTransport); ok && loggingTransport != nil {
		log.Debug("Closing HTTP logging transport file.")
		if err := loggingTransport.Close(); err != nil {
			log.WithError(err).Error("Error closing HTTP log file")
		}
		globalHttpTransport = http.DefaultTransport
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().Bool("log-http", false, "Dump outbound HTTP traffic to http.log in the save path (overrides config)")
	rootCmd.PersistentFlags().String("save-path", "", "Directory for downloads and logs (overrides config)")
	rootCmd.PersistentFlags().String("db-path", "", "Image library database path (overrides config)")

	_ = viper.BindPFlag("log_http", rootCmd.PersistentFlags().Lookup("log-http"))
	_ = viper.BindPFlag("save_path", rootCmd.PersistentFlags().Lookup("save-path"))
	_ = viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db-path"))

	cobra.OnInitialize(initLogging)
}

// initLogging configures logrus based on persistent flags
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.Debugf("Logging configured: Level=%s, Format=%s", log.GetLevel(), logFormat)
}

// loadGlobalConfig loads the configuration and applies flag overrides.
// It also sets up the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-http") {
		globalConfig.LogHttpRequests = viper.GetBool("log_http")
		log.Debugf("Overriding LogHttpRequests based on --log-http flag: %t", globalConfig.LogHttpRequests)
	}
	if v := viper.GetString("save_path"); v != "" {
		globalConfig.SavePath = v
		log.Debugf("Overriding SavePath based on --save-path flag: %s", v)
	}
	if v := viper.GetString("db_path"); v != "" {
		globalConfig.DatabasePath = v
		log.Debugf("Overriding DatabasePath based on --db-path flag: %s", v)
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogHttpRequests {
		if !helpers.CheckAndMakeDir(globalConfig.SavePath) {
			log.Warnf("SavePath '%s' could not be created, HTTP logging disabled.", globalConfig.SavePath)
			return nil
		}
		logFilePath := filepath.Join(globalConfig.SavePath, "http.log")
		loggingTransport, err := transport.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize HTTP logging transport, logging disabled.")
			return nil
		}
		log.Infof("HTTP logging to file: %s", logFilePath)
		globalHttpTransport = loggingTransport
	}
	return nil
}

// httpClient returns a client using the global transport.
func httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: globalHttpTransport}
}

// library is an open image store with its search index attached.
type library struct {
	store *database.ImageStore
	index *index.RecordIndexer
	close func()
}

// openLibrary opens the image store and, when the search index can be opened,
// keeps it in sync with every insert. The store opens first so a library held
// by another process fails fast; an index that is missing or held elsewhere
// only costs searchability.
func openLibrary() (*library, error) {
	lib := &library{}
	var opts []database.StoreOption

	// hook.target is set once the index opens.
	hook := &lateIndexer{}
	opts = append(opts, database.WithRecordIndexer(hook))

	store, err := database.OpenImageStore(globalConfig.DatabasePath, opts...)
	if err != nil {
		return nil, err
	}
	lib.store = store

	bleveIndex, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warnf("Search index at %s unavailable, new images will not be searchable", globalConfig.BleveIndexPath)
		bleveIndex = nil
	} else {
		lib.index = index.NewRecordIndexer(bleveIndex)
		hook.target = lib.index
	}

	lib.close = func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Error closing image store")
		}
		if bleveIndex != nil {
			if err := bleveIndex.Close(); err != nil {
				log.WithError(err).Warn("Error closing search index")
			}
		}
	}
	return lib, nil
}

// lateIndexer forwards to target once the search index is open.
type lateIndexer struct {
	target database.RecordIndexer
}

func (l *lateIndexer) IndexRecord(rec models.ImageRecord) error {
	if l.target == nil {
		return nil
	}
	return l.target.IndexRecord(rec)
}
