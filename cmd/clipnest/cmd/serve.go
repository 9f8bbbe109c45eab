package cmd

import (
	"net"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-clipnest/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fetch relay",
	Long: `Starts an HTTP relay that fetches pages on behalf of browser callers.

  GET /relay?url=<page>   (alias: /proxy) returns the page body or a JSON error
  GET /healthz            liveness
  GET /metrics            Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Interface to listen on (overrides config RelayHost)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config RelayPort and PORT)")
	_ = viper.BindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	host := globalConfig.RelayHost
	if cmd.Flags().Changed("host") {
		host = viper.GetString("serve.host")
	}
	port := globalConfig.RelayPort
	if cmd.Flags().Changed("port") {
		port = viper.GetInt("serve.port")
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	rl := relay.New(relay.Options{
		Timeout:      globalConfig.RelayTimeout(),
		MaxBodyBytes: globalConfig.RelayMaxBodyBytes(),
		UserAgents:   globalConfig.UserAgents,
		Transport:    globalHttpTransport,
		Metrics:      relay.NewMetrics(),
	})

	log.WithFields(log.Fields{
		"addr":    addr,
		"timeout": globalConfig.RelayTimeout(),
		"maxBody": globalConfig.RelayMaxBodyMB,
	}).Info("Starting relay")
	return relay.NewServer(addr, rl).Run(cmd.Context())
}
