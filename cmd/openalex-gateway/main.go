// Command openalex-gateway serves bulk OpenAlex queries over HTTP and runs
// one-shot collaboration sweeps from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/openalex-client/internal/config"
	"github.com/Sternrassler/openalex-client/pkg/logging"
)

// version is set at build time via ldflags.
var version = "dev"

// cfg is loaded before every command except version.
var cfg *config.Config

// flagKeys maps command-line flags to configuration keys. Only flags set on
// the command line override the file and environment.
var flagKeys = map[string]string{
	"mailto":        "openalex.mailto",
	"base-url":      "openalex.base_url",
	"max-rps":       "ratelimit.max_rps",
	"workers":       "collab.workers",
	"cache-backend": "cache.backend",
	"redis-addr":    "cache.redis_addr",
	"log-level":     "log.level",
	"log-pretty":    "log.pretty",
	"addr":          "server.addr",
}

var rootCmd = &cobra.Command{
	Use:   "openalex-gateway",
	Short: "Rate-limited bulk access to the OpenAlex works API",
	Long: `openalex-gateway batches, paginates and caches OpenAlex queries.

It serves work searches, author lookups and collaboration networks over HTTP
(serve) and computes collaboration matrices for author IDs given on the
command line (collab). Configuration comes from openalex.yaml, OPENALEX_*
environment variables and flags.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./openalex.yaml or /etc/openalex/openalex.yaml)")
	flags.String("mailto", "", "contact address sent with every OpenAlex request")
	flags.String("base-url", "", "OpenAlex API base URL")
	flags.Float64("max-rps", 0, "requests per second towards OpenAlex (1-10)")
	flags.Int("workers", 0, "concurrent batch queries")
	flags.String("cache-backend", "", "cache backend: memory or redis")
	flags.String("redis-addr", "", "Redis address for the redis backend")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("log-pretty", false, "human-readable console logs")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("config")
	v := config.NewViper(file)
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	c, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logging.Setup(c.Log)
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
