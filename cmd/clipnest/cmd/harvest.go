package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"text/tabwriter"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-clipnest/internal/database"
	"go-clipnest/internal/downloader"
	"go-clipnest/internal/helpers"
	"go-clipnest/internal/models"
	"go-clipnest/internal/notify"
	"go-clipnest/internal/relay"
	"go-clipnest/internal/session"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest <page-url>",
	Short: "List the images on a web page, optionally collecting or downloading them",
	Long: `Fetches a page through the relay (or directly with --direct), lists every
.jpg/.jpeg/.png/.gif image on it once, and optionally collects each one into
the library (--collect) or saves it under the save path (--download).`,
	Args: cobra.ExactArgs(1),
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.Flags().String("relay", "", "Relay base URL (overrides config RelayURL)")
	harvestCmd.Flags().Bool("direct", false, "Fetch the page directly instead of through a relay")
	harvestCmd.Flags().Bool("collect", false, "Collect every listed image into the library")
	harvestCmd.Flags().Bool("download", false, "Download every listed image into the save path")
	harvestCmd.Flags().IntP("concurrency", "c", 4, "Number of items acted on at once")
	harvestCmd.Flags().String("format", "table", "Output format for the listing (table, json)")

	_ = viper.BindPFlag("harvest.relay", harvestCmd.Flags().Lookup("relay"))
	_ = viper.BindPFlag("harvest.direct", harvestCmd.Flags().Lookup("direct"))
	_ = viper.BindPFlag("harvest.collect", harvestCmd.Flags().Lookup("collect"))
	_ = viper.BindPFlag("harvest.download", harvestCmd.Flags().Lookup("download"))
	_ = viper.BindPFlag("harvest.concurrency", harvestCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("harvest.format", harvestCmd.Flags().Lookup("format"))
}

func newPageFetcher() session.PageFetcher {
	if viper.GetBool("harvest.direct") {
		f := session.NewCollyFetcher(firstAgent(), globalConfig.RelayTimeout())
		f.Transport = globalHttpTransport
		log.Debug("Fetching pages directly")
		return f
	}
	base := globalConfig.RelayURL
	if v := viper.GetString("harvest.relay"); v != "" {
		base = v
	}
	log.Debugf("Fetching pages through relay at %s", base)
	return relay.NewClient(base, httpClient(globalConfig.RelayTimeout()+globalConfig.RelayTimeout()/2))
}

func firstAgent() string {
	if len(globalConfig.UserAgents) > 0 {
		return globalConfig.UserAgents[0]
	}
	return relay.DefaultUserAgents[0]
}

func runHarvest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pageURL := args[0]
	collect := viper.GetBool("harvest.collect")
	download := viper.GetBool("harvest.download")

	notes := notify.NewCenter(globalConfig.NotificationTTL(), notify.LogSender{})
	defer notes.Close()

	opts := []session.Option{
		session.WithNotifier(notes),
		session.WithSaver(downloader.NewDownloader(httpClient(globalConfig.DownloadTimeout()), firstAgent())),
	}
	if collect {
		lib, err := openLibrary()
		if err != nil {
			return fmt.Errorf("opening library at %s: %w", globalConfig.DatabasePath, err)
		}
		defer lib.close()
		opts = append(opts, session.WithStore(lib.store))
	}

	s := session.New(newPageFetcher(), opts...)
	defer s.Close()

	snap, err := s.Submit(ctx, pageURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, session.MsgFetchFailed)
		return err
	}
	if snap.Message != "" {
		fmt.Println(snap.Message)
		return nil
	}

	if err := printItems(snap.Items, viper.GetString("harvest.format")); err != nil {
		return err
	}
	if !collect && !download {
		return nil
	}

	dir := filepath.Join(globalConfig.SavePath, pageFolder(pageURL))
	failed := actOnItems(ctx, s, snap.Items, dir, collect, download, viper.GetInt("harvest.concurrency"))
	if failed > 0 {
		return fmt.Errorf("%d of %d item action(s) failed", failed, len(snap.Items))
	}
	return nil
}

// pageFolder names the download folder after the page's host.
func pageFolder(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "page"
	}
	if slug := helpers.ConvertToSlug(u.Host); slug != "" {
		return slug
	}
	return "page"
}

func printItems(items []models.ImageDescriptor, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case "table", "":
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tTitle\tURL")
		fmt.Fprintln(tw, "-\t-----\t---")
		for i, item := range items {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, helpers.Truncate(item.Title, 40), item.URL)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d image(s) found\n", len(items))
		return nil
	default:
		return fmt.Errorf("unknown format %q (use table or json)", format)
	}
}

// actOnItems runs the requested actions for every item with a small worker
// pool and live per-item status lines. It returns how many actions failed.
func actOnItems(ctx context.Context, s *session.Session, items []models.ImageDescriptor, dir string, collect, download bool, concurrency int) int64 {
	if concurrency < 1 {
		concurrency = 1
	}

	writer := uilive.New()
	writer.Start()

	jobs := make(chan models.ImageDescriptor)
	var wg sync.WaitGroup
	var failures, successes int64

	for w := 1; w <= concurrency; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for item := range jobs {
				name := downloader.SuggestedFilename(item.URL)
				if collect {
					fmt.Fprintf(writer.Newline(), "Worker %d: Collecting %s...\n", id, name)
					rec, err := s.Collect(ctx, item.URL)
					if errors.Is(err, database.ErrDuplicateURL) {
						fmt.Fprintf(writer.Newline(), "Worker %d: Skipping %s (already collected)\n", id, name)
					} else if err != nil {
						atomic.AddInt64(&failures, 1)
						fmt.Fprintf(writer.Newline(), "Worker %d: Collect failed for %s: %v\n", id, name, err)
					} else {
						atomic.AddInt64(&successes, 1)
						fmt.Fprintf(writer.Newline(), "Worker %d: Collected %s as #%d\n", id, name, rec.ID)
					}
				}
				if download {
					fmt.Fprintf(writer.Newline(), "Worker %d: Downloading %s...\n", id, name)
					path, err := s.Download(ctx, item.URL, dir)
					if err != nil {
						atomic.AddInt64(&failures, 1)
						fmt.Fprintf(writer.Newline(), "Worker %d: Error downloading %s: %v\n", id, name, err)
						continue
					}
					atomic.AddInt64(&successes, 1)
					fmt.Fprintf(writer.Newline(), "Worker %d: Saved %s\n", id, path)
				}
			}
		}(w)
	}

	for _, item := range items {
		select {
		case jobs <- item:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	writer.Stop()

	log.Infof("Harvest actions finished: %d succeeded, %d failed", successes, failures)
	return failures
}
