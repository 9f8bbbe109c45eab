package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/parquet-go/parquet-go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go-clipnest/index"
	"go-clipnest/internal/database"
	"go-clipnest/internal/helpers"
	"go-clipnest/internal/models"
)

// dbCmd represents the base command for library operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the image library",
	Long:  `List, describe, export, or re-index the images collected into the library.`,
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collected images, oldest first",
	RunE:  runDbList,
}

var dbInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the library's schema version and size",
	RunE:  runDbInfo,
}

var dbExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export collected images to a file",
	Long:  `Writes every collected image record to --out as JSON, YAML, or Parquet.`,
	RunE:  runDbExport,
}

var dbReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the library",
	RunE:  runDbReindex,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbListCmd)
	dbCmd.AddCommand(dbInfoCmd)
	dbCmd.AddCommand(dbExportCmd)
	dbCmd.AddCommand(dbReindexCmd)

	dbListCmd.Flags().String("format", "table", "Output format (table, json, yaml)")
	dbExportCmd.Flags().String("out", "", "Output file (required)")
	dbExportCmd.Flags().String("format", "", "Output format (json, yaml, parquet); inferred from --out when empty")
	_ = dbExportCmd.MarkFlagRequired("out")
}

func openStoreOnly() (*database.ImageStore, error) {
	if globalConfig.DatabasePath == "" {
		return nil, fmt.Errorf("database path is not set in the configuration")
	}
	store, err := database.OpenImageStore(globalConfig.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening library at %s: %w", globalConfig.DatabasePath, err)
	}
	return store, nil
}

func runDbList(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	store, err := openStoreOnly()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	switch format {
	case "json":
		return writeJSON(os.Stdout, records)
	case "yaml":
		return writeYAML(os.Stdout, records)
	case "table", "":
		return writeTable(os.Stdout, records)
	default:
		return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
	}
}

func writeTable(w io.Writer, records []models.ImageRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCollected\tTitle\tURL\tSource Page")
	fmt.Fprintln(tw, "--\t---------\t-----\t---\t-----------")
	for _, rec := range records {
		collected := time.UnixMilli(rec.Timestamp).Format("2006-01-02 15:04:05")
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			rec.ID, collected, helpers.Truncate(rec.Title, 30), rec.URL, helpers.Truncate(rec.SourcePage, 50))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal: %d image(s)\n", len(records))
	return nil
}

func writeJSON(w io.Writer, records []models.ImageRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func writeYAML(w io.Writer, records []models.ImageRecord) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return err
	}
	return enc.Close()
}

func writeParquet(w io.Writer, records []models.ImageRecord) error {
	pw := parquet.NewGenericWriter[models.ImageRecord](w)
	if _, err := pw.Write(records); err != nil {
		return err
	}
	return pw.Close()
}

func runDbInfo(cmd *cobra.Command, args []string) error {
	store, err := openStoreOnly()
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := store.SchemaVersion()
	if err != nil {
		return err
	}
	count, err := store.Count()
	if err != nil {
		return err
	}

	fmt.Printf("Path:           %s\n", globalConfig.DatabasePath)
	fmt.Printf("Schema version: %d (current %d)\n", version, database.CurrentSchemaVersion)
	fmt.Printf("Images:         %d\n", count)
	return nil
}

func exportFormat(flag, out string) string {
	if flag != "" {
		return strings.ToLower(flag)
	}
	switch strings.ToLower(filepath.Ext(out)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".parquet":
		return "parquet"
	default:
		return "json"
	}
}

func runDbExport(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	formatFlag, _ := cmd.Flags().GetString("format")
	format := exportFormat(formatFlag, out)

	var write func(io.Writer, []models.ImageRecord) error
	switch format {
	case "json":
		write = writeJSON
	case "yaml":
		write = writeYAML
	case "parquet":
		write = writeParquet
	default:
		return fmt.Errorf("unknown export format %q (use json, yaml or parquet)", format)
	}

	store, err := openStoreOnly()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(out); dir != "." && !helpers.CheckAndMakeDir(dir) {
		return fmt.Errorf("cannot create directory for %s", out)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := write(f, records); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s export: %w", format, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Infof("Exported %d image(s) to %s (%s)", len(records), out, format)
	return nil
}

func runDbReindex(cmd *cobra.Command, args []string) error {
	store, err := openStoreOnly()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	if err := index.DeleteIndex(globalConfig.BleveIndexPath); err != nil {
		return fmt.Errorf("removing old index: %w", err)
	}
	bleveIndex, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return err
	}
	defer bleveIndex.Close()

	n, err := index.NewRecordIndexer(bleveIndex).Rebuild(records)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d image(s) into %s\n", n, globalConfig.BleveIndexPath)
	return nil
}
