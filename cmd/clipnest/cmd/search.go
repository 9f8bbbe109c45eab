package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-clipnest/index"
)

var searchQuery string

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search collected images by title, URL, host, or source page",
	Long: `Runs a Bleve query string against the search index kept alongside the library.
Examples: 'cat', 'host:x.test', '+title:sunset -host:cdn.test'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchQuery == "" {
			return errors.New("search query cannot be empty (use -q)")
		}
		return runSearchLogic(globalConfig.BleveIndexPath, searchQuery)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Bleve query string")
}

// runSearchLogic executes the search against a specific index path.
func runSearchLogic(indexPath string, query string) error {
	log.Debugf("runSearchLogic called with indexPath: %s, query: %s", indexPath, query)

	bleveIndex, err := index.OpenIndex(indexPath)
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return fmt.Errorf("search index not found at %s; collect an image or run 'db reindex' first", indexPath)
		}
		return fmt.Errorf("failed to open search index at %s: %w", indexPath, err)
	}
	defer func() {
		if err := bleveIndex.Close(); err != nil {
			log.Errorf("Error closing Bleve index: %v", err)
		}
	}()

	searchResults, err := index.SearchIndex(bleveIndex, query)
	if err != nil {
		return fmt.Errorf("error performing search: %w", err)
	}

	log.Debugf("Search finished. Hits: %d, Total: %d, Took: %s",
		len(searchResults.Hits), searchResults.Total, searchResults.Took)

	if searchResults.Total == 0 {
		fmt.Println("No results found matching your query.")
		return nil
	}

	fmt.Println("--- Search Results ---")
	for i, hit := range searchResults.Hits {
		fmt.Printf("[%d] ID: %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
		fields := make([]string, 0, len(hit.Fields))
		for field := range hit.Fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Printf("  %s: %v\n", field, hit.Fields[field])
		}
		fmt.Println("---")
	}
	return nil
}
