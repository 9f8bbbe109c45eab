package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().Bool("http-log", false, "Also remove http.log from the save path")
	cleanCmd.Flags().BoolP("dry-run", "n", false, "Only list what would be removed")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover temporary (.tmp) download files from the save path",
	Long: `Recursively scans the configured SavePath and removes files ending in .tmp,
which are left behind when a download is interrupted. Optionally removes
http.log as well.`,
	RunE: runClean,
}

type cleanResult struct {
	Removed []string
	Failed  int
}

func runClean(cmd *cobra.Command, args []string) error {
	savePath := globalConfig.SavePath
	withLog, _ := cmd.Flags().GetBool("http-log")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if savePath == "" {
		return fmt.Errorf("SavePath is not configured; cannot determine where to clean")
	}
	info, err := os.Stat(savePath)
	if os.IsNotExist(err) {
		log.Infof("SavePath %s does not exist, nothing to clean", savePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("error accessing SavePath %q: %w", savePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("SavePath is not a directory: %s", savePath)
	}

	log.Infof("Scanning for .tmp files in %s...", savePath)
	res, walkErr := cleanDir(savePath, withLog, dryRun)
	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", savePath, walkErr)
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	for _, p := range res.Removed {
		fmt.Printf("%s %s\n", verb, p)
	}
	summary := fmt.Sprintf("Clean complete. %s: %d file(s)", verb, len(res.Removed))
	if res.Failed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s).", res.Failed)
	}
	log.Info(summary)

	if res.Failed > 0 || walkErr != nil {
		return fmt.Errorf("clean finished with errors")
	}
	return nil
}

func cleanDir(root string, withLog, dryRun bool) (cleanResult, error) {
	var res cleanResult
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}

		name := strings.ToLower(info.Name())
		isTmp := strings.HasSuffix(name, ".tmp")
		isLog := withLog && name == "http.log" && filepath.Dir(path) == filepath.Clean(root)
		if !isTmp && !isLog {
			return nil
		}

		if dryRun {
			res.Removed = append(res.Removed, path)
			return nil
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				log.Warnf("Attempted to remove %q, but it was already gone.", path)
				return nil
			}
			log.Errorf("Failed to remove %q: %v", path, err)
			res.Failed++
			return nil
		}
		log.Debugf("Removed %s", path)
		res.Removed = append(res.Removed, path)
		return nil
	})
	return res, err
}
