package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-clipnest/internal/capture"
	"go-clipnest/internal/notify"
	"go-clipnest/internal/scanner"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Collect one image as if its capture button had been pressed on a page",
	Long: `Replays the in-page capture flow for a single image element: the pointer
moves over the element, the capture button appears next to it, and the button
is pressed. The image URL is resolved against --page and collected into the
library unless it is already there.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("page", "", "URL of the page the image is on (required)")
	captureCmd.Flags().String("src", "", "The image's src attribute, relative or absolute (required)")
	captureCmd.Flags().String("alt", "", "The image's alt text")
	captureCmd.Flags().String("title", "", "The image's title attribute")
	captureCmd.Flags().Float64("x", 0, "Element left edge in the viewport")
	captureCmd.Flags().Float64("y", 0, "Element top edge in the viewport")
	captureCmd.Flags().Float64("width", 300, "Element width")
	captureCmd.Flags().Float64("height", 200, "Element height")
	captureCmd.Flags().Float64("viewport-width", 0, "Viewport width (0 for unknown)")
	captureCmd.Flags().Float64("viewport-height", 0, "Viewport height (0 for unknown)")
	_ = captureCmd.MarkFlagRequired("page")
	_ = captureCmd.MarkFlagRequired("src")
}

func scannerOptions() []scanner.Option {
	opts := []scanner.Option{scanner.WithGeometry(scanner.Geometry{
		Width:  globalConfig.AffordanceWidth,
		Height: globalConfig.AffordanceHeight,
		Margin: globalConfig.AffordanceMargin,
	})}
	if len(globalConfig.ScannerExtensions) > 0 {
		opts = append(opts, scanner.WithPredicate(scanner.WithExtensions(globalConfig.ScannerExtensions...)))
	}
	return opts
}

func runCapture(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	page, _ := flags.GetString("page")
	src, _ := flags.GetString("src")
	alt, _ := flags.GetString("alt")
	title, _ := flags.GetString("title")
	x, _ := flags.GetFloat64("x")
	y, _ := flags.GetFloat64("y")
	w, _ := flags.GetFloat64("width")
	h, _ := flags.GetFloat64("height")
	vw, _ := flags.GetFloat64("viewport-width")
	vh, _ := flags.GetFloat64("viewport-height")

	lib, err := openLibrary()
	if err != nil {
		return fmt.Errorf("opening library at %s: %w", globalConfig.DatabasePath, err)
	}
	defer lib.close()

	notes := notify.NewCenter(globalConfig.NotificationTTL(), notify.LogSender{})
	defer notes.Close()

	state := scanner.NewState()
	scan := scanner.New(state, scannerOptions()...)
	ctrl := capture.NewController(state, lib.store, notes)

	el := &scanner.Element{
		Tag:   "img",
		Src:   src,
		Alt:   alt,
		Title: title,
		Rect:  scanner.Rect{Left: x, Top: y, Right: x + w, Bottom: y + h},
	}
	scan.PointerMove(scanner.PointerEvent{Target: el, Viewport: scanner.Size{Width: vw, Height: vh}})

	if !state.Visible() {
		fmt.Println("Element is not a capture candidate; nothing to collect.")
		return nil
	}
	pos := state.Position()
	log.Debugf("Capture button shown at (%.0f, %.0f)", pos.X, pos.Y)

	rec, err := ctrl.Activate(cmd.Context(), page)
	for _, n := range notes.Active() {
		if n.Kind == notify.KindError {
			fmt.Printf("%s: %s\n", n.Message, n.Reason)
		} else {
			fmt.Println(n.Message)
		}
	}
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.New("capture candidate disappeared before activation")
	}
	fmt.Printf("#%d %s\n", rec.ID, rec.URL)
	return nil
}
