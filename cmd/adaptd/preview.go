package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Yozuusan/Adtest-sub000/dom/live"
	"github.com/Yozuusan/Adtest-sub000/injector"
	"github.com/Yozuusan/Adtest-sub000/payload"
)

var (
	previewPayload  string
	previewShop     string
	previewDuration time.Duration
	chromeURL       string
	headful         bool
)

var previewCmd = &cobra.Command{
	Use:   "preview <product-url>",
	Short: "Run the injection runtime on a live page and print the applied patches",
	Long: `Opens the product page in Chrome, injects the content of --payload and keeps
observing the page for --duration so that theme re-renders are healed.

When the bundle carries no adapter and --shop is set, the rendered page is
mapped first and the resulting adapter is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().StringVar(&previewPayload, "payload", "", "bundle JSON file (required)")
	previewCmd.Flags().StringVar(&previewShop, "shop", "", "map the page for this shop when the bundle has no adapter")
	previewCmd.Flags().DurationVar(&previewDuration, "duration", 30*time.Second, "how long to keep observing")
	previewCmd.Flags().StringVar(&chromeURL, "chrome", "", "DevTools websocket URL; empty launches a local Chrome")
	previewCmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if previewPayload == "" {
		return errors.New("--payload is required")
	}
	data, err := os.ReadFile(previewPayload)
	if err != nil {
		return err
	}
	bundle, err := payload.Decode(data)
	if err != nil {
		return err
	}

	br, err := live.Launch(live.BrowserConfig{RemoteURL: chromeURL, Headful: headful, Logger: logger})
	if err != nil {
		return err
	}
	defer br.Close()

	page, err := br.Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer page.Close()
	doc := live.NewDocument(ctx, page, logger)

	opts := []injector.Option{injector.WithBundle(bundle), injector.WithLogger(logger)}
	if bundle.Adapter == nil && previewShop != "" {
		markup, err := doc.HTML()
		if err != nil {
			return err
		}
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		res, err := svc.MapHTML(ctx, previewShop, args[0], markup, false)
		svc.Close()
		if err != nil {
			return err
		}
		logger.Info("adaptd: preview adapter", "fingerprint", res.Fingerprint, "source", res.Adapter.Source, "skipped", res.Skipped)
		opts = append(opts, injector.WithAdapter(res.Adapter))
	}

	rt := injector.New(doc, opts...)
	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer rt.Teardown()
	if rt.State() == injector.StateIdle {
		return fmt.Errorf("runtime stayed idle on %s", args[0])
	}

	select {
	case <-ctx.Done():
	case <-time.After(previewDuration):
	}
	return printJSON(map[string]any{
		"url":            args[0],
		"state":          rt.State().String(),
		"reapplications": rt.Reapplications(),
		"records":        rt.Records(),
	})
}
