package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Yozuusan/Adtest-sub000/dom/live"
	"github.com/Yozuusan/Adtest-sub000/snapshot"
)

var (
	mapShop   string
	mapHTML   string
	mapURL    string
	mapForce  bool
	mapRender bool
)

var mapCmd = &cobra.Command{
	Use:   "map [product-url]",
	Short: "Map a theme from a product page URL or a saved HTML file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if mapShop == "" {
			return errors.New("--shop is required")
		}
		if len(args) == 1 {
			mapURL = args[0]
		}
		if mapURL == "" && mapHTML == "" {
			return errors.New("a product URL or --html is required")
		}
		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		if mapHTML != "" {
			markup, err := os.ReadFile(mapHTML)
			if err != nil {
				return err
			}
			res, err := svc.MapHTML(cmd.Context(), mapShop, mapURL, string(markup), mapForce)
			if err != nil {
				return err
			}
			return printJSON(res)
		}
		if mapRender {
			br, err := live.Launch(live.BrowserConfig{RemoteURL: chromeURL, Logger: logger})
			if err != nil {
				return err
			}
			defer br.Close()
			snap, err := snapshot.Capture(cmd.Context(), br, mapURL)
			if err != nil {
				return err
			}
			res, err := svc.Map(cmd.Context(), mapShop, snap, mapForce)
			if err != nil {
				return err
			}
			return printJSON(res)
		}
		res, err := svc.MapURL(cmd.Context(), mapShop, mapURL, mapForce)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <shop> <fingerprint>",
	Short: "Print a stored adapter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		a, ok, err := svc.Get(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no adapter for %s/%s", args[0], args[1])
		}
		return printJSON(a)
	},
}

var listCmd = &cobra.Command{
	Use:   "list <shop>",
	Short: "List the adapters stored for a shop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		list, err := svc.List(cmd.Context(), args[0], 100)
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <shop> <fingerprint>",
	Short: "Drop a cached adapter; the durable copy is kept",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		return svc.Invalidate(cmd.Context(), args[0], args[1])
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Print the status of a mapping job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		job, err := svc.Job(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("no job %s", args[0])
		}
		return printJSON(job)
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <shop> <fingerprint>",
	Short: "Re-infer an adapter from its archived snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		a, err := svc.Regenerate(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

func init() {
	rootCmd.AddCommand(mapCmd, getCmd, listCmd, invalidateCmd, regenerateCmd, jobCmd)
	mapCmd.Flags().StringVar(&mapShop, "shop", "", "shop identifier")
	mapCmd.Flags().StringVar(&mapHTML, "html", "", "read the page from this HTML file instead of fetching it")
	mapCmd.Flags().StringVar(&mapURL, "url", "", "source URL recorded with --html")
	mapCmd.Flags().BoolVar(&mapForce, "force", false, "re-infer even if the theme is already mapped")
	mapCmd.Flags().BoolVar(&mapRender, "render", false, "capture the page in headless Chrome instead of a plain fetch")
	mapCmd.Flags().StringVar(&chromeURL, "chrome", "", "DevTools websocket URL for --render; empty launches a local Chrome")
}
