package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/feedbackvos/attach"
	"github.com/hazyhaar/feedbackvos/capture"
	"github.com/hazyhaar/feedbackvos/feedback"
)

func captureCmd() *cli.Command {
	return &cli.Command{
		Name:      "capture",
		Usage:     "Capture a page to a PNG file",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "screenshot.png", Usage: "Output file"},
			&cli.IntFlag{Name: "width", Value: 1920, Usage: "Viewport width"},
			&cli.IntFlag{Name: "height", Value: 1080, Usage: "Viewport height"},
			&cli.Float64Flag{Name: "scale", Value: 1, Usage: "Device scale factor"},
			&cli.StringFlag{Name: "exclude", Usage: "CSS selector to hide"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("capture: exactly one URL is required", 2)
			}
			s, err := setup(c)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.engine == nil {
				return errors.New("capture is disabled in the configuration")
			}

			ctx, cancel := runCtx(c)
			defer cancel()
			shot, err := s.engine.Capture(ctx, capture.Request{
				URL: c.Args().First(),
				Viewport: capture.Viewport{
					Width:             c.Int("width"),
					Height:            c.Int("height"),
					DeviceScaleFactor: c.Float64("scale"),
				},
				ExcludeSelector: c.String("exclude"),
			})
			if err != nil {
				return err
			}
			if shot == nil {
				return errors.New("the page rendered to an empty image")
			}
			if err := os.WriteFile(c.String("out"), shot.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s: %dx%d, %s\n", c.String("out"), shot.Width, shot.Height, humanize.IBytes(uint64(len(shot.Data))))
			return nil
		},
	}
}

func submitCmd() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "File feedback as an issue (comment from --comment or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: "bug", Usage: "bug | idea | other"},
			&cli.StringFlag{Name: "comment", Aliases: []string{"m"}, Usage: "Feedback text"},
			&cli.StringFlag{Name: "format", Value: "text", Usage: "Comment format: text | html"},
			&cli.StringFlag{Name: "screenshot", Usage: "Image file to attach as the screenshot"},
			&cli.StringFlag{Name: "page-url", Usage: "Capture this page as the screenshot"},
			&cli.StringSliceFlag{Name: "attach", Aliases: []string{"a"}, Usage: "File to attach (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			comment := c.String("comment")
			if comment == "" {
				data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
				if err != nil {
					return err
				}
				comment = string(data)
			}

			s, err := setup(c)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := runCtx(c)
			defer cancel()

			wc := s.widgetConfig()
			sess := feedback.NewSession("cli", feedback.SessionDeps{
				Capturer:    wc.Capturer,
				Integration: wc.Integration,
				Limits:      wc.Limits,
				Localizer:   s.bundle.Localizer(s.cfg.Widget.Language),
				Logger:      s.logger,
			})
			defer sess.Close()

			switch {
			case c.String("page-url") != "":
				shot, err := sess.TakeScreenshot(ctx, capture.Request{URL: c.String("page-url")})
				if err != nil {
					return err
				}
				if shot != nil {
					if _, err := sess.SaveEdit(); err != nil {
						return err
					}
				}
			case c.String("screenshot") != "":
				data, err := os.ReadFile(c.String("screenshot"))
				if err != nil {
					return err
				}
				if _, err := sess.UploadScreenshot(data); err != nil {
					return err
				}
				if _, err := sess.SaveEdit(); err != nil {
					return err
				}
			}

			var cands []attach.Candidate
			for _, p := range c.StringSlice("attach") {
				data, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				cands = append(cands, attach.Candidate{Name: filepath.Base(p), Data: data})
			}
			if len(cands) > 0 {
				if _, err := sess.AddFiles(cands...); err != nil {
					return err
				}
			}

			receipt, err := sess.Submit(ctx, feedback.Form{Type: c.String("type"), Comment: comment, Format: c.String("format")})
			if err != nil {
				return err
			}
			return printJSON(c, receipt)
		},
	}
}

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Verify the token can reach the repository and that issues are enabled",
		Action: func(c *cli.Context) error {
			s, err := setup(c)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := runCtx(c)
			defer cancel()
			repo, err := s.submitter.VerifyAccess(ctx, s.cfg.GitHub.Target())
			if err != nil {
				return err
			}
			if s.browser != nil && c.Bool("browser") {
				if err := s.browser.Ping(ctx); err != nil {
					return fmt.Errorf("browser: %w", err)
				}
			}
			return printJSON(c, repo)
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "browser", Usage: "Also start Chrome and check it responds"},
		},
	}
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
