package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/driven"
	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type runOptions struct {
	file    string
	resume  string
	filter  models.ResultFilter
	noColor bool
	noBar   bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a campaign file in the foreground and print its results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (opts.file == "") == (opts.resume == "") {
				return errors.New("exactly one of --file or --resume is required")
			}
			return runCampaign(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "campaign YAML file")
	cmd.Flags().StringVar(&opts.resume, "resume", "", "resume a paused campaign stored in --db")
	cmd.Flags().IntVar(&opts.filter.StatusCode, "status", 0, "only show results with this status code")
	cmd.Flags().Int64Var(&opts.filter.MinLength, "min-length", 0, "only show responses at least this long")
	cmd.Flags().Int64Var(&opts.filter.MaxLength, "max-length", 0, "only show responses at most this long")
	cmd.Flags().IntVar(&opts.filter.Limit, "limit", 100, "maximum number of results to print (0 prints all)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVar(&opts.noBar, "no-progress", false, "disable the progress bar")
	return cmd
}

func runCampaign(ctx context.Context, opts *runOptions) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if opts.noColor {
		color.NoColor = true
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := newManager(cfg, log, store, true)
	if err != nil {
		return err
	}
	defer manager.Close(context.Background())

	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	var campaign *models.Campaign
	if opts.resume != "" {
		if _, err := manager.Recover(ctx); err != nil {
			return err
		}
		campaign, err = manager.Resume(ctx, opts.resume)
	} else {
		var draft driven.Draft
		draft, err = loadCampaignFile(opts.file)
		if err != nil {
			return err
		}
		campaign, err = manager.CreateCampaign(ctx, draft)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Campaign %s: %d requests\n", campaign.ID, campaign.TotalRequests)
		campaign, err = manager.Start(ctx, campaign.ID)
	}
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go func() {
		<-interrupts
		// keep the campaign resumable
		_, _ = manager.Pause(context.Background(), campaign.ID)
	}()

	var bar *progressbar.ProgressBar
	if !opts.noBar {
		bar = progressbar.NewOptions64(campaign.TotalRequests,
			progressbar.OptionSetDescription(campaign.Name),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
	}
	tracked := make(chan struct{})
	go func() {
		defer close(tracked)
		for ev := range events {
			if ev.CampaignID != campaign.ID || bar == nil {
				continue
			}
			_ = bar.Set64(ev.Progress.CompletedRequests + ev.Progress.FailedRequests)
		}
	}()

	final, err := manager.Wait(ctx, campaign.ID)
	unsubscribe()
	<-tracked
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	results, err := manager.Results(ctx, final.ID, opts.filter)
	if err != nil {
		return err
	}
	printResults(os.Stdout, results)
	printSummary(os.Stderr, final)
	return nil
}

func printResults(w io.Writer, results []*models.CampaignResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Payloads", "Status", "Length", "Time", "Title", "Flags"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	for _, r := range results {
		row := []string{
			strconv.FormatInt(r.TupleIndex, 10),
			strings.Join(r.PayloadSet, ", "),
			statusCell(r),
			optionalInt(r.ResponseLength),
			optionalInt(r.ResponseTime),
			r.Title,
			strings.Join(r.Flags, ","),
		}
		if r.Failed() {
			row[5] = color.RedString(r.Error)
		}
		table.Append(row)
	}
	table.Render()
}

func statusCell(r *models.CampaignResult) string {
	if r.StatusCode == nil {
		return color.RedString("ERR")
	}
	code := *r.StatusCode
	text := strconv.Itoa(code)
	switch {
	case code >= 500:
		return color.RedString(text)
	case code >= 400:
		return color.YellowString(text)
	case code >= 300:
		return color.CyanString(text)
	default:
		return color.GreenString(text)
	}
}

func optionalInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func printSummary(w io.Writer, c *models.Campaign) {
	p := c.Progress()
	status := string(p.Status)
	if p.Status == models.StatusCompleted {
		status = color.GreenString(status)
	} else {
		status = color.YellowString(status)
	}
	fmt.Fprintf(w, "Campaign %s %s: %d/%d requests, %d failed\n",
		c.ID, status, p.CompletedRequests+p.FailedRequests, p.TotalRequests, p.FailedRequests)
	if p.Status == models.StatusPaused {
		fmt.Fprintf(w, "Resume with: intruder run --db <file> --resume %s\n", c.ID)
	}
}
