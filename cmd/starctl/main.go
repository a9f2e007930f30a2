// Command starctl drives a running star chart server from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/starchart/internal/client"
	"github.com/dukerupert/starchart/internal/logging"
	"github.com/dukerupert/starchart/internal/model"
)

const usage = `usage: starctl [flags] <command> [args]

commands:
  show                      print the chart
  add                       add one star
  remove N                  remove the star at index N
  amazing                   add the bonus stars
  reset                     start a new chart
  claim                     claim the reward (chart must be full)
  comment N TEXT            set the comment on star N
  sticker N K               set the sticker on star N
  theme NAME                default or christmas
  reward STARS TITLE DESC   set the reward
`

func main() {
	serverURL := flag.String("server", envOr("STARCHART_URL", "http://localhost:8080"), "server base URL")
	logLevel := flag.String("log-level", "warn", "log level")
	totalStars := flag.Int("total-stars", model.DefaultTotalStars, "stars needed for the reward")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.Setup(*logLevel, "text")
	if err := run(*serverURL, *totalStars, logger, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "starctl:", err)
		os.Exit(1)
	}
}

func run(serverURL string, totalStars int, logger *slog.Logger, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := client.NewController(client.NewAPI(serverURL), client.Options{
		TotalStars: totalStars,
		Logger:     logger,
	})
	if err := c.Load(ctx); err != nil {
		return err
	}

	if err := apply(c, args); err != nil {
		return err
	}

	if err := c.Close(ctx); err != nil {
		return err
	}
	// Show the server's view, not just the local mirror.
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	printState(c.State(), c.Celebrating(), totalStars)
	return nil
}

func apply(c *client.Controller, args []string) error {
	cmd, rest := args[0], args[1:]

	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("%s: expected %d argument(s)", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "show":
		return nil
	case "add":
		if !c.AddStar() {
			return errors.New("chart is already full")
		}
	case "remove":
		if err := need(1); err != nil {
			return err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("remove: %w", err)
		}
		if !c.RemoveStar(n) {
			return fmt.Errorf("remove: no star at index %d", n)
		}
	case "amazing":
		if c.Amazing() == 0 {
			return errors.New("chart is already full")
		}
	case "reset":
		c.Reset()
	case "claim":
		if !c.Claim() {
			return errors.New("claim: chart is not complete yet")
		}
	case "comment":
		if err := need(2); err != nil {
			return err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("comment: %w", err)
		}
		return c.SetComment(n, strings.Join(rest[1:], " "))
	case "sticker":
		if err := need(2); err != nil {
			return err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("sticker: %w", err)
		}
		k, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("sticker: %w", err)
		}
		return c.SetSticker(n, k)
	case "theme":
		if err := need(1); err != nil {
			return err
		}
		return c.SetTheme(model.Theme(rest[0]))
	case "reward":
		if err := need(3); err != nil {
			return err
		}
		stars, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("reward: %w", err)
		}
		return c.SetReward(model.RewardPreview{
			Stars:       stars,
			Reward:      rest[1],
			Description: strings.Join(rest[2:], " "),
		})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printState(s model.ChartState, celebrating bool, totalStars int) {
	fmt.Printf("%s  %d/%d\n", strings.Repeat("★", s.Points)+strings.Repeat("☆", max(totalStars-s.Points, 0)), s.Points, totalStars)
	fmt.Printf("theme:  %s\n", s.CurrentTheme)
	fmt.Printf("reward: %s (%d stars)\n", s.RewardPreview.Reward, s.RewardPreview.Stars)
	if s.RewardPreview.Description != "" {
		fmt.Printf("        %s\n", s.RewardPreview.Description)
	}

	indices := make([]int, 0, len(s.StickerTypes))
	for i := range s.StickerTypes {
		indices = append(indices, i)
	}
	for i := range s.StarComments {
		if _, ok := s.StickerTypes[i]; !ok {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	for _, i := range indices {
		fmt.Printf("  #%-2d sticker %d  %s\n", i, s.StickerTypes[i], s.StarComments[i])
	}

	if celebrating {
		fmt.Println("🎉 chart complete, run `starctl claim` to redeem")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
