// Package commands implements the cmsana command line: job submission,
// merging, rescaling, plotting, datacards and fits.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/decibelcooper/cmsana/internal/config"
	"github.com/decibelcooper/cmsana/internal/logging"
	"github.com/decibelcooper/cmsana/internal/runner"
)

var (
	configPath string
	debug      bool
	dryRun     bool
	remote     bool
	profMode   string

	campaign config.Campaign
	profiler interface{ Stop() }
)

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	if profiler != nil {
		profiler.Stop()
	}
	if err != nil {
		log.Error().Err(err).Msg("cmsana failed")
	}
	return err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cmsana",
		Short:         "Orchestration tools for a CMS-style analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init("cmsana", logging.ProfileRuntime, debug)
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			campaign = cfg
			log.Debug().Str("campaign", cfg.Name).Str("config", configPath).Strs("years", cfg.Years).Msg("campaign loaded")
			return startProfile(profMode)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CMSANA_CONFIG"), "campaign TOML file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print external commands instead of running them")
	root.PersistentFlags().BoolVar(&remote, "remote", false, "run condor and combine commands on the configured ssh host")
	root.PersistentFlags().StringVar(&profMode, "profile", "", "write a cpu or mem profile")

	root.AddCommand(
		samplesCmd(),
		variablesCmd(),
		histsCmd(),
		submitCmd(),
		jobsCmd(),
		mergeCmd(),
		rescaleCmd(),
		plotCmd(),
		datacardCmd(),
		fitCmd(),
	)
	return root
}

func startProfile(mode string) error {
	switch mode {
	case "":
		return nil
	case "cpu":
		profiler = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	case "mem":
		profiler = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	default:
		return fmt.Errorf("unknown profile mode %q (cpu, mem)", mode)
	}
	return nil
}

// newRunner picks where external programs run: nowhere with --dry-run, on the
// ssh host with --remote, on this machine otherwise.
func newRunner() (runner.Runner, error) {
	if dryRun {
		return &runner.Dry{}, nil
	}
	if remote {
		if campaign.SSH.Host == "" {
			return nil, fmt.Errorf("--remote needs [ssh] host in the campaign file or CMSANA_SSH_HOST")
		}
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return runner.SSH{
			Host:           campaign.SSH.Host,
			User:           campaign.SSH.User,
			KeyPath:        campaign.SSH.KeyPath,
			KnownHostsPath: campaign.SSH.KnownHostsPath,
			Timeout:        campaign.SSH.Timeout,
			Dir:            wd,
		}, nil
	}
	return runner.Local{}, nil
}
