package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/mschienbein/deez-sub002/config"
	"github.com/mschienbein/deez-sub002/constant"
	"github.com/mschienbein/deez-sub002/deezer"
	"github.com/mschienbein/deez-sub002/deezer/downloader"
	"github.com/mschienbein/deez-sub002/deezer/fs"
	"github.com/mschienbein/deez-sub002/deezer/types"
	"github.com/mschienbein/deez-sub002/iterutil"
	"github.com/mschienbein/deez-sub002/log"
	"github.com/mschienbein/deez-sub002/ratelimit"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "deez",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Deezer Media Downloader",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "session",
				Usage: "Session commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:   "login",
						Usage:  "Store and validate a session credential",
						Action: sessionLogin,
					},
					{
						Name:   "status",
						Usage:  "Probe the stored credential and show account capabilities",
						Action: sessionStatus,
					},
				},
			},
			{
				Name:      "download",
				Usage:     "Download one or more track, album, or playlist links",
				ArgsUsage: "<link> [link...]",
				Action:    download,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env file: %v", err)
		}
		logger.Info().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return nil, fmt.Errorf("load config: %v", err)
	}

	return conf, nil
}

func sessionLogin(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	logger := log.FromConfig(conf.Log)
	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	credential := conf.Deezer.Credential
	if credential == "" {
		//nolint:exhaustruct
		prompt := &survey.Password{Message: "Session credential (arl cookie):"}
		if err := survey.AskOne(prompt, &credential, survey.WithValidator(survey.Required)); nil != err {
			if errors.Is(err, terminal.InterruptErr) {
				return context.Canceled
			}

			if errors.Is(err, syscall.ENOTTY) {
				logger.Error().Msg("No TTY detected. Set the DEEZER_ARL environment variable instead.")
				return exitCodeError(1)
			}

			return fmt.Errorf("prompt for credential: %v", err)
		}
	}

	conf.Deezer.Credential = credential

	client, err := deezer.NewClient(logger, conf.Deezer)
	if nil != err {
		return fmt.Errorf("create client: %w", err)
	}
	defer func() {
		if err := client.Close(); nil != err {
			logger.Error().Err(err).Msg("Failed to close client")
		}
	}()

	session, err := client.Probe(ctx, logger)
	if nil != err {
		if errors.Is(err, deezer.ErrInvalidCredential) {
			logger.Error().Msg("The credential was rejected. Grab a fresh arl cookie and try again.")
			return exitCodeError(2)
		}

		return fmt.Errorf("validate credential: %w", err)
	}

	credFile := fs.CredentialFileFrom(conf.Deezer.CredentialFile)
	if err := credFile.Write(fs.CredentialFileContent{ARL: credential}); nil != err {
		return fmt.Errorf("store credential: %w", err)
	}

	logger.Info().Dict("session", session.ToDict()).Msg("Logged in. Credential stored.")

	return nil
}

func sessionStatus(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	logger := log.FromConfig(conf.Log)
	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	client, err := deezer.NewClient(logger, conf.Deezer)
	if nil != err {
		if errors.Is(err, deezer.ErrCredentialRequired) {
			logger.Error().Msg("No credential found. Run `session login` first.")
			return exitCodeError(2)
		}

		return fmt.Errorf("create client: %w", err)
	}
	defer func() {
		if err := client.Close(); nil != err {
			logger.Error().Err(err).Msg("Failed to close client")
		}
	}()

	session, err := client.Probe(ctx, logger)
	if nil != err {
		if errors.Is(err, deezer.ErrInvalidCredential) {
			logger.Error().Msg("The stored credential is no longer valid. Run `session login` again.")
			return exitCodeError(2)
		}

		return fmt.Errorf("probe session: %w", err)
	}

	logger.Info().Dict("session", session.ToDict()).Msg("Session is valid")

	return nil
}

func download(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rawLinks := cmd.Args().Slice()
	if len(rawLinks) == 0 {
		return errors.New("at least one link is required")
	}

	conf, err := loadConfig(cmd)
	if nil != err {
		return err
	}

	logger := log.FromConfig(conf.Log)
	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	links := make([]types.Link, len(rawLinks))
	for i, raw := range rawLinks {
		link, err := deezer.ParseLink(raw)
		if nil != err {
			return fmt.Errorf("parse link: %w", err)
		}
		links[i] = link
	}

	client, err := deezer.NewClient(logger, conf.Deezer)
	if nil != err {
		if errors.Is(err, deezer.ErrCredentialRequired) {
			logger.Error().Msg("No credential found. Run `session login` first.")
			return exitCodeError(2)
		}

		return fmt.Errorf("create client: %w", err)
	}
	defer func() {
		if err := client.Close(); nil != err {
			logger.Error().Err(err).Msg("Failed to close client")
		}
	}()

	var (
		results []downloader.TrackResult
		failed  int
	)
	for i, link := range links {
		if i > 0 {
			// Spread consecutive link downloads out a bit.
			time.Sleep(ratelimit.TrackDownloadSleep())
		}

		linkLogger := logger.With().Str("link", rawLinks[i]).Logger()

		onProgress := func(res downloader.TrackResult) {
			if err := res.Outcome.Err(); nil != err {
				linkLogger.Warn().Str("track_id", res.ID).Str("title", res.Title).Msg("Track failed")
				return
			}

			linkLogger.Info().Str("track_id", res.ID).Str("title", res.Title).Msg("Track done")
		}

		res, err := client.TryDownloadLink(ctx, linkLogger, link, onProgress)
		if nil != err {
			if errors.Is(err, deezer.ErrInvalidCredential) {
				logger.Error().Msg("The stored credential is no longer valid. Run `session login` again.")
				return exitCodeError(2)
			}

			return fmt.Errorf("download link %s: %w", rawLinks[i], err)
		}

		results = append(results, res...)
	}

	for _, res := range results {
		if res.Outcome.Err() != nil {
			failed++
		}
	}

	renderResults(results)

	if failed > 0 {
		logger.Error().Int("failed", failed).Int("total", len(results)).
			Msg("Some tracks failed to download")

		return exitCodeError(3)
	}

	logger.Info().Int("total", len(results)).Msg("All tracks downloaded")

	return nil
}

func renderResults(results []downloader.TrackResult) {
	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"#", "Track ID", "Title", "Result"})
	w.AppendRows(iterutil.Map(results, func(i int, res downloader.TrackResult) table.Row {
		if err := res.Outcome.Err(); nil != err {
			return table.Row{i + 1, res.ID, res.Title, "failed: " + err.Error()}
		}

		return table.Row{i + 1, res.ID, res.Title, *res.Outcome.Unwrap()}
	}))
	w.Render()
}
