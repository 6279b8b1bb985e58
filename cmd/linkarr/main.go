package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/jkaberg/linkarr/config"
	"github.com/jkaberg/linkarr/fs"
	"github.com/jkaberg/linkarr/http"
	dlog "github.com/jkaberg/linkarr/log"
	"github.com/jkaberg/linkarr/qbittorrent"
	"github.com/jkaberg/linkarr/server"
	"github.com/jkaberg/linkarr/torrent"
	"github.com/jkaberg/linkarr/torrent/store"
)

var version = "dev"

const (
	configFlag       = "config"
	portFlag         = "http-port"
	downloadPathFlag = "download-path"
	qbtURLFlag       = "qbt-url"
	qbtUsernameFlag  = "qbt-username"
	qbtPasswordFlag  = "qbt-password"
	authTokenFlag    = "auth-token"
)

func main() {
	// .env must be loaded before flags read their EnvVars
	envFile := ".env"
	if v := os.Getenv("LINKARR_ENV_FILE"); v != "" {
		envFile = v
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", envFile).Msg("error loading env file")
	}

	app := &cli.App{
		Name:    "linkarr",
		Usage:   "Hardlinks torrent downloads into the Radarr and Sonarr library while they download.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Value:   "./linkarr-data/config/config.yaml",
				EnvVars: []string{"LINKARR_CONFIG"},
				Usage:   "YAML file containing linkarr configuration.",
			},
			&cli.IntFlag{
				Name:    portFlag,
				EnvVars: []string{"LINKARR_HTTP_PORT"},
				Usage:   "HTTP port for the webhook receiver.",
			},
			&cli.StringFlag{
				Name:    downloadPathFlag,
				EnvVars: []string{"LINKARR_DOWNLOAD_PATH"},
				Usage:   "Folder where the torrent client stores downloads.",
			},
			&cli.StringFlag{
				Name:    qbtURLFlag,
				EnvVars: []string{"LINKARR_QBT_URL"},
				Usage:   "qBittorrent web UI address.",
			},
			&cli.StringFlag{
				Name:    qbtUsernameFlag,
				EnvVars: []string{"LINKARR_QBT_USERNAME"},
				Usage:   "qBittorrent web UI user.",
			},
			&cli.StringFlag{
				Name:    qbtPasswordFlag,
				EnvVars: []string{"LINKARR_QBT_PASSWORD"},
				Usage:   "qBittorrent web UI password.",
			},
			&cli.StringFlag{
				Name:    authTokenFlag,
				EnvVars: []string{"LINKARR_AUTH_TOKEN"},
				Usage:   "Token accepted in the token query parameter of webhook requests.",
			},
		},

		Action: func(c *cli.Context) error {
			err := load(c)

			// stop program execution on errors to avoid flashing consoles
			if err != nil && runtime.GOOS == "windows" {
				log.Error().Err(err).Msg("problem starting application")
				fmt.Print("Press 'Enter' to continue...")
				bufio.NewReader(os.Stdin).ReadBytes('\n')
			}

			return err
		},

		HideHelpCommand: true,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("problem starting application")
	}
}

// applyFlags overrides configuration values with the ones given on the
// command line or through the environment.
func applyFlags(c *cli.Context, conf *config.Root) {
	if c.IsSet(portFlag) {
		conf.HTTPGlobal.Port = c.Int(portFlag)
	}
	if c.IsSet(downloadPathFlag) {
		conf.Downloads.Path = c.String(downloadPathFlag)
	}
	if c.IsSet(qbtURLFlag) {
		conf.Qbittorrent.URL = c.String(qbtURLFlag)
	}
	if c.IsSet(qbtUsernameFlag) {
		conf.Qbittorrent.Username = c.String(qbtUsernameFlag)
	}
	if c.IsSet(qbtPasswordFlag) {
		conf.Qbittorrent.Password = c.String(qbtPasswordFlag)
	}
	if c.IsSet(authTokenFlag) {
		conf.Auth.Token = c.String(authTokenFlag)
	}
}

func load(c *cli.Context) error {
	ch := config.NewHandler(c.String(configFlag))

	conf, err := ch.Get()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	applyFlags(c, conf)

	dlog.Load(conf.Log)
	torrent.RegisterMetrics()

	log.Info().Str("version", version).Str("config", ch.Path()).Msg("starting linkarr")

	osfs := afero.NewOsFs()

	st, err := store.Open(osfs, conf.Store.Path)
	if err != nil {
		return fmt.Errorf("error opening torrent store: %w", err)
	}

	var journal http.Journal
	var history *store.History
	if conf.History.Enabled {
		history, err = store.OpenHistory(conf.History.Path)
		if err != nil {
			return fmt.Errorf("error opening webhook history: %w", err)
		}
		defer history.Close()
		journal = history
	}

	var svc torrent.TorrentService
	if conf.Qbittorrent.Enabled {
		qc := qbittorrent.New(conf.Qbittorrent)

		vctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		v, err := qc.Version(vctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("url", conf.Qbittorrent.URL).Msg("qbittorrent not reachable, falling back to filesystem search until it is")
		} else {
			log.Info().Str("version", v).Str("url", conf.Qbittorrent.URL).Msg("connected to qbittorrent")
		}

		svc = qc
	}

	if err := osfs.MkdirAll(conf.Downloads.Path, 0755); err != nil {
		log.Warn().Err(err).Str("path", conf.Downloads.Path).Msg("error creating downloads folder")
	}

	opts := []torrent.Option{
		torrent.WithInterval(time.Duration(conf.Monitor.IntervalSeconds) * time.Second),
		torrent.WithRetryBackoff(time.Duration(conf.Monitor.RetryBackoffSeconds) * time.Second),
		torrent.WithMaxChecks(conf.Monitor.MaxChecks),
		torrent.WithDeleteFiles(conf.Monitor.DeleteFiles == nil || *conf.Monitor.DeleteFiles),
		torrent.WithFilter(fs.NewMediaFilter(conf.Monitor.MinFileSize, conf.Monitor.MediaExtensions, conf.Monitor.SubtitleExtensions)),
	}
	if conf.Monitor.Watch {
		opts = append(opts, torrent.WithWatch(time.Duration(conf.Monitor.SettleSeconds)*time.Second))
	}
	if an := torrent.NewArrNotifier(conf.Arr); an.Len() > 0 {
		opts = append(opts, torrent.WithNotifier(an))
	}

	reg := torrent.NewRegistry()
	loc := torrent.NewLocator(svc, osfs, conf.Downloads.Path, conf.Downloads.FallbackToRoot)
	m := torrent.NewMonitor(reg, loc, fs.NewLinker(conf.FS.LinkCommand), st, opts...)
	defer func() {
		log.Info().Msg("stopping download monitors...")
		m.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := http.New(m, journal, conf.Auth, version)
	if err := server.Start(ctx, conf.HTTPGlobal, r); err != nil {
		log.Error().Err(err).Msg("error initializing HTTP server")
		return err
	}

	log.Info().Msg("exiting")
	return nil
}
