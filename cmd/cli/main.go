package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/glizzus/encore/internal/config"
	"github.com/glizzus/encore/internal/datalayer"
	"github.com/glizzus/encore/internal/lavalink"
	"github.com/glizzus/encore/internal/registry"
	"github.com/glizzus/encore/internal/repository"
	"github.com/glizzus/encore/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var guildIDFlag = &cli.StringFlag{
	Name:     "guild-id",
	Usage:    "ID of the guild",
	Required: true,
}

func regionRepository(ctx context.Context) (*repository.PostgresRegionRepository, func(), error) {
	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := datalayer.MigratePostgres(pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return repository.NewPostgresRegionRepository(pool), pool.Close, nil
}

func probeNodes(c *cli.Context) error {
	failoverConfig, err := config.NewFailoverConfigFromEnv()
	if err != nil {
		return cli.Exit("Failed to load failover config: "+err.Error(), 1)
	}
	path := c.String("nodes-file")
	if path == "" {
		path = failoverConfig.NodesFile
	}
	nodes, err := config.LoadNodes(path)
	if err != nil {
		return cli.Exit("Failed to load nodes: "+err.Error(), 1)
	}

	logger := failoverConfig.NewLogger(os.Stderr)
	reg := registry.New(registry.LavalinkDialer(lavalink.Options{
		UserID: c.String("user-id"),
		Logger: logger,
	}), registry.Options{
		HandshakeTimeout: failoverConfig.HandshakeTimeout,
		Logger:           logger,
	})
	defer reg.Close()

	reg.RegisterAll(c.Context, nodes)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tREGION\tADDRESS\tAVAILABLE\tFAILURE")
	for _, h := range reg.Handles() {
		region := h.Region()
		if region == "" {
			region = config.RegionAuto
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", h.Name(), region, h.Config().Addr(), h.Available(), h.LastFailure())
	}
	return w.Flush()
}

func main() {
	if err := config.LoadEnv(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env file: %v", err)
	}

	app := &cli.App{
		Name:        "encore-cli",
		Description: "A development CLI tool for operating Encore without Discord",
		Commands: []*cli.Command{
			{
				Name:  "nodes",
				Usage: "Inspect the configured Lavalink nodes",
				Subcommands: []*cli.Command{
					{
						Name:   "probe",
						Usage:  "Connect to every configured node and print its availability",
						Action: probeNodes,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "nodes-file",
								Usage: "Path to the node list, defaults to LAVALINK_NODES_FILE",
							},
							&cli.StringFlag{
								Name:    "user-id",
								Usage:   "Discord user ID sent to the nodes",
								EnvVars: []string{"DISCORD_CLIENT_ID"},
								Value:   "0",
							},
						},
					},
				},
			},
			{
				Name:  "region",
				Usage: "Read or change a guild's preferred region",
				Subcommands: []*cli.Command{
					{
						Name:  "get",
						Usage: "Print the preferred region of a guild",
						Flags: []cli.Flag{guildIDFlag},
						Action: func(c *cli.Context) error {
							repo, closeRepo, err := regionRepository(c.Context)
							if err != nil {
								return cli.Exit(err.Error(), 1)
							}
							defer closeRepo()

							region, err := repo.Lookup(c.Context, c.String("guild-id"))
							if err != nil {
								return cli.Exit("Failed to look up region: "+err.Error(), 1)
							}
							fmt.Println(region)
							return nil
						},
					},
					{
						Name:      "set",
						Usage:     "Set the preferred region of a guild",
						ArgsUsage: "<region>",
						Flags:     []cli.Flag{guildIDFlag},
						Action: func(c *cli.Context) error {
							region := c.Args().First()
							if region == "" {
								return cli.Exit("Please provide a region, or auto to clear it", 1)
							}

							repo, closeRepo, err := regionRepository(c.Context)
							if err != nil {
								return cli.Exit(err.Error(), 1)
							}
							defer closeRepo()

							if err := repo.Save(c.Context, c.String("guild-id"), region); err != nil {
								return cli.Exit("Failed to save region: "+err.Error(), 1)
							}
							log.Println("Region saved successfully.")
							return nil
						},
					},
				},
			},
			{
				Name:  "reconcile",
				Usage: "Ask the running bot to route a guild now",
				Flags: []cli.Flag{guildIDFlag},
				Action: func(c *cli.Context) error {
					redisConfig, err := config.NewRedisConfigFromEnv()
					if err != nil {
						return cli.Exit("Failed to load redis config: "+err.Error(), 1)
					}
					rdb := redis.NewClient(&redis.Options{
						Addr:     redisConfig.Addr,
						Password: redisConfig.Password,
						DB:       redisConfig.DB,
					})
					defer rdb.Close()

					requester := worker.NewRedisReconcileRequester(rdb, redisConfig.RequestStream)
					if err := requester.Request(c.Context, c.String("guild-id")); err != nil {
						return cli.Exit("Failed to request reconcile: "+err.Error(), 1)
					}
					log.Println("Reconcile requested.")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error running CLI: %v", err)
	}
}
