package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gaffarulutas/balonpark-mail/handlers"
	"github.com/gaffarulutas/balonpark-mail/internal/config"
	"github.com/gaffarulutas/balonpark-mail/internal/connection"
	"github.com/gaffarulutas/balonpark-mail/internal/mailbox"
	"github.com/gaffarulutas/balonpark-mail/internal/sender"
	"github.com/gaffarulutas/balonpark-mail/pkg/base"
	"github.com/gaffarulutas/balonpark-mail/pkg/utils"
)

var tracer = otel.Tracer("github.com/gaffarulutas/balonpark-mail/cmd/balonmail")

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("Skipping .env file: %v", err)
	}

	ctx := context.Background()

	otelShutdown, err := utils.SetupOTelSDK(ctx)
	if err != nil {
		log.Fatalf("Error setting up OpenTelemetry: %v", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			log.Printf("OpenTelemetry shutdown: %v", err)
		}
	}()

	logger := otelslog.NewLogger(utils.ServiceName)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	factory, err := connection.NewFactory(
		connection.WithConfig(cfg.IMAP, cfg.TLSSkipVerify),
		connection.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Error building connection factory: %v", err)
	}

	svc, err := mailbox.NewService(
		mailbox.WithSessionFactory(factory),
		mailbox.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Error building mailbox service: %v", err)
	}

	snd, err := sender.NewSender(
		sender.WithConfig(cfg.SMTP, cfg.TLSSkipVerify),
		sender.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Error building sender: %v", err)
	}

	app := &cli.App{
		Name:  "balonmail",
		Usage: "mailbox access service for the Balonpark back end",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the JSON API",
				Action: serve(cfg, logger, svc, snd),
			},
			{
				Name:   "folders",
				Usage:  "List the account's folders",
				Action: listFolders(ctx, svc, os.Stdout),
			},
			{
				Name:   "stats",
				Usage:  "Print mailbox statistics",
				Action: printStats(ctx, svc, os.Stdout),
			},
			{
				Name:  "send",
				Usage: "Send one message",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Required: true},
					&cli.StringFlag{Name: "subject", Required: true},
					&cli.StringFlag{Name: "body", Required: true},
					&cli.BoolFlag{Name: "html"},
				},
				Action: sendMessage(ctx, snd),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.ErrorContext(ctx, "command failed", slog.Any("error", utils.WrapError(err)))
		os.Exit(1)
	}
}

func serve(cfg config.Config, logger *slog.Logger, svc mailbox.Service, snd sender.Sender) cli.ActionFunc {
	return func(c *cli.Context) error {
		app := newServer(svc, snd)
		logger.Info("serving mailbox API", slog.String("addr", cfg.ListenAddr))
		return app.Listen(cfg.ListenAddr)
	}
}

func newServer(svc mailbox.Service, snd sender.Sender) *fiber.App {
	app := fiber.New(fiber.Config{AppName: utils.ServiceName})
	app.Use(otelfiber.Middleware())
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(handlers.MailboxServiceKey, svc)
		c.Locals(handlers.SenderKey, snd)
		return c.Next()
	})

	api := app.Group("/api")
	api.Get("/folders", handlers.Folders)
	api.Get("/folders/:folder/messages", handlers.Messages)
	api.Get("/folders/:folder/messages/:uid", handlers.Message)
	api.Get("/stats", handlers.Stats)
	api.Get("/search", handlers.Search)
	api.Post("/folders/:folder/messages/:uid/read", handlers.MarkRead)
	api.Post("/folders/:folder/messages/:uid/unread", handlers.MarkUnread)
	api.Post("/folders/:folder/messages/:uid/flag", handlers.ToggleFlag)
	api.Post("/folders/:folder/messages/:uid/move", handlers.Move)
	api.Post("/folders/:folder/messages/:uid/reply", handlers.Reply)
	api.Delete("/folders/:folder/messages/:uid", handlers.Delete)
	api.Post("/send", handlers.Send)
	app.Use(handlers.NotFound)

	return app
}

func listFolders(ctx context.Context, svc mailbox.Service, out io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, span := tracer.Start(ctx, "listFolders")
		defer span.End()

		folders, err := svc.ListFolders(ctx)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("folders.count", len(folders)))

		return writeJSON(out, folders)
	}
}

func printStats(ctx context.Context, svc mailbox.Service, out io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, span := tracer.Start(ctx, "printStats")
		defer span.End()

		stats, err := svc.GetStats(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, stats)
	}
}

func sendMessage(ctx context.Context, snd sender.Sender) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, span := tracer.Start(ctx, "sendMessage")
		defer span.End()

		ok := snd.Send(ctx, base.SendRequest{
			To:      c.String("to"),
			Subject: c.String("subject"),
			Body:    c.String("body"),
			HTML:    c.Bool("html"),
		})
		if !ok {
			return cli.Exit("send failed", 1)
		}
		return nil
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = out.Write(append(encoded, '\n'))
	return err
}
