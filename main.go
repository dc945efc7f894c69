package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/customeros/mailfs/config"
	"github.com/customeros/mailfs/internal/credential"
	"github.com/customeros/mailfs/server"
)

func main() {
	app := &cli.App{
		Name:  "mailfs",
		Usage: "mount an IMAP mailbox as a filesystem",
		Commands: []*cli.Command{
			{
				Name:      "mount",
				Usage:     "mount the mailbox at a directory",
				ArgsUsage: "<mountpoint>",
				Flags: append(accountFlags(),
					&cli.StringFlag{Name: "password", Usage: "account password, read from the keyring when empty"},
					&cli.StringFlag{Name: "security", Usage: "tls, starttls or none"},
					&cli.BoolFlag{Name: "allow-other", Usage: "let other users access the mount"},
					&cli.BoolFlag{Name: "debug", Usage: "log every FUSE request"},
					&cli.StringFlag{Name: "status-addr", Usage: "serve /health and /status on this address"},
				),
				Action: mount,
			},
			{
				Name:   "store-password",
				Usage:  "save the account password in the system keyring",
				Flags:  accountFlags(),
				Action: storePassword,
			},
			{
				Name:   "forget-password",
				Usage:  "remove the account password from the system keyring",
				Flags:  accountFlags(),
				Action: forgetPassword,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func accountFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "server", Usage: "IMAP server as host:port"},
		&cli.StringFlag{Name: "username", Usage: "account login"},
	}
}

// loadConfig reads the environment and lets explicit flags override it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, errors.Wrap(err, "config initialization failed")
	}

	override := func(name string, target *string) {
		if c.IsSet(name) {
			*target = c.String(name)
		}
	}
	override("server", &cfg.ImapConfig.Server)
	override("username", &cfg.ImapConfig.Username)
	override("password", &cfg.ImapConfig.Password)
	override("security", &cfg.ImapConfig.Security)
	override("status-addr", &cfg.StatusConfig.Addr)
	if c.IsSet("allow-other") {
		cfg.MountConfig.AllowOther = c.Bool("allow-other")
	}
	if c.IsSet("debug") {
		cfg.MountConfig.Debug = c.Bool("debug")
	}
	if c.Args().Present() {
		cfg.MountConfig.Mountpoint = c.Args().First()
	}
	return cfg, nil
}

func mount(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}
	return srv.Run()
}

func openStore(c *cli.Context) (*credential.Store, string, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, "", err
	}
	if cfg.ImapConfig.Server == "" || cfg.ImapConfig.Username == "" {
		return nil, "", errors.New("both --server and --username are required")
	}
	store, err := credential.Open(credential.Config{
		ServiceName: cfg.KeyringConfig.ServiceName,
		FileDir:     cfg.KeyringConfig.FileDir,
	})
	if err != nil {
		return nil, "", err
	}
	return store, credential.Key(cfg.ImapConfig.Username, cfg.ImapConfig.Server), nil
}

func storePassword(c *cli.Context) error {
	store, key, err := openStore(c)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", key)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return errors.Wrap(err, "reading password")
	}
	value := strings.TrimRight(string(password), "\r\n")
	if value == "" {
		return errors.New("empty password")
	}
	if err := store.Set(key, value); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Stored password for %s\n", key)
	return nil
}

func forgetPassword(c *cli.Context) error {
	store, key, err := openStore(c)
	if err != nil {
		return err
	}
	if err := store.Remove(key); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Removed password for %s\n", key)
	return nil
}
