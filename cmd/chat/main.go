package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/client"
	"github.com/ZentaChain/securechat/pkg/config"
)

func main() {
	cfg := config.DefaultClientConfig()

	args := argparse.NewParser("chat", "SecureChat terminal client")
	server := args.String("s", "server", &argparse.Options{Help: "Relay address", Default: cfg.ServerAddr})
	user := args.String("u", "user", &argparse.Options{Required: true, Help: "Username"})
	pass := args.String("p", "password", &argparse.Options{Help: "Password, read from SECURECHAT_PASSWORD when empty"})
	downloads := args.String("o", "downloads", &argparse.Options{Help: "Directory for received files", Default: cfg.FileTransfer.DownloadDir})
	group := args.String("g", "group", &argparse.Options{Help: "Group to join after login"})
	logLevel := args.String("", "log-level", &argparse.Options{Help: "Log level", Default: cfg.LogLevel})

	if err := args.Parse(os.Args); err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	cfg.ServerAddr = *server
	cfg.FileTransfer.DownloadDir = *downloads
	cfg.LogLevel = *logLevel

	if err := cfg.Validate(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := config.SetupLogging(cfg.LogLevel, cfg.LogFormat, nil); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	password := *pass
	if password == "" {
		password = os.Getenv("SECURECHAT_PASSWORD")
	}

	rl, err := newLineEditor()
	if err != nil {
		logrus.WithError(err).Warn("Readline unavailable, using plain input")
		rl = nil
	}
	var out io.Writer = os.Stdout
	if rl != nil {
		defer rl.Close()
		out = rl.Stdout()
	}

	term := newTerminal(out)
	c := client.New(cfg, term)
	c.OnReconnect = func() {
		term.printf("* Re-send interrupted files with /send or /sendgroup to resume them")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		logrus.WithError(err).Fatal("Connection failed")
	}
	if err := c.Login(ctx, *user, password); err != nil {
		c.Disconnect()
		logrus.WithError(err).Fatal("Login failed")
	}
	term.printf("* Logged in as %s. Type /help for commands.", c.Username())

	current := ""
	if *group != "" {
		if err := c.JoinGroup(*group); err != nil {
			term.printf("! %v", err)
		} else {
			current = *group
		}
	}

	sh := &shell{ctx: ctx, c: c, term: term}

	lines := make(chan string)
	if rl != nil {
		rl.SetPrompt(promptFor(current))
		go readWithReadline(rl, lines)
	} else {
		go readWithScanner(os.Stdin, lines)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			err := sh.run(line, &current)
			if errors.Is(err, errQuit) {
				break loop
			}
			if err != nil {
				term.printf("! %v", err)
			}
			if rl != nil {
				rl.SetPrompt(promptFor(current))
			}
		}
	}

	c.Disconnect()
	c.Wait()
	term.printf("* Bye")
}
