package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wa4h1h/minitftpd/pkg/client"
	"github.com/Wa4h1h/minitftpd/pkg/utils"
)

var (
	logLevel = utils.GetEnv[string]("TFTP_LOG_LEVEL", "info", false)
	numTries = utils.GetEnv[uint]("TFTP_NUM_TRIES", "5", false)
	server   = utils.GetEnv[string]("TFTP_SERVER", "", false)
)

func main() {
	logger, err := utils.NewLogger(logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	l := logger.Sugar()
	c := client.NewClient(l, numTries)

	if server != "" {
		if err := c.Connect(server); err != nil {
			l.Error(err.Error())
		}
	}

	defer func(client client.Connector) {
		if err := client.Close(); err != nil {
			l.Error(err.Error())
		}
	}(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.NewCli(l, c).Read(ctx, os.Stdin, os.Stdout); err != nil {
		l.Error(err.Error())
	}
}
