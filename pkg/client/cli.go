package client

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

const prompt = "tftp> "

type Cli struct {
	l          *zap.SugaredLogger
	tftpClient Connector
}

func NewCli(l *zap.SugaredLogger, tftpClient Connector) *Cli {
	return &Cli{l: l, tftpClient: tftpClient}
}

// Read runs the prompt loop until quit, end of input or ctx is done.
func (c *Cli) Read(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	evaluator := NewEvaluator(c.l, c.tftpClient, out)

	fmt.Fprint(out, prompt)

	for scanner.Scan() {
		evaluator.line = scanner.Text()

		done, err := evaluator.evaluate(ctx)
		if err != nil {
			fmt.Fprintf(out, "%s\n", err.Error())
		}

		if done || ctx.Err() != nil {
			return nil
		}

		fmt.Fprint(out, prompt)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error while reading commands: %w", err)
	}

	return nil
}
