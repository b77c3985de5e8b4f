package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	getRegex     = "^get\\s+(\\S+)(?:\\s+(\\S+))?$"
	putRegex     = "^put\\s+(\\S+)(?:\\s+(\\S+))?$"
	timeoutRegex = "^timeout\\s+(\\d+)$"
	connectRegex = "^connect\\s+(\\S+)\\s+(\\d+)$"
	traceRegex   = "^trace$"
	quitRegex    = "^quit$"
	helpRegex    = "^help$"
)

const helpText = `Commands:
	connect <host> <port>
	get <remote file> [local file]
	put <local file> [remote file]
	timeout <seconds>
	trace
	quit`

type Evaluator struct {
	l             *zap.SugaredLogger
	client        Connector
	out           io.Writer
	line          string
	regexPatterns map[string]*regexp.Regexp
}

func NewEvaluator(l *zap.SugaredLogger, client Connector, out io.Writer) *Evaluator {
	e := &Evaluator{
		l:      l,
		client: client,
		out:    out,
	}

	e.regexPatterns = make(map[string]*regexp.Regexp)

	e.regexPatterns["get"] = regexp.MustCompile(getRegex)
	e.regexPatterns["put"] = regexp.MustCompile(putRegex)
	e.regexPatterns["timeout"] = regexp.MustCompile(timeoutRegex)
	e.regexPatterns["connect"] = regexp.MustCompile(connectRegex)
	e.regexPatterns["trace"] = regexp.MustCompile(traceRegex)
	e.regexPatterns["quit"] = regexp.MustCompile(quitRegex)
	e.regexPatterns["help"] = regexp.MustCompile(helpRegex)

	return e
}

// evaluate runs the current line. The returned bool reports a quit.
func (e *Evaluator) evaluate(ctx context.Context) (bool, error) {
	e.line = strings.TrimSpace(e.line)

	if e.line == "" {
		return false, nil
	}

	if matches := e.regexPatterns["get"].FindStringSubmatch(e.line); len(matches) == 3 {
		return false, e.get(ctx, matches[1], orDefault(matches[2], filepath.Base(matches[1])))
	}

	if matches := e.regexPatterns["put"].FindStringSubmatch(e.line); len(matches) == 3 {
		return false, e.put(ctx, matches[1], orDefault(matches[2], filepath.Base(matches[1])))
	}

	if matches := e.regexPatterns["timeout"].FindStringSubmatch(e.line); len(matches) == 2 {
		n, err := strconv.ParseUint(matches[1], 10, 32)
		if err != nil {
			return false, fmt.Errorf("timeout value can not be parsed: %w", err)
		}

		e.client.SetTimeout(uint(n))

		return false, nil
	}

	if matches := e.regexPatterns["connect"].FindStringSubmatch(e.line); len(matches) == 3 {
		return false, e.client.Connect(fmt.Sprintf("%s:%s", matches[1], matches[2]))
	}

	if e.regexPatterns["trace"].MatchString(e.line) {
		e.client.SetTrace()

		return false, nil
	}

	if e.regexPatterns["help"].MatchString(e.line) {
		fmt.Fprintln(e.out, helpText)

		return false, nil
	}

	if e.regexPatterns["quit"].MatchString(e.line) {
		return true, nil
	}

	return false, fmt.Errorf("unknown command or arguments: %s", e.line)
}

func (e *Evaluator) get(ctx context.Context, remote, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("error while creating %s: %w", local, err)
	}

	n, err := e.client.Get(ctx, remote, f)
	err = multierr.Append(err, f.Close())

	if err != nil {
		if rmErr := os.Remove(local); rmErr != nil {
			e.l.Debugf("error while removing partial file %s: %s", local, rmErr.Error())
		}

		return err
	}

	fmt.Fprintf(e.out, "received %d bytes\n", n)

	return nil
}

func (e *Evaluator) put(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("error while opening %s: %w", local, err)
	}

	defer func() {
		if err := f.Close(); err != nil {
			e.l.Errorf("error while closing %s: %s", local, err.Error())
		}
	}()

	n, err := e.client.Put(ctx, remote, f)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "sent %d bytes\n", n)

	return nil
}

func orDefault(val, def string) string {
	if val == "" {
		return def
	}

	return val
}
