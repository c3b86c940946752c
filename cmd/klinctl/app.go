package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/klinners/klinners_web/internal/apiclient"
	"github.com/klinners/klinners_web/internal/auth"
	"github.com/klinners/klinners_web/internal/config"
	"github.com/klinners/klinners_web/internal/logging"
	"github.com/klinners/klinners_web/internal/session"
	"github.com/klinners/klinners_web/internal/storage"
)

// globalOptions override the environment for a single invocation.
type globalOptions struct {
	apiURL      string
	storage     string
	storagePath string
	logLevel    string
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.apiURL, "api-url", "", "API base URL (overrides API_BASE_URL)")
	fs.StringVar(&o.storage, "storage", "", "session storage backend: file, memory, none, redis, postgres")
	fs.StringVar(&o.storagePath, "storage-path", "", "session file for the file backend")
	fs.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func (o *globalOptions) apply(cfg *config.Config) error {
	if o.apiURL != "" {
		cfg.APIBaseURL = strings.TrimRight(o.apiURL, "/")
	}
	if o.storage != "" {
		cfg.StorageBackend = strings.ToLower(o.storage)
	}
	if o.storagePath != "" {
		cfg.StoragePath = o.storagePath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg.Validate()
}

// app is the wired client stack shared by every command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	tokens  *storage.Tokens
	client  *apiclient.Client
	auth    *auth.Service
	session *session.Manager
	out     io.Writer
	in      *bufio.Reader
	close   func() error
}

func newApp(ctx context.Context, cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := opts.apply(&cfg); err != nil {
		return nil, err
	}

	logger := logging.NewWriter(cmd.ErrOrStderr(), cfg.LogLevel)
	backend, closeBackend, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	tokens := storage.NewTokens(backend, logger)

	client := apiclient.New(cfg.APIBaseURL, tokens,
		apiclient.WithLogger(logger),
		apiclient.WithTimeout(cfg.APITimeout),
		apiclient.WithRateLimit(cfg.APIRateLimit, 1),
	)
	svc := auth.NewService(client, tokens, logger)

	out := cmd.OutOrStdout()
	manager := session.New(svc, tokens,
		session.WithLogger(logger),
		session.WithSignInPath(cfg.SignInPath),
		session.WithNavigator(session.NavigatorFunc(func(path string) {
			fmt.Fprintf(out, "Please sign in: run `klinctl login` (%s).\n", path)
		})),
	)
	client.SetUnauthorizedHook(manager.HandleUnauthorized)

	if err := manager.Init(ctx); err != nil {
		_ = closeBackend()
		return nil, fmt.Errorf("restore session: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		tokens:  tokens,
		client:  client,
		auth:    svc,
		session: manager,
		out:     out,
		in:      bufio.NewReader(cmd.InOrStdin()),
		close:   closeBackend,
	}, nil
}

// prompt reads one line from stdin when value is empty.
func (a *app) prompt(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(a.out, "%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}

// report prints the outcome of an auth call and turns failures into errors
// so the exit status reflects them.
func (a *app) report(res auth.Result, err error, success string) error {
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Message)
	}
	msg := success
	if res.Message != "" {
		msg = res.Message
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

// requireAuth applies the route guard to commands that need a session.
func (a *app) requireAuth() error {
	if a.session.RequireAuth(nil) {
		return nil
	}
	return errors.New("not signed in")
}
