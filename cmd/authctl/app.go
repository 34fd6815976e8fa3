package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/kbukum/authkit/config"
	"github.com/kbukum/authkit/credstore"
	"github.com/kbukum/authkit/httpclient"
	"github.com/kbukum/authkit/idp"
	"github.com/kbukum/authkit/logger"
	"github.com/kbukum/authkit/session"
)

// app holds the wired session manager plus the terminal streams.
type app struct {
	cfg     *config.AppConfig
	log     *logger.Logger
	manager *session.Manager
	reader  *bufio.Reader
	out     io.Writer
	errOut  io.Writer
}

func newApp(cfg *config.AppConfig, stdin io.Reader, stdout, stderr io.Writer) (*app, error) {
	log := logger.New(&cfg.Logging, cfg.Name)

	store, err := credstore.NewFileStore(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	client, err := httpclient.New(httpclient.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Tokens: func() (string, error) {
			return store.Get(credstore.KeyAccessToken)
		},
		Retry:  httpclient.DefaultRetryConfig(),
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	var provider idp.Provider
	if cfg.Google.ClientID != "" {
		google, err := idp.NewGoogle(cfg.Google)
		if err != nil {
			return nil, err
		}
		provider = google
	}

	manager, err := session.New(session.Config{
		Client:   client,
		Store:    store,
		Provider: provider,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		manager: manager,
		reader:  bufio.NewReader(stdin),
		out:     stdout,
		errOut:  stderr,
	}, nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

func (a *app) errorf(format string, args ...any) {
	fmt.Fprintf(a.errOut, format+"\n", args...)
}
