package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"helpmate/auth"
	"helpmate/config"
	"helpmate/docstore"

	"github.com/spf13/cobra"
)

type commandContext struct {
	configFlag string
	envFlag    string
	userFlag   string
	tokenFlag  string
	jsonFlag   bool

	// store, when set, replaces the configured backend.
	store docstore.Store
	// keepOpen leaves the app running between commands.
	keepOpen bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	mu  sync.Mutex
	app *app
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var envFiles []string
		if f := strings.TrimSpace(c.envFlag); f != "" {
			envFiles = append(envFiles, f)
		}
		cfg, err := config.Load(strings.TrimSpace(c.configFlag), envFiles...)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withApp builds the service graph, runs fn and tears the graph down again.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app) error) error {
	a, err := c.openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer c.release()
	return fn(a)
}

func (c *commandContext) openApp(ctx context.Context) (*app, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, c.store)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *commandContext) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepOpen || c.app == nil {
		return
	}
	c.app.Close()
	c.app = nil
}

// session resolves the acting user from --token (or HELPMATE_TOKEN) and falls
// back to --user.
func (c *commandContext) session(ctx context.Context, a *app) (auth.Session, error) {
	token := strings.TrimSpace(c.tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("HELPMATE_TOKEN"))
	}
	if token != "" {
		s, err := auth.OpenSession(ctx, a.issuer, token)
		if err != nil {
			return nil, fmt.Errorf("sign in: %w", err)
		}
		return s, nil
	}
	if user := strings.TrimSpace(c.userFlag); user != "" {
		return auth.NewStaticSession(user), nil
	}
	return nil, errSignedOut
}

func (c *commandContext) userID(ctx context.Context, a *app) (string, error) {
	s, err := c.session(ctx, a)
	if err != nil {
		return "", err
	}
	id, ok := s.CurrentUserID()
	if !ok {
		return "", errSignedOut
	}
	return id, nil
}

var errSignedOut = errors.New("not signed in: pass --token or --user")

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
