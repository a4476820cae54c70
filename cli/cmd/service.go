package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	kardianos "github.com/kardianos/service"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/config"
	"github.com/pithecene-io/ferry/log"
)

// stopTimeout bounds how long Stop waits for in-flight transfers.
const stopTimeout = 30 * time.Second

// program runs the server under the service manager.
type program struct {
	cfg    *config.Config
	logger *log.Logger

	cancel context.CancelFunc
	done   chan error
}

// Start implements kardianos.Interface. It must not block.
func (p *program) Start(kardianos.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	p.logger.Info("service starting", map[string]any{
		"platform": kardianos.Platform(),
		"addr":     p.cfg.Server.Addr,
		"root":     p.cfg.Server.Root,
	})
	go func() { p.done <- runServer(ctx, p.cfg, p.logger) }()
	return nil
}

// Stop implements kardianos.Interface.
func (p *program) Stop(kardianos.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		p.logger.Info("service stopped", nil)
		return err
	case <-time.After(stopTimeout):
		return fmt.Errorf("server did not stop within %s", stopTimeout)
	}
}

// ServiceCommand returns the service command group.
func ServiceCommand() *cli.Command {
	subs := make([]*cli.Command, 0, len(kardianos.ControlAction)+1)
	for _, action := range kardianos.ControlAction {
		subs = append(subs, &cli.Command{
			Name:   action,
			Usage:  fmt.Sprintf("%s the ferry server service", action),
			Action: serviceControlAction(action),
		})
	}
	subs = append(subs, &cli.Command{
		Name:   "run",
		Usage:  "Run the server under the service manager (used by the installed unit)",
		Action: serviceRunAction,
	})
	return &cli.Command{
		Name:        "service",
		Usage:       "Install and control ferry serve as an OS service",
		Subcommands: subs,
	}
}

// serviceArguments rebuilds the global flags the installed unit passes back to `service run`.
func serviceArguments(c *cli.Context) ([]string, error) {
	var args []string
	for _, name := range []string{"config", "env-file"} {
		v := c.String(name)
		if v == "" {
			continue
		}
		abs, err := filepath.Abs(v)
		if err != nil {
			return nil, err
		}
		args = append(args, "--"+name, abs)
	}
	return append(args, "service", "run"), nil
}

func newService(c *cli.Context, cfg *config.Config, prg *program) (kardianos.Service, error) {
	args, err := serviceArguments(c)
	if err != nil {
		return nil, err
	}
	return kardianos.New(prg, &kardianos.Config{
		Name:        cfg.Server.Service.Name,
		DisplayName: cfg.Server.Service.DisplayName,
		Description: cfg.Server.Service.Description,
		Arguments:   args,
	})
}

func serviceControlAction(action string) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		s, err := newService(c, cfg, &program{cfg: cfg, logger: log.Nop()})
		if err != nil {
			return cli.Exit(fmt.Sprintf("service: %v", err), exitInvalid)
		}
		if err := kardianos.Control(s, action); err != nil {
			return cli.Exit(fmt.Sprintf("service %s: %v", action, err), exitConnection)
		}
		_, _ = fmt.Fprintf(c.App.Writer, "service %s: %s\n", cfg.Server.Service.Name, action)
		return nil
	}
}

func serviceRunAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := checkRoot(cfg.Server.Root); err != nil {
		return cli.Exit(err.Error(), exitInvalid)
	}
	logger, err := newLogger(c, cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, err := newService(c, cfg, &program{cfg: cfg, logger: logger})
	if err != nil {
		return cli.Exit(fmt.Sprintf("service: %v", err), exitInvalid)
	}
	if err := s.Run(); err != nil {
		return cli.Exit(fmt.Sprintf("service run: %v", err), exitConnection)
	}
	return nil
}
