package cli

import (
	"io"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/host"
	"github.com/cybershell/backy/internal/logger"
	"github.com/cybershell/backy/internal/notify"
	"github.com/cybershell/backy/internal/orchestrator"
	"github.com/cybershell/backy/internal/secret"
)

// app holds everything a command needs once the config is loaded.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	secrets  *secret.Resolver
	hosts    *host.Resolver
	executor *exec.Executor
	orch     *orchestrator.Orchestrator
	closeLog func()
}

// loadApp finds and loads the config, then wires the collaborators.
// out receives command output when --stdout or logging.cmd-std-out is set.
func loadApp(flags *globalFlags, out io.Writer) (*app, error) {
	path, err := config.Find(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(logger.Options{
		Verbose: flags.verbose || cfg.Logging.Verbose,
		File:    cfg.Logging.File,
		Name:    "backy",
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	log.Debug("loaded %s", cfg.Describe())

	var secretOpts []secret.Option
	if cfg.Vault.Enabled {
		backend, err := secret.NewVaultBackend(cfg.Vault)
		if err != nil {
			closeLog()
			return nil, err
		}
		secretOpts = append(secretOpts, secret.WithBackend(backend))
	}
	secrets := secret.NewResolver(cfg, secretOpts...)
	hosts := host.NewResolver(cfg.Hosts, host.WithLogger(log))

	execOpts := []exec.Option{exec.WithLogger(log)}
	if flags.stdout || cfg.Logging.CmdStdout {
		execOpts = append(execOpts, exec.WithTee(out))
	}
	executor := exec.New(cfg, hosts, secrets, execOpts...)

	dispatcher := notify.NewDispatcher(cfg, secrets, notify.WithLogger(log))
	orch := orchestrator.New(cfg, executor,
		orchestrator.WithDispatcher(dispatcher),
		orchestrator.WithLogger(log),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		secrets:  secrets,
		hosts:    hosts,
		executor: executor,
		orch:     orch,
		closeLog: closeLog,
	}, nil
}

// Close flushes the logger.
func (a *app) Close() {
	if a.closeLog != nil {
		a.closeLog()
	}
}
