// Package edge writes reverse-proxy virtual hosts mapping public domains to
// allocated tenant ports, and reloads the edge router after validating its
// full configuration. TLS issuance is a best-effort step with a typed
// outcome: a freshly registered domain often has no propagated DNS yet, so
// issuance failure leaves the site on plain HTTP and never fails the job.
package edge

import (
	"bytes"
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/storegrid/engine/internal/execx"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"github.com/storegrid/engine/pkg/utils"
	"go.uber.org/zap"
)

//go:embed templates/vhost.conf.tmpl
var vhostTemplate string

const (
	reloadTimeout  = 30 * time.Second
	certbotTimeout = 3 * time.Minute
)

// TLSOutcome is the recorded result of the best-effort issuance step.
type TLSOutcome struct {
	Degraded bool
	Reason   string
}

func TLSOk() TLSOutcome { return TLSOutcome{} }

func TLSDegraded(reason string) TLSOutcome { return TLSOutcome{Degraded: true, Reason: reason} }

type Config struct {
	VhostDir     string
	AccessLogDir string
	NginxBin     string
	CertbotBin   string
	CertbotEmail string
}

type Configurator struct {
	runner execx.Runner
	cfg    Config
	tmpl   *template.Template
}

func NewConfigurator(runner execx.Runner, cfg Config) (*Configurator, error) {
	t, err := template.New("vhost").Parse(vhostTemplate)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "parse vhost template failed")
	}
	return &Configurator{runner: runner, cfg: cfg, tmpl: t}, nil
}

// VhostPath is where the virtual host for a domain lives.
func (c *Configurator) VhostPath(domain string) string {
	return filepath.Join(c.cfg.VhostDir, domain+".conf")
}

// AccessLogPath is where the edge router writes the domain's access log.
func (c *Configurator) AccessLogPath(domain string) string {
	return filepath.Join(c.cfg.AccessLogDir, domain+".access.log")
}

type vhostInput struct {
	Domain    string
	Port      int
	AccessLog string
	Staging   bool
}

// Configure writes the vhost proxying domain to localhost:port, validates
// the router's full configuration, and reloads. A failed validation removes
// the new file again so a broken vhost can never linger in the config dir.
// Re-running with identical content skips the validate and reload.
func (c *Configurator) Configure(ctx context.Context, domain string, port int, staging bool) error {
	var buf bytes.Buffer
	in := vhostInput{Domain: domain, Port: port, AccessLog: c.AccessLogPath(domain), Staging: staging}
	if err := c.tmpl.Execute(&buf, in); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "render vhost failed")
	}

	path := c.VhostPath(domain)
	if existing, err := os.ReadFile(path); err == nil {
		if utils.SumSHA256(existing) == utils.SumSHA256(buf.Bytes()) {
			return nil
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write vhost failed")
	}

	if err := c.validate(ctx); err != nil {
		_ = os.Remove(path)
		return err
	}
	return c.Reload(ctx)
}

// Remove deletes the domain's vhost and reloads. Missing files are fine;
// rollback may run before the vhost was ever written.
func (c *Configurator) Remove(ctx context.Context, domain string) error {
	if err := os.Remove(c.VhostPath(domain)); err != nil && !os.IsNotExist(err) {
		return appErr.Wrap(err, appErr.CodeInternal, "remove vhost failed")
	}
	if err := c.validate(ctx); err != nil {
		return err
	}
	return c.Reload(ctx)
}

func (c *Configurator) validate(ctx context.Context) error {
	_, err := c.runner.Run(ctx, execx.Cmd{
		Bin:     c.cfg.NginxBin,
		Args:    []string{"-t"},
		Timeout: reloadTimeout,
	})
	return err
}

// Reload signals the router to pick up the current configuration.
func (c *Configurator) Reload(ctx context.Context) error {
	_, err := c.runner.Run(ctx, execx.Cmd{
		Bin:     c.cfg.NginxBin,
		Args:    []string{"-s", "reload"},
		Timeout: reloadTimeout,
	})
	return err
}

// IssueCertificate attempts domain-validated issuance through the CA client.
// Best-effort: the outcome is returned for recording, never as an error.
func (c *Configurator) IssueCertificate(ctx context.Context, domain string) TLSOutcome {
	args := []string{"--nginx", "-d", domain, "--non-interactive", "--agree-tos", "--redirect"}
	if c.cfg.CertbotEmail != "" {
		args = append(args, "-m", c.cfg.CertbotEmail)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}
	res, err := c.runner.Run(ctx, execx.Cmd{
		Bin:     c.cfg.CertbotBin,
		Args:    args,
		Timeout: certbotTimeout,
	})
	if err != nil {
		reason := execx.Tail(res.Stderr, 256)
		if reason == "" {
			reason = err.Error()
		}
		logger.L().Warn("certificate issuance failed, serving plain HTTP",
			zap.String("domain", domain), zap.String("reason", reason))
		return TLSDegraded(reason)
	}
	return TLSOk()
}
