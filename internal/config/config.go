package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/decibelcooper/cmsana/internal/anaerr"
)

type Campaign struct {
	Name        string
	CMSSW       string
	WorkDir     string
	Years       []string
	Regions     []Region
	Executables []Executable
	Condor      Condor
	SSH         SSH
	LedgerPath  string
}

type Region struct {
	Name      string `toml:"name"`
	Selection string `toml:"selection"`
}

type Executable struct {
	Name   string   `toml:"name"`
	Path   string   `toml:"path"`
	Args   []string `toml:"args"`
	Output string   `toml:"output"`
}

type Condor struct {
	Flavour    string
	CPUs       int
	Memory     string
	MaxRuntime time.Duration
	Proxy      string
	Schedd     string
}

// SSH locates the login node for --remote. Host is host[:port]; an empty User
// means the local login name.
type SSH struct {
	Host           string
	User           string
	KeyPath        string
	KnownHostsPath string
	Timeout        time.Duration
}

type fileConfig struct {
	Years      []string     `toml:"years"`
	Ledger     string       `toml:"ledger"`
	Analysis   fileAnalysis `toml:"analysis"`
	Condor     fileCondor   `toml:"condor"`
	SSH        fileSSH      `toml:"ssh"`
	Executable []Executable `toml:"executable"`
	Region     []Region     `toml:"region"`
}

type fileAnalysis struct {
	Name    string `toml:"name"`
	CMSSW   string `toml:"cmssw"`
	WorkDir string `toml:"workdir"`
}

type fileCondor struct {
	Flavour    string `toml:"flavour"`
	CPUs       int    `toml:"cpus"`
	Memory     string `toml:"memory"`
	MaxRuntime string `toml:"max_runtime"`
	Proxy      string `toml:"proxy"`
	Schedd     string `toml:"schedd"`
}

type fileSSH struct {
	Host       string `toml:"host"`
	User       string `toml:"user"`
	Key        string `toml:"key"`
	KnownHosts string `toml:"known_hosts"`
	Timeout    string `toml:"timeout"`
}

type envOverrides struct {
	CMSSW  string `env:"CMSANA_CMSSW"`
	Proxy  string `env:"CMSANA_PROXY"`
	Schedd string `env:"CMSANA_SCHEDD"`
	Ledger string `env:"CMSANA_LEDGER"`
	SSH    string `env:"CMSANA_SSH_HOST"`
}

func Default() Campaign {
	return Campaign{
		Name:       "analysis",
		WorkDir:    "condor",
		Years:      []string{"2016PreVFP", "2016PostVFP", "2017", "2018"},
		LedgerPath: "cmsana-jobs.db",
		Condor: Condor{
			Flavour: "workday",
			CPUs:    1,
		},
		SSH: SSH{Timeout: 30 * time.Second},
	}
}

// Load reads a campaign file on top of the defaults and then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Campaign, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Campaign{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Campaign{}, err
	}
	if err := Validate(cfg); err != nil {
		return Campaign{}, anaerr.Invalid("config.load", path, "%v", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Campaign) error {
	if _, err := os.Stat(path); err != nil {
		return anaerr.NotFound("config.load", path, err)
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return anaerr.Invalid("config.load", path, "%v", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return anaerr.Invalid("config.load", path, "unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("years") {
		cfg.Years = normalize(raw.Years)
	}
	if meta.IsDefined("ledger") {
		cfg.LedgerPath = relativeTo(path, strings.TrimSpace(raw.Ledger))
	}
	if meta.IsDefined("analysis", "name") {
		cfg.Name = strings.TrimSpace(raw.Analysis.Name)
	}
	if meta.IsDefined("analysis", "cmssw") {
		cfg.CMSSW = strings.TrimSpace(raw.Analysis.CMSSW)
	}
	if meta.IsDefined("analysis", "workdir") {
		cfg.WorkDir = relativeTo(path, strings.TrimSpace(raw.Analysis.WorkDir))
	}

	if meta.IsDefined("condor", "flavour") {
		cfg.Condor.Flavour = strings.TrimSpace(raw.Condor.Flavour)
	}
	if meta.IsDefined("condor", "cpus") {
		cfg.Condor.CPUs = raw.Condor.CPUs
	}
	if meta.IsDefined("condor", "memory") {
		cfg.Condor.Memory = strings.TrimSpace(raw.Condor.Memory)
	}
	if meta.IsDefined("condor", "max_runtime") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Condor.MaxRuntime))
		if err != nil {
			return anaerr.Invalid("config.load", path, "parse condor.max_runtime: %v", err)
		}
		cfg.Condor.MaxRuntime = d
	}
	if meta.IsDefined("condor", "proxy") {
		cfg.Condor.Proxy = strings.TrimSpace(raw.Condor.Proxy)
	}
	if meta.IsDefined("condor", "schedd") {
		cfg.Condor.Schedd = strings.TrimSpace(raw.Condor.Schedd)
	}

	if meta.IsDefined("ssh", "host") {
		cfg.SSH.Host = strings.TrimSpace(raw.SSH.Host)
	}
	if meta.IsDefined("ssh", "user") {
		cfg.SSH.User = strings.TrimSpace(raw.SSH.User)
	}
	if meta.IsDefined("ssh", "key") {
		cfg.SSH.KeyPath = expandHome(strings.TrimSpace(raw.SSH.Key))
	}
	if meta.IsDefined("ssh", "known_hosts") {
		cfg.SSH.KnownHostsPath = expandHome(strings.TrimSpace(raw.SSH.KnownHosts))
	}
	if meta.IsDefined("ssh", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SSH.Timeout))
		if err != nil {
			return anaerr.Invalid("config.load", path, "parse ssh.timeout: %v", err)
		}
		cfg.SSH.Timeout = d
	}

	if meta.IsDefined("executable") {
		cfg.Executables = raw.Executable
	}
	if meta.IsDefined("region") {
		cfg.Regions = raw.Region
	}
	return nil
}

func applyEnv(cfg *Campaign) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if overrides.CMSSW != "" {
		cfg.CMSSW = overrides.CMSSW
	}
	if overrides.Proxy != "" {
		cfg.Condor.Proxy = overrides.Proxy
	}
	if overrides.Schedd != "" {
		cfg.Condor.Schedd = overrides.Schedd
	}
	if overrides.Ledger != "" {
		cfg.LedgerPath = overrides.Ledger
	}
	if overrides.SSH != "" {
		cfg.SSH.Host = overrides.SSH
	}
	return nil
}

func Validate(cfg Campaign) error {
	if cfg.Condor.CPUs < 0 {
		return fmt.Errorf("condor.cpus must not be negative")
	}
	if cfg.Condor.MaxRuntime < 0 {
		return fmt.Errorf("condor.max_runtime must not be negative")
	}
	seen := make(map[string]bool)
	for i, exe := range cfg.Executables {
		if strings.TrimSpace(exe.Name) == "" {
			return fmt.Errorf("executable[%d] missing name", i)
		}
		if strings.TrimSpace(exe.Path) == "" {
			return fmt.Errorf("executable[%d] (%s) missing path", i, exe.Name)
		}
		if seen["exe:"+exe.Name] {
			return fmt.Errorf("executable %q defined twice", exe.Name)
		}
		seen["exe:"+exe.Name] = true
	}
	for i, region := range cfg.Regions {
		if strings.TrimSpace(region.Name) == "" {
			return fmt.Errorf("region[%d] missing name", i)
		}
		if seen["region:"+region.Name] {
			return fmt.Errorf("region %q defined twice", region.Name)
		}
		seen["region:"+region.Name] = true
	}
	return nil
}

func (c Campaign) Executable(name string) (Executable, bool) {
	for _, exe := range c.Executables {
		if exe.Name == name {
			return exe, true
		}
	}
	return Executable{}, false
}

// RegionsNamed picks the named regions in the requested order. A name without a
// configured region is used as its own selection string.
func (c Campaign) RegionsNamed(names []string) []Region {
	if len(names) == 0 {
		return c.Regions
	}
	out := make([]Region, 0, len(names))
	for _, name := range names {
		region := Region{Name: name, Selection: name}
		for _, r := range c.Regions {
			if r.Name == name {
				region = r
				break
			}
		}
		if region.Selection == "" {
			region.Selection = region.Name
		}
		out = append(out, region)
	}
	return out
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func relativeTo(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
