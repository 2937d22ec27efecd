package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource string

// Error codes reported in LoadError.Code.
const (
	ErrCodeNotFound      = "E201" // Config file not found
	ErrCodeSyntax        = "E202" // CUE syntax error
	ErrCodeSchema        = "E203" // Schema violation
	ErrCodeNoPeers       = "E204" // Neither peer nor peers given
	ErrCodeDuplicatePeer = "E205" // Peer name or address used twice
)

// LoadError is a configuration error with its CUE position when known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Config is a decoded peer configuration.
type Config struct {
	Peer      *PeerConfig     `json:"peer,omitempty"`
	Peers     []PeerConfig    `json:"peers,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Bootstrap BootstrapConfig `json:"bootstrap"`
	Journal   JournalConfig   `json:"journal"`
	Log       LogConfig       `json:"log"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type PeerConfig struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Hostname string `json:"hostname,omitempty"`
}

type SchedulerConfig struct {
	MaxWorkers int `json:"max_workers"`
}

type BootstrapConfig struct {
	AffirmIdentity bool `json:"affirm_identity"`
}

type JournalConfig struct {
	Path string `json:"path"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// AllPeers returns the single peer followed by the peers list.
func (c *Config) AllPeers() []PeerConfig {
	out := []PeerConfig{}
	if c.Peer != nil {
		out = append(out, *c.Peer)
	}
	return append(out, c.Peers...)
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Handler builds the configured slog handler writing to w. A verbose
// caller forces debug level.
func (l LogConfig) Handler(w io.Writer, verbose bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Default returns the configuration the schema yields for a single peer.
func Default(name, address string) *Config {
	return &Config{
		Peer:      &PeerConfig{Name: name, Address: address},
		Bootstrap: BootstrapConfig{AffirmIdentity: true},
		Log:       LogConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Namespace: "hgpeer"},
	}
}

// Load reads and validates the CUE file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading config: %v", err)}
	}
	return Parse(path, data)
}

// Parse validates CUE source against the schema and decodes it. name is
// used in error positions.
func Parse(name string, data []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile embedded schema: %w", err)
	}

	src := ctx.CompileBytes(data, cue.Filename(name))
	if err := src.Err(); err != nil {
		return nil, cueLoadError(ErrCodeSyntax, err)
	}

	v := schema.Unify(src)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(ErrCodeSchema, err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, cueLoadError(ErrCodeSchema, err)
	}
	if err := checkPeers(src, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkPeers takes the source value so positions point into the user file.
func checkPeers(v cue.Value, cfg *Config) error {
	peers := cfg.AllPeers()
	if len(peers) == 0 {
		return &LoadError{Code: ErrCodeNoPeers, Message: "at least one peer is required", Pos: v.Pos()}
	}

	names := map[string]bool{}
	addrs := map[string]bool{}
	for i, p := range peers {
		var dup string
		switch {
		case names[p.Name]:
			dup = fmt.Sprintf("peer name %q used twice", p.Name)
		case addrs[p.Address]:
			dup = fmt.Sprintf("peer address %q used twice", p.Address)
		}
		if dup != "" {
			return &LoadError{Code: ErrCodeDuplicatePeer, Message: dup, Pos: peerPos(v, cfg, i)}
		}
		names[p.Name] = true
		addrs[p.Address] = true
	}
	return nil
}

// peerPos locates the i-th entry of AllPeers in the source.
func peerPos(v cue.Value, cfg *Config, i int) token.Pos {
	path := cue.MakePath(cue.Str("peer"))
	if cfg.Peer == nil {
		path = cue.MakePath(cue.Str("peers"), cue.Index(i))
	} else if i > 0 {
		path = cue.MakePath(cue.Str("peers"), cue.Index(i-1))
	}
	return v.LookupPath(path).Pos()
}

// cueLoadError converts the first CUE error into a LoadError, keeping its
// position.
func cueLoadError(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	for _, pos := range cueerrors.Positions(first) {
		// Prefer a position in the user's file over one in the schema.
		if pos.Filename() != "schema.cue" {
			le.Pos = pos
			break
		}
	}
	return le
}
