package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/obexgo/internal/config"
	"github.com/spf13/cobra"
)

// overlayFile holds local overrides; only keys present in the file apply.
type overlayFile struct {
	Transport       string   `toml:"transport"`
	Addr            string   `toml:"addr"`
	MaxPacketSize   int      `toml:"max_packet_size"`
	ResponseTimeout string   `toml:"response_timeout"`
	Token           string   `toml:"token"`
	Root            string   `toml:"root"`
	ReadOnly        bool     `toml:"read_only"`
	Allow           []string `toml:"allow"`
	AdminEnabled    bool     `toml:"admin_enabled"`
	AdminAddr       string   `toml:"admin_addr"`
	Target          string   `toml:"target"`
	ConnectTimeout  string   `toml:"connect_timeout"`
	MaxAttempts     int      `toml:"max_attempts"`
}

func decodeOverlay(path string) (overlayFile, toml.MetaData, error) {
	var raw overlayFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return overlayFile{}, meta, fmt.Errorf("load overlay: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return overlayFile{}, meta, fmt.Errorf("load overlay: unknown key %q", undecoded[0].String())
	}
	return raw, meta, nil
}

func parseDuration(key, raw string) (config.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return config.Duration{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return config.Duration{Duration: d}, nil
}

func loadServerConfig(path, overlay string) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if strings.TrimSpace(path) != "" {
		loaded, err := config.LoadServerConfig(path)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	if strings.TrimSpace(overlay) == "" {
		return cfg, nil
	}
	raw, meta, err := decodeOverlay(overlay)
	if err != nil {
		return config.ServerConfig{}, err
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("max_packet_size") {
		cfg.MaxPacketSize = raw.MaxPacketSize
	}
	if meta.IsDefined("response_timeout") {
		d, err := parseDuration("response_timeout", raw.ResponseTimeout)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg.ResponseTimeout = d
	}
	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}
	if meta.IsDefined("root") {
		cfg.Root = strings.TrimSpace(raw.Root)
	}
	if meta.IsDefined("read_only") {
		cfg.ReadOnly = raw.ReadOnly
	}
	if meta.IsDefined("allow") {
		cfg.Allow = normalizeList(raw.Allow)
	}
	if meta.IsDefined("admin_enabled") {
		cfg.Admin.Enabled = raw.AdminEnabled
	}
	if meta.IsDefined("admin_addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.AdminAddr)
	}
	if err := config.ValidateServerConfig(cfg); err != nil {
		return config.ServerConfig{}, err
	}
	return cfg, nil
}

func loadClientConfig(path, overlay string) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if strings.TrimSpace(path) != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if strings.TrimSpace(overlay) == "" {
		return cfg, nil
	}
	raw, meta, err := decodeOverlay(overlay)
	if err != nil {
		return config.ClientConfig{}, err
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("max_packet_size") {
		cfg.MaxPacketSize = raw.MaxPacketSize
	}
	if meta.IsDefined("response_timeout") {
		d, err := parseDuration("response_timeout", raw.ResponseTimeout)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg.ResponseTimeout = d
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}
	if meta.IsDefined("target") {
		cfg.Target = strings.TrimSpace(raw.Target)
	}
	if meta.IsDefined("max_attempts") {
		cfg.Retry.MaxAttempts = raw.MaxAttempts
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
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

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write or validate config files",
}

var configInitFlags struct {
	kind  string
	force bool
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a commented server or client config template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteTemplate(args[0], configInitFlags.kind, configInitFlags.force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", configInitFlags.kind, args[0])
		return nil
	},
}

var configValidateKind string

var configValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Load and validate a config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var err error
		switch strings.ToLower(strings.TrimSpace(configValidateKind)) {
		case "server":
			_, err = loadServerConfig(args[0], rootFlags.overlay)
		case "client":
			_, err = loadClientConfig(args[0], rootFlags.overlay)
		default:
			err = fmt.Errorf("unknown config kind: %s", configValidateKind)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", configValidateKind, args[0])
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitFlags.kind, "kind", "server", "server|client")
	configInitCmd.Flags().BoolVar(&configInitFlags.force, "force", false, "overwrite an existing file")
	configValidateCmd.Flags().StringVar(&configValidateKind, "kind", "server", "server|client")
	configCmd.AddCommand(configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
