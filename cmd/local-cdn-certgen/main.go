// Command local-cdn-certgen issues a local certificate authority and
// per-server leaf certificates from a JSON config, regenerating only
// when there is no prior state, the CA file is missing, the config
// changes, or the configured overwrite policy says to.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Forist2034/local-cdn/internal/certgen"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	configPath, caDir, serversDir, statePath, err := parseArgs(args)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	cfg, err := certgen.LoadConfig(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	prev, havePrev, err := certgen.LoadState(statePath)
	if err != nil {
		return err
	}
	caFileExists := fileExists(filepath.Join(caDir, cfg.CAName+".pem"))

	now := time.Now().UTC()
	if !certgen.ShouldRegenerate(prev, havePrev, raw, cfg.Overwrite, caFileExists, now) {
		fmt.Println("local-cdn-certgen: existing bundle still valid, nothing to do")
		return nil
	}

	ca, servers, err := certgen.Generate(cfg, now)
	if err != nil {
		return fmt.Errorf("generate certificates: %w", err)
	}

	if err := certgen.WriteBundle(caDir, serversDir, ca, servers); err != nil {
		return err
	}

	state := certgen.State{
		Expire:       now.Add(time.Duration(cfg.ExpireSecs) * time.Second),
		ConfigSHA256: certgen.ConfigHash(raw),
	}
	if err := certgen.SaveState(statePath, state); err != nil {
		return err
	}

	fmt.Printf("local-cdn-certgen: issued ca %q and %d server certificate(s)\n", ca.Name, len(servers))
	return nil
}

func parseArgs(args []string) (configPath, caDir, serversDir, statePath string, err error) {
	if len(args) < 3 || len(args) > 4 {
		return "", "", "", "", fmt.Errorf("usage: local-cdn-certgen <config.json> <ca_dir> <servers_dir> [<state_path>]")
	}
	configPath, caDir, serversDir = args[0], args[1], args[2]
	statePath = filepath.Join(serversDir, ".local-cdn-certgen-state.json")
	if len(args) == 4 {
		statePath = args[3]
	}
	return configPath, caDir, serversDir, statePath, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
