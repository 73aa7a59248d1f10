package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "whisperd"

type Runtime struct {
	OS   string
	Arch string
}

func CurrentRuntime() Runtime {
	return Runtime{
		OS:   runtime.GOOS,
		Arch: NormalizeArch(runtime.GOARCH),
	}
}

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

// Env is the subset of the environment data directory resolution reads.
type Env struct {
	Home        string
	XDGDataHome string
	AppData     string
}

func CurrentEnv() (Env, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Env{}, fmt.Errorf("resolve user home: %w", err)
	}
	return Env{
		Home:        homeDir,
		XDGDataHome: os.Getenv("XDG_DATA_HOME"),
		AppData:     os.Getenv("APPDATA"),
	}, nil
}

func DefaultModelDirFor(goos string, env Env) (string, error) {
	dataDir, err := defaultDataDirFor(goos, env)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "models"), nil
}

func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	env, err := CurrentEnv()
	if err != nil {
		return "", err
	}
	return DefaultModelDirFor(runtime.GOOS, env)
}

func defaultDataDirFor(goos string, env Env) (string, error) {
	if env.Home == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if env.XDGDataHome != "" {
			return filepath.Join(env.XDGDataHome, appName), nil
		}
		return filepath.Join(env.Home, ".local", "share", appName), nil
	case "darwin":
		return filepath.Join(env.Home, "Library", "Application Support", appName), nil
	case "windows":
		if env.AppData != "" {
			return filepath.Join(env.AppData, appName), nil
		}
		return filepath.Join(env.Home, "AppData", "Roaming", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}
