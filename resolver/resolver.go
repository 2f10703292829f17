package resolver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/HQarroum/fhsbox/logger"
)

/**
 * Specification of the environment to resolve: either a path to a Nix
 * recipe or a non-empty list of package names.
 */
type Spec struct {

	// Path to the recipe file (shell.nix style).
	Recipe string

	// Package names for a synthesized environment.
	Packages []string

	// Environment name used when the recipe cannot provide one.
	Name string

	// Bypass the resolver cache.
	NoCache bool
}

/**
 * A resolved environment: a named, built FHS tree on disk.
 */
type Environment struct {
	Name    string `json:"name"`
	FhsPath string `json:"fhs_path"`
}

/**
 * Top-level directories an FHS tree may carry. Anything else at the
 * top level is rejected.
 */
var allowedTopLevel = map[string]struct{}{
	"bin":     {},
	"etc":     {},
	"lib":     {},
	"lib32":   {},
	"lib64":   {},
	"sbin":    {},
	"usr":     {},
	"libexec": {},
}

/**
 * Matches the store path of a shell-env derivation and captures its
 * environment name.
 */
var shellEnvDrvPattern = regexp.MustCompile(`/nix/store/([^-]+)-(.+)-shell-env\.drv`)

/**
 * Recipe synthesized for package-list environments; the resulting
 * derivation goes through the same pipeline as a user recipe.
 */
const packagesRecipe = `{ pkgs ? import <nixpkgs> {} }:
(pkgs.buildFHSUserEnv {
  name = "%s";
  targetPkgs = ps: with ps; [ %s ];
}).env
`

/**
 * Run an external tool and return its trimmed standard output.
 * Non-UTF-8 output is a hard error: the output is consumed as a store
 * path or a JSON document downstream.
 * @param name the tool name
 * @param args the tool arguments
 * @return the trimmed output and error if any
 */
func command(name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	if !utf8.Valid(stdout.Bytes()) {
		return "", fmt.Errorf("non-UTF-8 output from %s", name)
	}
	return strings.TrimRight(stdout.String(), " \t\r\n"), nil
}

/**
 * Evaluate a recipe into its derivation path.
 * @param recipe the recipe file path
 * @return the derivation store path and error if any
 */
func instantiate(recipe string) (string, error) {
	drv, err := command("nix-instantiate", recipe)
	if err != nil {
		return "", fmt.Errorf("Unable to evaluate %s: %w", recipe, err)
	}
	return drv, nil
}

/**
 * Read the shellHook of a derivation, the place where the store path
 * of the FHS tree surfaces.
 * @param drvPath the derivation store path
 * @return the shellHook and error if any
 */
func derivationShellHook(drvPath string) (string, error) {
	out, err := command("nix", "derivation", "show", drvPath)
	if err != nil {
		return "", fmt.Errorf("Unable to open derivation %s: %w", drvPath, err)
	}

	var drvs map[string]struct {
		Env struct {
			ShellHook string `json:"shellHook"`
		} `json:"env"`
	}
	if err := json.Unmarshal([]byte(out), &drvs); err != nil {
		return "", fmt.Errorf("Unable to parse derivation %s: %w", drvPath, err)
	}

	drv, ok := drvs[drvPath]
	if !ok || drv.Env.ShellHook == "" {
		return "", fmt.Errorf("Unable to parse derivation %s for a shellHook", drvPath)
	}
	return drv.Env.ShellHook, nil
}

/**
 * Extract the environment name from a shell-env derivation path.
 * @param drvPath the derivation store path
 * @return the environment name and error if any
 */
func environmentName(drvPath string) (string, error) {
	captures := shellEnvDrvPattern.FindStringSubmatch(drvPath)

	if captures == nil {
		return "", fmt.Errorf("Unable to parse %s for an environment name", drvPath)
	}
	return captures[2], nil
}

/**
 * Locate the FHS tree store path inside a shellHook.
 * @param name the environment name
 * @param hook the derivation shellHook
 * @return the FHS tree store path and error if any
 */
func fhsTreePath(name, hook string) (string, error) {
	pattern, err := regexp.Compile(`/nix/store/[0-9a-z]+-` + regexp.QuoteMeta(name) + `-fhs`)
	if err != nil {
		return "", err
	}

	path := pattern.FindString(hook)
	if path == "" {
		return "", fmt.Errorf("Expected %s to match the shellHook", pattern)
	}
	return path, nil
}

/**
 * Check that the top-level entries of a resolved tree, if present, lie
 * within the FHS set.
 * @param path the tree root
 * @return error if any
 */
func ValidateTree(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("reading FHS tree %s: %w", path, err)
	}

	for _, entry := range entries {
		if _, ok := allowedTopLevel[entry.Name()]; !ok {
			return fmt.Errorf("unexpected top-level entry %q in FHS tree %s", entry.Name(), path)
		}
	}
	return nil
}

/**
 * Resolve a recipe into a named, built FHS tree.
 * @param recipe the recipe file path
 * @return the resolved environment and error if any
 */
func resolveRecipe(recipe string) (*Environment, error) {
	drvPath, err := instantiate(recipe)
	if err != nil {
		return nil, err
	}

	name, err := environmentName(drvPath)
	if err != nil {
		return nil, err
	}

	hook, err := derivationShellHook(drvPath)
	if err != nil {
		return nil, err
	}

	fhs, err := fhsTreePath(name, hook)
	if err != nil {
		return nil, err
	}

	// Evaluation alone doesn't build anything; realise the derivation
	// when the tree isn't in the store yet.
	if _, err := os.Stat(fhs); errors.Is(err, os.ErrNotExist) {
		if _, err := command("nix-store", "--realise", drvPath); err != nil {
			return nil, fmt.Errorf("Unable to build %s: %w", drvPath, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", fhs, err)
	}

	return &Environment{Name: name, FhsPath: fhs}, nil
}

/**
 * Resolve a package list by synthesizing a transient recipe around it
 * and running the recipe pipeline.
 * @param spec the environment specification
 * @return the resolved environment and error if any
 */
func resolvePackages(spec *Spec) (*Environment, error) {
	recipe, err := os.CreateTemp("", "fhsbox-*.nix")
	if err != nil {
		return nil, fmt.Errorf("Couldn't create a transient recipe: %w", err)
	}
	defer func() {
		_ = os.Remove(recipe.Name())
	}()

	content := fmt.Sprintf(packagesRecipe, spec.Name, strings.Join(spec.Packages, " "))
	if _, err := recipe.WriteString(content); err != nil {
		_ = recipe.Close()
		return nil, fmt.Errorf("Couldn't write the transient recipe: %w", err)
	}
	if err := recipe.Close(); err != nil {
		return nil, err
	}

	return resolveRecipe(recipe.Name())
}

/**
 * Resolve an environment specification into a validated FHS tree,
 * going through the result cache unless bypassed.
 * @param spec the environment specification
 * @return the resolved environment and error if any
 */
func Resolve(spec *Spec) (*Environment, error) {
	key, err := specKey(spec)
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if !spec.NoCache {
		cache, err = OpenCache()
		if err != nil {
			// The cache is an accelerator, never a requirement.
			logger.Log.Warn("resolver cache unavailable", slog.Any("err", err))
		} else {
			defer func() {
				_ = cache.Close()
			}()
			if env, ok := cache.Lookup(key); ok {
				return env, nil
			}
		}
	}

	var env *Environment
	if len(spec.Packages) > 0 {
		env, err = resolvePackages(spec)
	} else {
		env, err = resolveRecipe(spec.Recipe)
	}
	if err != nil {
		return nil, err
	}

	if err := ValidateTree(env.FhsPath); err != nil {
		return nil, err
	}

	if cache != nil {
		if err := cache.Store(key, env); err != nil {
			logger.Log.Warn("resolver cache write failed", slog.Any("err", err))
		}
	}
	return env, nil
}
