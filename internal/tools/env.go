package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"muckrake/internal/errdefs"
)

var proxyVars = []string{"ALL_PROXY", "HTTPS_PROXY", "HTTP_PROXY"}

// EnvValue distinguishes "set to value" from "remove from environment".
type EnvValue struct {
	Value  string
	Remove bool
}

// BuildToolEnv computes the environment applied to a spawned tool: the
// proxy is exported by default, then JSON overrides from the tool config
// are layered on top. A null JSON value removes the variable. Unless the
// tool is marked quiet, a privacy notice goes to stderr on every call;
// its wording changes when the proxy ends up removed or redirected.
func BuildToolEnv(envOverrides, commandName, proxy string, quiet bool) (map[string]EnvValue, error) {
	env := make(map[string]EnvValue)
	for _, v := range proxyVars {
		env[v] = EnvValue{Value: proxy}
	}

	privacyRemoved := false
	if envOverrides != "" {
		var overrides map[string]*string
		if err := json.Unmarshal([]byte(envOverrides), &overrides); err != nil {
			return nil, errdefs.InvalidReference("invalid env JSON: %v", err)
		}
		for key, value := range overrides {
			if value == nil {
				env[key] = EnvValue{Remove: true}
				if isProxyVar(key) {
					privacyRemoved = true
				}
				continue
			}
			if isProxyVar(key) && *value != proxy {
				privacyRemoved = true
			}
			env[key] = EnvValue{Value: *value}
		}
	}

	if !quiet {
		printPrivacyNotice(commandName, proxy, privacyRemoved)
	}
	return env, nil
}

func isProxyVar(key string) bool {
	upper := strings.ToUpper(key)
	for _, v := range proxyVars {
		if upper == v {
			return true
		}
	}
	return false
}

func printPrivacyNotice(commandName, proxy string, privacyRemoved bool) {
	if privacyRemoved {
		fmt.Fprintf(os.Stderr, "! Running %q without privacy protections (by request)\n", commandName)
	} else {
		fmt.Fprintf(os.Stderr, "Running %q with proxy environment (%s)\n", commandName, proxy)
	}
	fmt.Fprintf(os.Stderr, "mkrk cannot guarantee that %q respects proxy settings.\n", commandName)
	fmt.Fprintln(os.Stderr, "Verify this tool does not leak identifying information.")
}

const privacyPhrase = "I understand the risk"

// ConfirmPrivacyRemoval requires an explicit typed acknowledgment before
// accepting a tool config whose env overrides strip the proxy.
func ConfirmPrivacyRemoval(commandName, envJSON string) error {
	var overrides map[string]*string
	if err := json.Unmarshal([]byte(envJSON), &overrides); err != nil {
		return errdefs.InvalidReference("invalid env JSON: %v", err)
	}

	removesProxy := false
	for key, value := range overrides {
		if isProxyVar(key) && value == nil {
			removesProxy = true
			break
		}
	}
	if !removesProxy {
		return nil
	}

	fmt.Fprintf(os.Stderr, "! This configuration removes proxy environment variables for %q.\n", commandName)
	fmt.Fprintln(os.Stderr, "  The tool will run WITHOUT Tor or any proxy, exposing your IP address.")
	fmt.Fprintf(os.Stderr, "\n  Type %q to continue: ", privacyPhrase)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil || strings.TrimSpace(line) != privacyPhrase {
		return errdefs.InvalidReference("privacy removal not confirmed")
	}
	return nil
}
