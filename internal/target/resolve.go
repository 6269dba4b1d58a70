package target

import (
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/promptforge/internal/model"
)

// URLPolicy governs which base URLs a network-backed target may point at.
// All three knobs default to false: production targets must be reachable
// over public HTTPS unless the deployment explicitly loosens the policy
// (ALLOW_HTTP_BASE_URL, ALLOW_LOCALHOST_BASE_URL,
// ALLOW_PRIVATE_NETWORK_BASE_URL).
type URLPolicy struct {
	AllowHTTP           bool
	AllowLocalhost      bool
	AllowPrivateNetwork bool
}

var (
	policyMu sync.RWMutex
	policy   URLPolicy
)

// SetURLPolicy installs the process-wide policy. Called once at startup;
// tests may call it again to exercise both sides of each knob.
func SetURLPolicy(p URLPolicy) {
	policyMu.Lock()
	defer policyMu.Unlock()
	policy = p
}

func currentPolicy() URLPolicy {
	policyMu.RLock()
	defer policyMu.RUnlock()
	return policy
}

// validateBaseURL enforces the URLPolicy for HTTP-backed targets.
func validateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return model.NewError(model.KindValidation, "malformed base URL")
	}

	p := currentPolicy()

	switch parsed.Scheme {
	case "https":
	case "http":
		if !p.AllowHTTP {
			return model.NewError(model.KindValidation, "plain http base URL not allowed")
		}
	default:
		return model.NewError(model.KindValidation, "invalid base URL scheme %q: only http and https allowed", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return model.NewError(model.KindValidation, "base URL has no host")
	}

	if isLocalhost(host) {
		if !p.AllowLocalhost {
			return model.NewError(model.KindValidation, "localhost base URL not allowed")
		}
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()) {
		if !p.AllowPrivateNetwork {
			return model.NewError(model.KindValidation, "private-network base URL not allowed")
		}
	}
	return nil
}

func isLocalhost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Resolve builds the Client for a task's execution target. timeout bounds
// every individual Generate call the returned client makes.
func Resolve(cfg model.TargetConfig, creds Credentials, timeout time.Duration) (Client, error) {
	switch cfg.Kind {
	case model.TargetDify:
		if creds.BaseURL == "" {
			return nil, model.NewError(model.KindValidation, "dify target requires a base URL")
		}
		if err := validateBaseURL(creds.BaseURL); err != nil {
			return nil, err
		}
		return newDifyClient(creds, cfg.ResolveDifyPromptVariable(), timeout), nil
	case model.TargetGeneric:
		if creds.BaseURL == "" {
			return nil, model.NewError(model.KindValidation, "generic target requires a service address")
		}
		return newGenericClient(creds.BaseURL, cfg.ResolveGenericModelName(), timeout)
	case model.TargetExample:
		return &ExampleClient{}, nil
	default:
		return nil, model.NewError(model.KindValidation, "unknown execution target kind %q", cfg.Kind)
	}
}
