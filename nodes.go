package goAuthTree

import (
	"errors"

	"github.com/MrEthical07/goAuthTree/journey"
	"github.com/MrEthical07/goAuthTree/nodes/collector"
	"github.com/MrEthical07/goAuthTree/nodes/cookie"
	"github.com/MrEthical07/goAuthTree/nodes/credentials"
	"github.com/MrEthical07/goAuthTree/nodes/device"
	"github.com/MrEthical07/goAuthTree/nodes/ldap"
	"github.com/MrEthical07/goAuthTree/nodes/retry"
	"github.com/MrEthical07/goAuthTree/nodes/suspend"
	"github.com/MrEthical07/goAuthTree/nodes/timeout"
	"github.com/MrEthical07/goAuthTree/tree"
)

// Node type names accepted in tree documents.
const (
	nodeTypeUsername       = "username"
	nodeTypePassword       = "password"
	nodeTypeLDAP           = "ldap"
	nodeTypeRetryLimit     = "retryLimit"
	nodeTypeRetryReset     = "retryReset"
	nodeTypeDeviceBinding  = "deviceBinding"
	nodeTypeDeviceSigning  = "deviceSigning"
	nodeTypeSetCookie      = "setPersistentCookie"
	nodeTypeCookieDecision = "persistentCookieDecision"
	nodeTypeCollector      = "attributeCollector"
	nodeTypeTimeout        = "timeout"
	nodeTypeEmailSuspend   = "emailSuspend"
)

var errMissingCollaborator = errors.New("node type requires a collaborator that was not configured")

// registerNodeTypes installs a factory for every bundled node. Types whose collaborator
// is missing are still registered and fail at tree load with a descriptive error.
func (e *Engine) registerNodeTypes(r *tree.Registry) {
	log := e.log

	r.Register(nodeTypeUsername, func(raw map[string]any) (journey.Node, error) {
		cfg := credentials.DefaultConfig()
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return credentials.NewUsernameNode(cfg), nil
	})
	r.Register(nodeTypePassword, func(raw map[string]any) (journey.Node, error) {
		cfg := credentials.DefaultConfig()
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return credentials.NewPasswordNode(cfg), nil
	})

	r.Register(nodeTypeLDAP, func(raw map[string]any) (journey.Node, error) {
		if e.directory == nil {
			return nil, errors.Join(errMissingCollaborator, errors.New("ldap: no directory"))
		}
		cfg := ldap.DefaultConfig()
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return ldap.New(cfg, e.directory, log)
	})

	r.Register(nodeTypeRetryLimit, func(raw map[string]any) (journey.Node, error) {
		var cfg retry.Config
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		counter, err := retry.SelectCounter(cfg.Durable, e.identities)
		if err != nil {
			return nil, err
		}
		return retry.NewDecisionNode(cfg, counter, log)
	})
	r.Register(nodeTypeRetryReset, func(raw map[string]any) (journey.Node, error) {
		var cfg retry.ResetConfig
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return retry.NewResetNode(cfg, nil)
	})

	r.Register(nodeTypeDeviceBinding, func(raw map[string]any) (journey.Node, error) {
		cfg := device.DefaultConfig()
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return device.NewBindingNode(cfg, e.identities, log)
	})
	r.Register(nodeTypeDeviceSigning, func(raw map[string]any) (journey.Node, error) {
		cfg := device.DefaultConfig()
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return device.NewSigningNode(cfg, e.identities, log)
	})

	r.Register(nodeTypeSetCookie, func(raw map[string]any) (journey.Node, error) {
		if e.cookies == nil {
			return nil, errors.Join(errMissingCollaborator, errors.New("persistent cookie: Cookie.Enabled is off"))
		}
		cfg := cookie.DefaultConfig()
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return cookie.NewSetNode(cfg, e.cookies)
	})
	r.Register(nodeTypeCookieDecision, func(raw map[string]any) (journey.Node, error) {
		if e.cookies == nil {
			return nil, errors.Join(errMissingCollaborator, errors.New("persistent cookie: Cookie.Enabled is off"))
		}
		cfg := cookie.DefaultConfig()
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return cookie.NewDecisionNode(cfg, e.cookies, log)
	})

	r.Register(nodeTypeCollector, func(raw map[string]any) (journey.Node, error) {
		var cfg collector.Config
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return collector.New(cfg, e.validator, log)
	})

	r.Register(nodeTypeTimeout, func(raw map[string]any) (journey.Node, error) {
		var cfg timeout.Config
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return timeout.New(cfg)
	})

	r.Register(nodeTypeEmailSuspend, func(raw map[string]any) (journey.Node, error) {
		if e.mailer == nil {
			return nil, errors.Join(errMissingCollaborator, errors.New("emailSuspend: no mailer"))
		}
		cfg := suspend.DefaultConfig()
		if err := tree.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return suspend.NewEmailNode(cfg, e.mailer, log)
	})
}
