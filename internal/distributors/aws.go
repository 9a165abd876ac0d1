package distributors

import (
	"github.com/systmms/keyrot/internal/awsclient"
	"github.com/systmms/keyrot/pkg/distributor"
)

// authDefault selects the ambient credential chain of a cloud SDK
const authDefault = "default"

// awsOptions maps a distributor's auth and options onto awsclient.Options.
// Auth is either "default" or a shared config profile name.
func awsOptions(cfg distributor.ServiceConfiguration) awsclient.Options {
	opts := awsclient.Options{
		Region:   cfg.Option("region", ""),
		Endpoint: cfg.Option("endpoint", ""),
	}
	if auth := cfg.Auth.Reveal(); auth != authDefault {
		opts.Profile = auth
	}
	return opts
}
