// Package distributor defines how a newly created access key reaches the
// systems that consume it.
//
// A Distributor is polymorphic over the target system (a CI provider, a
// secret store, a cluster). The rotation engine depends only on this
// package and never on a concrete target, so adding a target means adding
// an implementation and registering it, nothing else.
//
// # Contract
//
// ValidateConfiguration is called once, before a distributor is used. It
// must reject a configuration without an authentication credential or
// without at least one Project. A failed validation prevents construction
// of the rotation job.
//
// PushNewCredentials resolves, for every Project, the two named locations at
// the target (one for the key id, one for the secret) and overwrites them.
// A location that does not exist is not created: the push fails with a
// *LocationNotFoundError. The key id may be stored publicly readable; the
// secret must not be. Pushing the same pair twice is harmless.
//
// # Fan-out
//
// A principal usually feeds several targets. Fanout pushes to each in
// order and keeps going after a failure, returning every failure joined.
//
//	fanout := distributor.NewFanout(logger,
//	    distributor.Target{Distributor: travis, Config: travisCfg},
//	    distributor.Target{Distributor: gh, Config: ghCfg},
//	)
//	if err := fanout.Push(ctx, keyID, secret); err != nil {
//	    // one or more targets still hold the previous key
//	}
//
// # Security Considerations
//
// The secret travels as logging.Secret, which formats as [REDACTED].
// Implementations call Reveal only when building the outbound request and
// never log request bodies.
package distributor
