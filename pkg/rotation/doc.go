// Package rotation decides and performs one rotation step for a principal.
//
// Each call to Engine.Rotate inspects the principal's current access keys
// and performs exactly one action:
//
//	keys  older key   action
//	0-1   -           create a key, wait for it to list, wait the grace
//	                  period, push it to every distributor
//	2     Active      mark the older key Inactive
//	2     Inactive    delete the older key
//	>2    -           abort with an InvariantError
//
// Repeated at a fixed interval this cycles create, invalidate, delete, so
// consumers see at most one interval of overlap between old and new keys.
// No state is kept between calls; the store is the only source of truth.
package rotation
