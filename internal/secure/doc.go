// Package secure holds freshly minted key secrets in memguard enclaves.
//
// A secret returned by the credential store exists in plaintext only while a
// distributor is pushing it. Between creation and distribution (the
// consistency wait and the grace period) it is sealed:
//
//	box, err := secure.Seal(newKey.Secret)
//	if err != nil {
//	    return err
//	}
//	defer box.Destroy()
//
//	err = box.Use(func(secret logging.Secret) error {
//	    return fanout.Push(ctx, keyID, secret)
//	})
//
// Call memguard.Purge at process exit to wipe any remaining enclave keys.
//
// Memory locking depends on RLIMIT_MEMLOCK on Linux. When mlock is
// unavailable memguard falls back to ordinary memory.
package secure
