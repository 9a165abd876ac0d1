// Package fakes provides test doubles for keyrot's SDK client interfaces.
//
// Fakes are written by hand, not generated, so a test controls exactly
// which calls succeed, which fail, and what state the backend is left in.
//
// Usage:
//
//	iamFake := fakes.NewFakeIAMClient()
//	iamFake.AddKey("ci-deployer", "AKIA1", time.Now(), "Active")
//	store := keystore.NewIAMStore(iamFake, logger)
package fakes
