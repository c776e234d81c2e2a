// Package fetchoci implements the OCI source kind (SPEC_FULL §B.9): a
// recipe or asset fetched from a container registry by reference
// rather than a plain URL. No example repo fetches from OCI registries
// directly, so this package is built straight from the teacher's
// go.mod + pack entries: github.com/distribution/reference validates
// the reference string and oras.land/oras-go/v2 performs the registry
// pull into a local OCI layout. Pull returns the resolved manifest
// digest as reported by the registry; it does not verify it.
package fetchoci
