package types

// Version is the canonical project version.
// All stage hosts report this version; deployments are expected to run
// every stage of a pipeline at the same version.
const Version = "0.3.0"
