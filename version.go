package transmute

// Version is the library version, overridable at build time with
// -ldflags "-X github.com/aretw0/transmute.Version=...".
var Version = "0.3.0"
