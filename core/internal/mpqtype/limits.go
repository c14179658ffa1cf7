package mpqtype

// MaxTableEntries caps the hash and block entry counts accepted from an
// archive, so a damaged header cannot request an arbitrary allocation.
const MaxTableEntries = 1 << 20
