package domain

// LookupArtifacts carries the binary outputs of a successful document lookup.
// The PDF is required; the XML companion is optional and its absence is not a
// failure.
type LookupArtifacts struct {
	PDF         []byte
	PDFFilename string
	XML         []byte
	XMLFilename string
}

// LookupResult is the terminal outcome of an orchestrated lookup, including
// how many attempts were spent. NotYetAvailable distinguishes "document not in
// the upstream system yet" from generic failure so the caller can pick the
// right user-facing message.
type LookupResult struct {
	Succeeded       bool
	Artifacts       *LookupArtifacts
	Attempts        int
	LastError       string
	NotYetAvailable bool
}
