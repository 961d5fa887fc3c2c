package interfaces

import "github.com/melodana/songforge/internal/models"

// Distributor is the contract every distribution service integration
// implements. Backends register themselves in the distributors package;
// orchestration code looks them up by slug and never references a concrete
// implementation.
type Distributor interface {
	// Name is the human-readable service name, e.g. "DistroKid"
	Name() string

	// Slug is the internal identifier stored on job records, e.g. "distrokid"
	Slug() string

	// RequiresSession reports whether this backend drives a logged-in browser
	RequiresSession() bool

	// GenreMap maps songforge genre names to the service's genre names
	GenreMap() map[string]string

	// MapGenre maps a songforge genre, falling back to the service default
	MapGenre(genre string) string

	// Validate checks a release job before upload. An empty result means
	// the release is valid; entries are user-facing error strings.
	Validate(job *models.Job) []string

	// ConfigKeys lists the key/value store entries this backend needs
	ConfigKeys() []string
}
