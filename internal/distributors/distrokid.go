package distributors

import (
	"fmt"
	"os"

	"github.com/melodana/songforge/internal/interfaces"
	"github.com/melodana/songforge/internal/models"
)

// distroKidGenres maps songforge genre names to the closest genre DistroKid
// accepts on its upload form
var distroKidGenres = map[string]string{
	"Pop":                 "Pop",
	"Hip-Hop":             "Hip-Hop/Rap",
	"Rock":                "Rock",
	"Country":             "Country",
	"Latin / Reggaeton":   "Latin",
	"EDM / Dance":         "Dance",
	"R&B / Soul":          "R&B/Soul",
	"Indie Pop":           "Pop",
	"Afrobeats":           "Worldwide",
	"K-Pop":               "K-Pop",
	"Folk / Americana":    "Singer/Songwriter",
	"Lo-Fi Hip-Hop":       "Hip-Hop/Rap",
	"Funk":                "Funk",
	"Country Rock":        "Country",
	"Electropop":          "Electronic",
	"Reggae":              "Reggae",
	"Melodic Rap":         "Hip-Hop/Rap",
	"Tech House":          "Dance",
	"Pop R&B":             "R&B/Soul",
	"Alt-Rock":            "Alternative",
	"Indie Pop-Rock":      "Alternative",
	"Country Spoken Word": "Country",
	"Comedy Hip-Hop":      "Hip-Hop/Rap",
}

// DistroKid drives releases through distrokid.com
type DistroKid struct{}

func init() {
	Register(&DistroKid{})
}

func (d *DistroKid) Name() string { return "DistroKid" }

func (d *DistroKid) Slug() string { return "distrokid" }

func (d *DistroKid) RequiresSession() bool { return true }

func (d *DistroKid) GenreMap() map[string]string {
	out := make(map[string]string, len(distroKidGenres))
	for k, v := range distroKidGenres {
		out[k] = v
	}
	return out
}

func (d *DistroKid) MapGenre(genre string) string {
	if mapped, ok := distroKidGenres[genre]; ok {
		return mapped
	}
	return "Pop"
}

func (d *DistroKid) Validate(job *models.Job) []string {
	var errs []string
	if job.Payload["songwriter"] == "" {
		errs = append(errs, "Songwriter legal name is required")
	}
	if job.Payload["song_id"] == "" {
		errs = append(errs, "A song must be selected")
	}
	if cover := job.Payload["cover_art_path"]; cover != "" {
		if info, err := os.Stat(cover); err != nil || info.IsDir() {
			errs = append(errs, fmt.Sprintf("Cover art file not found: %s", cover))
		}
	}
	return errs
}

func (d *DistroKid) ConfigKeys() []string {
	return []string{"dk_email", "dk_password", "dk_artist", "dk_songwriter"}
}

var _ interfaces.Distributor = (*DistroKid)(nil)
