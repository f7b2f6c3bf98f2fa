package artwork

import (
	"path/filepath"
	"strings"

	"github.com/xxxsen/romscraper/internal/launchbox"
)

// Role is the slot an image fills in the catalog entry.
type Role string

const (
	RoleImage     Role = "image"
	RoleMarquee   Role = "marquee"
	RoleThumbnail Role = "thumbnail"
)

// ImageDir is the folder, relative to the platform folder, holding artwork.
const ImageDir = "images"

// RoleSpec binds a role to the LaunchBox image type that feeds it.
type RoleSpec struct {
	Role  Role
	Label string
	// FallbackContains, when set, accepts any image type containing this
	// substring if no image carries Label.
	FallbackContains string
}

// DefaultRoles is the LaunchBox mapping used by the scraper.
var DefaultRoles = []RoleSpec{
	{Role: RoleImage, Label: "Screenshot - Gameplay", FallbackContains: "Screenshot"},
	{Role: RoleMarquee, Label: "Clear Logo"},
	{Role: RoleThumbnail, Label: "Box - Front"},
}

// RelativePath is the catalog reference for a role, e.g.
// ./images/Super Mario World (USA)-marquee.png.
func RelativePath(stem string, role Role) string {
	return "./" + ImageDir + "/" + FileName(stem, role)
}

// FileName is the artwork file name for a role.
func FileName(stem string, role Role) string {
	return stem + "-" + string(role) + ".png"
}

// DestPath is the on-disk location for a role inside a platform folder.
func DestPath(platformDir, stem string, role Role) string {
	return filepath.Join(platformDir, ImageDir, FileName(stem, role))
}

// Asset is the image chosen for a role.
type Asset struct {
	Role        Role
	AssetID     string
	Type        string
	Substituted bool
}

// Resolution lists the assets found for a game and the roles left empty.
type Resolution struct {
	Assets  []Asset
	Missing []Role
}

// ImageIndex looks up the images of a game.
type ImageIndex interface {
	Images(databaseID string) []launchbox.GameImage
}

// Resolver picks one LaunchBox image per role.
type Resolver struct {
	index ImageIndex
	roles []RoleSpec
}

// NewResolver builds a resolver over index. A nil roles slice uses
// DefaultRoles.
func NewResolver(index ImageIndex, roles []RoleSpec) *Resolver {
	if roles == nil {
		roles = DefaultRoles
	}
	return &Resolver{index: index, roles: roles}
}

// Resolve returns the asset for every role that has one.
func (r *Resolver) Resolve(game launchbox.Game) Resolution {
	var res Resolution
	images := r.index.Images(strings.TrimSpace(game.DatabaseID))
	for _, spec := range r.roles {
		asset, ok := pick(images, spec)
		if !ok {
			res.Missing = append(res.Missing, spec.Role)
			continue
		}
		res.Assets = append(res.Assets, asset)
	}
	return res
}

func pick(images []launchbox.GameImage, spec RoleSpec) (Asset, bool) {
	for _, img := range images {
		if img.Type == spec.Label && img.FileName != "" {
			return Asset{Role: spec.Role, AssetID: img.FileName, Type: img.Type}, true
		}
	}
	if spec.FallbackContains == "" {
		return Asset{}, false
	}
	for _, img := range images {
		if strings.Contains(img.Type, spec.FallbackContains) && img.FileName != "" {
			return Asset{Role: spec.Role, AssetID: img.FileName, Type: img.Type, Substituted: true}, true
		}
	}
	return Asset{}, false
}
