package iso

import (
	"os"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/jmylchreest/encodarr/internal/models"
)

// vobPattern matches title set video objects, VTS_<set>_<part>.VOB. Part 0 is the menu.
var vobPattern = regexp.MustCompile(`(?i)^VTS_(\d{2})_([1-9])\.VOB$`)

// DetectLayout inspects a mounted disc at root. Blu-ray discs yield their largest
// stream file. DVDs yield the video objects of the largest title set, in order.
func DetectLayout(fs billy.Filesystem, root string) (models.IsoType, []string) {
	if entries, err := fs.ReadDir(path.Join(root, "BDMV", "STREAM")); err == nil {
		var best os.FileInfo
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".m2ts") {
				continue
			}
			if best == nil || e.Size() > best.Size() {
				best = e
			}
		}
		var files []string
		if best != nil {
			files = []string{path.Join("BDMV", "STREAM", best.Name())}
		}
		return models.IsoTypeBluRay, files
	}

	if entries, err := fs.ReadDir(path.Join(root, "VIDEO_TS")); err == nil {
		sets := map[string][]os.FileInfo{}
		sizes := map[string]int64{}
		for _, e := range entries {
			m := vobPattern.FindStringSubmatch(e.Name())
			if m == nil || e.IsDir() {
				continue
			}
			sets[m[1]] = append(sets[m[1]], e)
			sizes[m[1]] += e.Size()
		}

		var main string
		for set, size := range sizes {
			if main == "" || size > sizes[main] || (size == sizes[main] && set < main) {
				main = set
			}
		}

		var files []string
		for _, e := range sets[main] {
			files = append(files, path.Join("VIDEO_TS", e.Name()))
		}
		slices.Sort(files)
		return models.IsoTypeDvd, files
	}

	return "", nil
}
