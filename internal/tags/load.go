package tags

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// Definitions maps a tag name to the item names it groups.
type Definitions map[string][]string

// LoadFile reads YAML tag definitions of the form
//
//	wool: [WHITE_WOOL, BLACK_WOOL]
//
// Paths ending in ".zst" are zstd compressed.
func LoadFile(path string) (Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: zstd: %w", filepath.Base(path), err)
		}
		defer dec.Close()
		r = dec
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", filepath.Base(path), err)
	}
	var defs Definitions
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return defs, nil
}

// ParseCatalog decodes the server's item_tags catalog payload.
func ParseCatalog(raw json.RawMessage) (Definitions, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var defs Definitions
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("item_tags: %w", err)
	}
	return defs, nil
}

// Merge returns the union of all definitions. Duplicate item names collapse.
func Merge(all ...Definitions) Definitions {
	seen := map[string]map[string]struct{}{}
	for _, d := range all {
		for tag, items := range d {
			set := seen[tag]
			if set == nil {
				set = map[string]struct{}{}
				seen[tag] = set
			}
			for _, it := range items {
				set[it] = struct{}{}
			}
		}
	}
	out := make(Definitions, len(seen))
	for tag, set := range seen {
		items := make([]string, 0, len(set))
		for it := range set {
			items = append(items, it)
		}
		sort.Strings(items)
		out[tag] = items
	}
	return out
}

// Resolve turns item names into ids. Names the lookup does not know are
// dropped; they cannot be held in this session anyway.
func (d Definitions) Resolve(lookup Lookup) map[string][]int {
	out := make(map[string][]int, len(d))
	for tag, items := range d {
		for _, name := range items {
			if id, ok := lookup(name); ok {
				out[tag] = append(out[tag], id)
			}
		}
	}
	return out
}
