package sorter

import "github.com/Delinquent-Codex/mineflayer/internal/world"

// Metadata slots that can carry a marker's displayed item. Newer servers
// use DisplaySlot; LegacyDisplaySlot is checked when it is empty.
const (
	DisplaySlot       = 8
	LegacyDisplaySlot = 7
)

var (
	MarkerKinds    = []string{"ITEM_FRAME", "GLOW_ITEM_FRAME"}
	ContainerKinds = []string{"CHEST", "TRAPPED_CHEST"}
)

// TagSource lists the category tags of an item, most preferred first.
type TagSource interface {
	TagsOf(name string) []string
}

// Scanner turns markers near the character into target tables.
type Scanner struct {
	SortRadius   int
	SearchRadius int
	Tags         TagSource

	markers    map[string]bool
	containers map[string]bool
}

func NewScanner(sortRadius, searchRadius int, tags TagSource) *Scanner {
	s := &Scanner{
		SortRadius:   sortRadius,
		SearchRadius: searchRadius,
		Tags:         tags,
		markers:      map[string]bool{},
		containers:   map[string]bool{},
	}
	for _, k := range MarkerKinds {
		s.markers[k] = true
	}
	for _, k := range ContainerKinds {
		s.containers[k] = true
	}
	return s
}

func (s *Scanner) IsContainer(blockName string) bool { return s.containers[blockName] }

// DisplayedItem reads the marker's item from DisplaySlot, then LegacyDisplaySlot.
func DisplayedItem(e world.Entity) (string, bool) {
	for _, slot := range []int{DisplaySlot, LegacyDisplaySlot} {
		if it := e.Metadata[slot]; it != nil && it.Name != "" {
			return it.Name, true
		}
	}
	return "", false
}

// Scan builds fresh exact and category tables from the current world state.
func (s *Scanner) Scan(w world.World) (exact, categories Table) {
	exact = Table{}
	categories = Table{}
	self := w.Position()

	for _, e := range w.Entities() {
		if !s.markers[e.Kind] {
			continue
		}
		if e.Pos.DistanceTo(self) > float64(s.SortRadius) {
			continue
		}
		item, ok := DisplayedItem(e)
		if !ok {
			continue
		}
		chests := s.containersNear(w, e.Pos.Floored())
		if len(chests) == 0 {
			continue
		}
		exact.add(item, chests)
		if s.Tags == nil {
			continue
		}
		for _, tag := range s.Tags.TagsOf(item) {
			categories.add(tag, chests)
		}
	}
	return exact, categories
}

func (s *Scanner) containersNear(w world.World, base world.BlockPos) []world.BlockPos {
	r := s.SearchRadius
	var found []world.BlockPos
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				p := base.Offset(dx, dy, dz)
				if b, ok := w.BlockAt(p); ok && s.containers[b.Name] {
					found = append(found, p)
				}
			}
		}
	}
	return found
}
