package igfs

import "strconv"

// MultiMap is the consuming half of the firmware manifest interface. Parsing
// lxos.inf/osiv.inf, an INI dialect with duplicate [PART] sections, belongs
// to an external collaborator; the core only reads the result.
type MultiMap interface {
	// Sections returns the section names in file order, duplicates
	// disambiguated by the parser.
	Sections() []string

	// Get returns the value for key within a section.
	Get(section, key string) (string, bool)
}

// PartitionNameFromConfig looks up the display name of a partition minor in
// a parsed firmware manifest: the PART section whose number matches wins.
func PartitionNameFromConfig(cfg MultiMap, minor uint32) (string, bool) {
	if cfg == nil {
		return "", false
	}
	want := strconv.FormatUint(uint64(minor), 10)
	for _, section := range cfg.Sections() {
		number, ok := cfg.Get(section, "number")
		if !ok || number != want {
			continue
		}
		if name, ok := cfg.Get(section, "name"); ok {
			return name, true
		}
	}
	return "", false
}
