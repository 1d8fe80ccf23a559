package native

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// memoryMap parses /proc/pid/maps into the target's current mapping set.
func (t *Target) memoryMap() ([]mapEntry, error) {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", t.pid))
	if err != nil {
		return nil, err
	}
	return parseProcMaps(string(buf))
}

func parseProcMaps(data string) ([]mapEntry, error) {
	lines := strings.Split(data, "\n")
	r := make([]mapEntry, 0, len(lines))
	for i, line := range lines {
		if line == "" {
			continue
		}
		entry, err := parseMapsLine(i+1, line)
		if err != nil {
			return nil, err
		}
		r = append(r, entry)
	}
	return r, nil
}

func parseMapsLine(lineno int, in string) (mapEntry, error) {
	var entry mapEntry
	fields := strings.SplitN(in, " ", 6)
	if len(fields) < 5 {
		return entry, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
	}

	v := strings.Split(fields[0], "-")
	if len(v) != 2 {
		return entry, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
	}
	var err error
	entry.start, err = strconv.ParseUint(v[0], 16, 64)
	if err != nil {
		return entry, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad start address)", lineno, in)
	}
	entry.end, err = strconv.ParseUint(v[1], 16, 64)
	if err != nil {
		return entry, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad end address)", lineno, in)
	}

	perm := fields[1]
	if len(perm) < 4 {
		return entry, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad permissions)", lineno, in)
	}
	entry.read = perm[0] == 'r'
	entry.write = perm[1] == 'w'
	entry.exec = perm[2] == 'x'
	entry.private = perm[3] == 'p'

	entry.offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return entry, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad offset)", lineno, in)
	}
	entry.dev = fields[3]
	if len(fields) == 6 {
		entry.filename = strings.TrimLeft(fields[5], " ")
	}
	return entry, nil
}
