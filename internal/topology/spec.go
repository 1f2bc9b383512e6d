package topology

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// ClusterSpec describes a uniform cluster in YAML:
//
//	version: 1
//	layers:
//	  - {type: rack, count: 3}
//	  - {type: node, count: 4}
//	  - {type: target, count: 2}
//	status:
//	  5: down
type ClusterSpec struct {
	Version uint32            `yaml:"version"`
	Layers  []LayerSpec       `yaml:"layers"`
	Status  map[uint32]string `yaml:"status,omitempty"`
}

type LayerSpec struct {
	Type  string `yaml:"type"`
	Count uint32 `yaml:"count"`
}

// LoadClusterSpec decodes a YAML cluster description.
func LoadClusterSpec(r io.Reader) (ClusterSpec, error) {
	var spec ClusterSpec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return ClusterSpec{}, zerrors.InvalidArgumentError("cluster spec: %v", err)
	}
	if spec.Version == 0 {
		spec.Version = 1
	}
	return spec, nil
}

// ParseLayers reads the compact "r:3,n:4,t:2" form used on the command line.
func ParseLayers(s string) ([]LayerSpec, error) {
	var layers []LayerSpec
	for _, part := range strings.Split(s, ",") {
		typ, count, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, zerrors.InvalidArgumentError("layer %q: expected type:count", part)
		}
		n, err := strconv.ParseUint(count, 10, 32)
		if err != nil {
			return nil, zerrors.InvalidArgumentError("layer %q: %v", part, err)
		}
		layers = append(layers, LayerSpec{Type: typ, Count: uint32(n)})
	}
	return layers, nil
}

// Build produces the snapshot the description calls for.
func (c ClusterSpec) Build() (*Snapshot, error) {
	levels := make([]Level, 0, len(c.Layers))
	for _, l := range c.Layers {
		typ, err := ParseCompType(l.Type)
		if err != nil {
			return nil, err
		}
		levels = append(levels, Level{Type: typ, Count: l.Count})
	}
	version := c.Version
	if version == 0 {
		version = 1
	}
	snap, err := NewUniform(version, levels...)
	if err != nil {
		return nil, err
	}
	if len(c.Status) == 0 {
		return snap, nil
	}

	ids := make([]uint32, 0, len(c.Status))
	for id := range c.Status {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	targets := snap.Targets()
	for _, id := range ids {
		st, err := ParseStatus(c.Status[id])
		if err != nil {
			return nil, err
		}
		pos, ok := snap.TargetByID(id)
		if !ok {
			return nil, zerrors.InvalidArgumentError("status override for unknown target %d", id)
		}
		targets[pos].Status = st
		if st.Failed() {
			targets[pos].FailSeq = version
		}
	}
	domains := make([]Domain, len(snap.domains))
	copy(domains, snap.domains)
	return newSnapshot(version, domains, targets), nil
}

// Describe renders the tree one domain per line, the way the simulator
// prints a freshly created cluster.
func Describe(s *Snapshot) string {
	var sb strings.Builder
	var walk func(d int, indent string)
	walk = func(d int, indent string) {
		dom := s.Domain(d)
		start, count := s.TargetRange(d)
		fmt.Fprintf(&sb, "%s%s[%d] targets=%d up=%d\n", indent, dom.Type, dom.ID, count, s.StatusCount(d, StatusUp))
		if s.IsLeaf(d) {
			for p := start; p < start+count; p++ {
				t := s.Target(p)
				fmt.Fprintf(&sb, "%s  target[%d] rank=%d idx=%d %s fseq=%d\n", indent, t.ID, t.Rank, t.Index, t.Status, t.FailSeq)
			}
			return
		}
		cs, cn := s.Children(d)
		for c := cs; c < cs+cn; c++ {
			walk(c, indent+"  ")
		}
	}
	fmt.Fprintf(&sb, "%s\n", s)
	walk(s.Root(), "")
	return sb.String()
}
