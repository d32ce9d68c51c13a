package descriptor

import "fmt"

// Profile is a predefined capability bundle supplied by the runtime.
type Profile uint8

const (
	ProfileInvalid Profile = iota
	// ProfileSwitch exposes a single on/off state.
	ProfileSwitch
	// ProfileLight exposes on/off state and brightness.
	ProfileLight
)

// Expose is one feature a profile makes visible to users.
type Expose struct {
	Name      string `json:"name"`
	Cluster   string `json:"cluster"`
	Attribute string `json:"attribute"`
	Access    string `json:"access"` // "r", "rw"
}

var profileNames = map[Profile]string{
	ProfileSwitch: "switch",
	ProfileLight:  "light",
}

var profileExposes = map[Profile][]Expose{
	ProfileSwitch: {
		{Name: "state", Cluster: "genOnOff", Attribute: "onOff", Access: "rw"},
	},
	ProfileLight: {
		{Name: "state", Cluster: "genOnOff", Attribute: "onOff", Access: "rw"},
		{Name: "brightness", Cluster: "genLevelCtrl", Attribute: "currentLevel", Access: "rw"},
	},
}

// ParseProfile resolves a profile by name.
func ParseProfile(name string) (Profile, error) {
	for p, n := range profileNames {
		if n == name {
			return p, nil
		}
	}
	return ProfileInvalid, fmt.Errorf("unknown capability profile %q", name)
}

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	_, ok := profileNames[p]
	return ok
}

func (p Profile) String() string {
	if n, ok := profileNames[p]; ok {
		return n
	}
	return fmt.Sprintf("profile(%d)", uint8(p))
}

// Exposes returns the features of the profile.
func (p Profile) Exposes() []Expose {
	src := profileExposes[p]
	out := make([]Expose, len(src))
	copy(out, src)
	return out
}

// Clusters returns the distinct cluster keys the profile uses, in expose order.
func (p Profile) Clusters() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range profileExposes[p] {
		if !seen[e.Cluster] {
			seen[e.Cluster] = true
			out = append(out, e.Cluster)
		}
	}
	return out
}
