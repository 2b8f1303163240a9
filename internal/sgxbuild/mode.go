package sgxbuild

import "fmt"

// Mode selects the enclave runtime backend and optimization level.
type Mode struct {
	Hardware bool `json:"hardware"`
	Debug    bool `json:"debug"`
}

// ModeTable maps profile names to an explicit Mode.
type ModeTable map[string]Mode

var builtinModes = map[string]Mode{
	"dev":     {Hardware: false, Debug: true},
	"release": {Hardware: true, Debug: false},
	"test":    {Hardware: false, Debug: true},
	"bench":   {Hardware: true, Debug: false},
}

// NormalizeProfile maps the "debug" profile onto "dev".
func NormalizeProfile(profile string) string {
	if profile == "debug" {
		return "dev"
	}
	return profile
}

// ResolveMode looks the profile up in table first, then in the builtin defaults.
func ResolveMode(profile string, table ModeTable) (Mode, error) {
	profile = NormalizeProfile(profile)
	if m, ok := table[profile]; ok {
		return m, nil
	}
	if m, ok := builtinModes[profile]; ok {
		return m, nil
	}
	return Mode{}, fmt.Errorf("%w: %q has no mode entry and no default", ErrUnknownProfile, profile)
}

// SGXMode is the SGX_MODE value passed to the SDK makefiles.
func (m Mode) SGXMode() string {
	if m.Hardware {
		return "HW"
	}
	return "SIM"
}

// SGXDebug is the SGX_DEBUG value passed to the SDK makefiles.
func (m Mode) SGXDebug() string {
	if m.Debug {
		return "1"
	}
	return "0"
}

func (m Mode) String() string {
	return fmt.Sprintf("hardware=%t debug=%t", m.Hardware, m.Debug)
}
