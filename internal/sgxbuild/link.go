package sgxbuild

// Untrusted runtime libraries, one per execution backend.
const (
	RuntimeHardware   = "sgx_urts"
	RuntimeSimulation = "sgx_urts_sim"
	RuntimeHyper      = "sgx_urts_hyper"
)

// RuntimeLibrary picks the runtime for the SGX_MODE string the build
// environment reported. Unknown values link the hardware runtime.
func RuntimeLibrary(sgxMode string) string {
	switch sgxMode {
	case "SIM", "SW":
		return RuntimeSimulation
	case "HYPER":
		return RuntimeHyper
	default:
		return RuntimeHardware
	}
}

// LinkPlan is what the host must link for the untrusted side.
type LinkPlan struct {
	StubDir    string
	StubLib    string
	RuntimeDir string
	RuntimeLib string
}

// Emit writes the plan as directives: stub search path and archive first,
// then the SDK runtime.
func (p LinkPlan) Emit(d *Directives) {
	d.LinkSearch(LinkNative, p.StubDir)
	d.LinkLib(LinkStatic, p.StubLib)
	d.LinkSearch(LinkNative, p.RuntimeDir)
	d.LinkLib(LinkDylib, p.RuntimeLib)
}
