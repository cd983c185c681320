package gnss

// ModuleType identifies the generation of u-blox receiver a session
// talks to.
type ModuleType int

// The supported module types.
const (
	ModuleTypeM8 ModuleType = iota
	ModuleTypeM9
	ModuleTypeM10
)

// Feature is a per-module capability that changes driver behavior.
type Feature int

// The capability flags.
const (
	// FeatureCfgValXXX marks modules that support the CFG-VALSET/VALGET
	// configuration interface (M9 and later).
	FeatureCfgValXXX Feature = iota
)

// Module holds the static characteristics of one receiver generation.
// One instance per type is shared read-only by every session using it.
type Module struct {
	Type     ModuleType
	features uint32
}

// Has reports whether the module supports the feature.
func (m *Module) Has(f Feature) bool {
	return m != nil && m.features&(1<<uint(f)) != 0
}

var modules = map[ModuleType]*Module{
	ModuleTypeM8:  {Type: ModuleTypeM8},
	ModuleTypeM9:  {Type: ModuleTypeM9, features: 1 << uint(FeatureCfgValXXX)},
	ModuleTypeM10: {Type: ModuleTypeM10, features: 1 << uint(FeatureCfgValXXX)},
}

// moduleForType resolves the static module descriptor, or nil if the
// type is unknown.
func moduleForType(t ModuleType) *Module {
	return modules[t]
}
