package runtime

import "sync"

// MethodInfo is the registered metadata for one method, keyed by MethodRef
// in InMemory's tables.
type MethodInfo struct {
	CodeSize      int
	ArgsCount     int
	RegistersCount int
	Final         bool
	External      bool
	Abstract      bool
	CanBeInlined  bool
	IntrinsicID   int
}

// InMemory is a concurrency-safe, map-backed default runtime.Interface used
// by tests and cmd/iropt to exercise Inlining without a real VM attached
// (spec §6 places the real runtime interface out of scope).
type InMemory struct {
	mu sync.RWMutex

	methods map[MethodRef]MethodInfo
	classes map[string]bool // class name -> final

	virtualTables   map[string]map[MethodRef]MethodRef // class -> (declared method -> override)
	interfaceTables map[string]map[MethodRef]MethodRef

	ics map[icKey]ICEntry

	cha     map[MethodRef]MethodRef // method -> sole implementing method, if single-impl
	depends map[MethodRef][]MethodRef
}

type icKey struct {
	m  MethodRef
	pc int
}

func NewInMemory() *InMemory {
	return &InMemory{
		methods:         map[MethodRef]MethodInfo{},
		classes:         map[string]bool{},
		virtualTables:   map[string]map[MethodRef]MethodRef{},
		interfaceTables: map[string]map[MethodRef]MethodRef{},
		ics:             map[icKey]ICEntry{},
		cha:             map[MethodRef]MethodRef{},
		depends:         map[MethodRef][]MethodRef{},
	}
}

func (rt *InMemory) RegisterMethod(m MethodRef, info MethodInfo) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.methods[m] = info
}

func (rt *InMemory) RegisterClass(klass string, final bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.classes[klass] = final
}

func (rt *InMemory) RegisterVirtualOverride(klass string, declared, override MethodRef) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	tbl, ok := rt.virtualTables[klass]
	if !ok {
		tbl = map[MethodRef]MethodRef{}
		rt.virtualTables[klass] = tbl
	}
	tbl[declared] = override
}

func (rt *InMemory) RegisterInterfaceOverride(klass string, declared, override MethodRef) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	tbl, ok := rt.interfaceTables[klass]
	if !ok {
		tbl = map[MethodRef]MethodRef{}
		rt.interfaceTables[klass] = tbl
	}
	tbl[declared] = override
}

func (rt *InMemory) RegisterInlineCache(m MethodRef, pc int, entry ICEntry) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.ics[icKey{m, pc}] = entry
}

func (rt *InMemory) RegisterSingleImplementation(declared, impl MethodRef) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cha[declared] = impl
}

func (rt *InMemory) ResolveVirtual(klass string, m MethodRef) (MethodRef, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	tbl, ok := rt.virtualTables[klass]
	if !ok {
		return MethodRef{}, false
	}
	resolved, ok := tbl[m]
	return resolved, ok
}

func (rt *InMemory) ResolveInterface(klass string, m MethodRef) (MethodRef, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	tbl, ok := rt.interfaceTables[klass]
	if !ok {
		return MethodRef{}, false
	}
	resolved, ok := tbl[m]
	return resolved, ok
}

func (rt *InMemory) MethodCodeSize(m MethodRef) int      { return rt.info(m).CodeSize }
func (rt *InMemory) MethodArgsCount(m MethodRef) int      { return rt.info(m).ArgsCount }
func (rt *InMemory) MethodRegistersCount(m MethodRef) int { return rt.info(m).RegistersCount }
func (rt *InMemory) MethodIsFinal(m MethodRef) bool       { return rt.info(m).Final }
func (rt *InMemory) IsMethodExternal(m MethodRef) bool    { return rt.info(m).External }
func (rt *InMemory) IsMethodAbstract(m MethodRef) bool    { return rt.info(m).Abstract }
func (rt *InMemory) IsMethodCanBeInlined(m MethodRef) bool { return rt.info(m).CanBeInlined }
func (rt *InMemory) GetIntrinsicID(m MethodRef) int       { return rt.info(m).IntrinsicID }

func (rt *InMemory) ClassIsFinal(klass string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.classes[klass]
}

func (rt *InMemory) InlineCacheClasses(m MethodRef, pc int) ICEntry {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	entry, ok := rt.ics[icKey{m, pc}]
	if !ok {
		return ICEntry{Kind: ICUnknown}
	}
	return entry
}

func (rt *InMemory) CHAIsSingleImplementation(m MethodRef) (MethodRef, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	impl, ok := rt.cha[m]
	return impl, ok
}

func (rt *InMemory) CHAAddDependency(m MethodRef, caller MethodRef) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.depends[m] = append(rt.depends[m], caller)
}

// Dependents returns the callers CHAAddDependency recorded for m, for
// tests asserting a dependency was registered when single-impl devirtualization
// fires.
func (rt *InMemory) Dependents(m MethodRef) []MethodRef {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return append([]MethodRef(nil), rt.depends[m]...)
}

func (rt *InMemory) info(m MethodRef) MethodInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.methods[m]
}

var _ Interface = (*InMemory)(nil)
