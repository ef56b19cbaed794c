package kernel

import (
	"slices"
	"sync"

	"github.com/wnxd/microdbg-windows/errors"
	"go.uber.org/zap"
)

// Resolver maps routine names to guest addresses the way MmGetSystemRoutineAddress
// sees them.
type Resolver struct {
	loader Loader
	images []string
	allow  []string

	mu           sync.Mutex
	synthesized  map[string]uint64
	onSynthesize func(addr uint64, name string)
}

// NewResolver copies images and allow; later changes to the slices are not seen.
func NewResolver(loader Loader, images, allow []string) *Resolver {
	return &Resolver{
		loader:      loader,
		images:      slices.Clone(images),
		allow:       slices.Clone(allow),
		synthesized: make(map[string]uint64),
	}
}

// Resolve searches the import tables of the kernel images in order, then synthesizes
// an address for allow-listed names. It returns 0 when name is unknown.
func (r *Resolver) Resolve(name string) uint64 {
	if r.loader == nil {
		return emunullptr
	}
	for _, image := range r.images {
		if addr, ok := r.loader.ImportAddress(image, name); ok {
			return addr
		}
	}
	index := slices.Index(r.allow, name)
	if index < 0 {
		return emunullptr
	}

	r.mu.Lock()
	if addr, ok := r.synthesized[name]; ok {
		r.mu.Unlock()
		return addr
	}
	base, ok := r.imageBase()
	if !ok {
		r.mu.Unlock()
		Logger().Warn("no kernel image loaded", zap.String("routine", name))
		return emunullptr
	}
	addr := base + uint64(index) + 1
	r.synthesized[name] = addr
	r.loader.RegisterSymbol(addr, name)
	hook := r.onSynthesize
	r.mu.Unlock()

	Logger().Debug("synthesized routine address", zap.String("routine", name), zap.Uint64("addr", addr))
	if hook != nil {
		hook(addr, name)
	}
	return addr
}

func (r *Resolver) imageBase() (uint64, bool) {
	for _, image := range r.images {
		if mod, err := r.loader.FindModule(image); err == nil {
			return mod.BaseAddr(), true
		}
	}
	return 0, false
}

// nativeExport finds the real implementation of name in a loaded kernel image.
func (r *Resolver) nativeExport(name string) (uint64, error) {
	if r.loader != nil {
		for _, image := range r.images {
			mod, err := r.loader.FindModule(image)
			if err != nil {
				continue
			}
			if addr, err := mod.FindSymbol(name); err == nil {
				return addr, nil
			}
		}
	}
	return 0, errors.NotFound(errors.PhaseBind, "native export "+name)
}
