package kernel

import (
	"sync"

	windows "github.com/wnxd/microdbg-windows"
	"github.com/wnxd/microdbg-windows/errors"
	"go.uber.org/zap"
)

// PoolBlock is the bookkeeping of one live pool allocation.
type PoolBlock struct {
	Size uint64
	Type POOL_TYPE
	Tag  ULONG
}

// pool forwards every pool variant to the shared heap. Type, tag and priority only
// end up in the bookkeeping.
type pool struct {
	mu     sync.Mutex
	heap   Heap
	blocks map[uint64]PoolBlock
}

func (p *pool) ctor(heap Heap) {
	p.heap = heap
	p.blocks = make(map[uint64]PoolBlock)
}

func (p *pool) dtor() {
	p.mu.Lock()
	p.blocks = nil
	p.mu.Unlock()
}

func (p *pool) alloc(size uint64, typ POOL_TYPE, tag ULONG) uint64 {
	addr, err := p.heap.MemAlloc(max(size, 1))
	if err != nil {
		Logger().Warn("pool allocation failed", zap.Uint64("size", size), zap.Error(err))
		return emunullptr
	}
	p.mu.Lock()
	p.blocks[addr] = PoolBlock{Size: size, Type: typ, Tag: tag}
	p.mu.Unlock()
	return addr
}

func (p *pool) free(addr uint64) {
	if addr == emunullptr {
		return
	}
	p.mu.Lock()
	delete(p.blocks, addr)
	p.mu.Unlock()
	if err := p.heap.MemFree(addr); err != nil {
		Logger().Debug("pool free", zap.Uint64("addr", addr), zap.Error(err))
	}
}

// Block returns the bookkeeping of a live pool allocation.
func (p *pool) Block(addr uint64) (PoolBlock, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blocks[addr]
	return b, ok
}

type exAllocatePoolParams struct {
	PoolType      POOL_TYPE
	NumberOfBytes SIZE_T
}

type exAllocatePoolWithTagParams struct {
	PoolType      POOL_TYPE
	NumberOfBytes SIZE_T
	Tag           ULONG
}

type exAllocatePoolWithTagPriorityParams struct {
	PoolType      POOL_TYPE
	NumberOfBytes SIZE_T
	Tag           ULONG
	Priority      ULONG
}

type exAllocatePool2Params struct {
	Flags         POOL_FLAGS
	NumberOfBytes SIZE_T
	Tag           ULONG
}

func (p *pool) exAllocatePool(ctx windows.Context, params *exAllocatePoolParams) (uint64, error) {
	return p.alloc(uint64(params.NumberOfBytes), params.PoolType, 0), nil
}

func (p *pool) exAllocatePoolWithTag(ctx windows.Context, params *exAllocatePoolWithTagParams) (uint64, error) {
	return p.alloc(uint64(params.NumberOfBytes), params.PoolType, params.Tag), nil
}

func (p *pool) exAllocatePoolWithTagPriority(ctx windows.Context, params *exAllocatePoolWithTagPriorityParams) (uint64, error) {
	return p.alloc(uint64(params.NumberOfBytes), params.PoolType, params.Tag), nil
}

// exAllocatePool2 zeroes the block as the real routine does.
func (p *pool) exAllocatePool2(ctx windows.Context, params *exAllocatePool2Params) (uint64, error) {
	size := uint64(params.NumberOfBytes)
	addr := p.alloc(size, 0, params.Tag)
	if addr == emunullptr {
		return emunullptr, nil
	}
	if err := memZero(ctx.Emulator(), addr, size); err != nil {
		return 0, errors.Marshal("ExAllocatePool2", err)
	}
	return addr, nil
}

type exFreePoolParams struct {
	P PVOID
}

type exFreePoolWithTagParams struct {
	P   PVOID
	Tag ULONG
}

func (p *pool) exFreePool(ctx windows.Context, params *exFreePoolParams) (uint64, error) {
	p.free(uint64(params.P))
	return 0, nil
}

func (p *pool) exFreePoolWithTag(ctx windows.Context, params *exFreePoolWithTagParams) (uint64, error) {
	p.free(uint64(params.P))
	return 0, nil
}
