package placement

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/daviddao/pathclock/pkg/model"
)

// DefaultVnodes is the number of ring positions per worker when NewHash is
// given zero.
const DefaultVnodes = 128

type vnode struct {
	hash   uint32
	worker model.WorkerID
}

// Hash places (domain, shard) on a consistent-hash ring. Adding or removing
// a worker only moves the shards whose ring segment changed owner.
type Hash struct {
	vnodes []vnode
}

// NewHash builds a ring with vnodes positions per worker. The ring only
// depends on the set of workers, not their order.
func NewHash(workers []model.WorkerID, vnodes int) *Hash {
	if vnodes <= 0 {
		vnodes = DefaultVnodes
	}
	h := &Hash{vnodes: make([]vnode, 0, len(workers)*vnodes)}
	for _, w := range sortedIDs(workers) {
		for i := 0; i < vnodes; i++ {
			h.vnodes = append(h.vnodes, vnode{hash: hashString(fmt.Sprintf("%s-vnode-%d", w, i)), worker: w})
		}
	}
	sort.SliceStable(h.vnodes, func(i, j int) bool { return h.vnodes[i].hash < h.vnodes[j].hash })
	return h
}

func (h *Hash) PlaceDomain(domain model.DomainIndex, shard int) (model.WorkerID, bool) {
	if len(h.vnodes) == 0 {
		return "", false
	}
	key := hashString(model.DomainShard{Domain: domain, Shard: shard}.String())
	idx := sort.Search(len(h.vnodes), func(i int) bool { return h.vnodes[i].hash >= key })
	if idx >= len(h.vnodes) {
		idx = 0
	}
	return h.vnodes[idx].worker, true
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
