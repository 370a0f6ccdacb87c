package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/casefold/grantflow/model"
)

// snapshot is an immutable collection of workflow definitions indexed by code.
type snapshot struct {
	workflows map[string]model.WorkflowDefinition
	checksum  string
}

// Registry is a read-optimized, thread-safe store of workflow definitions.
// It uses atomic pointer swap for lock-free concurrent reads; cases treat the
// registry as strictly read-only. Writers serialize on the mutex so two Adds
// cannot build snapshots from the same base and drop one another's work.
type Registry struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.WorkflowDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions. In-flight readers keep the snapshot they
// started with.
func (r *Registry) Replace(defs []model.WorkflowDefinition) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.replaceLocked(defs)
}

func (r *Registry) replaceLocked(defs []model.WorkflowDefinition) {
	s := &snapshot{
		workflows: make(map[string]model.WorkflowDefinition, len(defs)),
	}

	var checksumParts []string
	for _, def := range defs {
		s.workflows[def.Code] = def
		checksumParts = append(checksumParts, def.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

// Add registers one more workflow definition alongside the existing set. New
// workflow versions arrive as new documents; existing codes are never
// overwritten in place. The duplicate check and the snapshot swap happen
// under the write lock so concurrent Adds cannot race past each other.
func (r *Registry) Add(def model.WorkflowDefinition) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.AllWorkflows()
	for _, existing := range current {
		if existing.Code == def.Code {
			return model.NewConflictError(
				fmt.Sprintf("workflow %q already exists; author a new version under a new code", def.Code),
			)
		}
	}
	r.replaceLocked(append(current, def))
	return nil
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetWorkflow returns the workflow definition with the given code.
func (r *Registry) GetWorkflow(code string) (model.WorkflowDefinition, bool) {
	w, ok := r.current().workflows[code]
	return w, ok
}

// AllWorkflows returns all workflow definitions sorted by code.
func (r *Registry) AllWorkflows() []model.WorkflowDefinition {
	s := r.current()
	defs := make([]model.WorkflowDefinition, 0, len(s.workflows))
	for _, w := range s.workflows {
		defs = append(defs, w)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Code < defs[j].Code })
	return defs
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
