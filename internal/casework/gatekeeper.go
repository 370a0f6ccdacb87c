package casework

import "github.com/casefold/grantflow/model"

// AllTasksComplete reports whether every task in every task group of the
// case's stage copy has a completing status. A stage with no task groups, or
// groups with no tasks, is trivially clear.
//
// Both the transition engine (for check_tasks gates) and the stage-only
// advance operation consult this predicate; task updates never push the
// evaluation, it is pulled at transition time.
func AllTasksComplete(stage model.CaseStage) bool {
	for _, tg := range stage.TaskGroups {
		for _, t := range tg.Tasks {
			if !t.IsComplete() {
				return false
			}
		}
	}
	return true
}
