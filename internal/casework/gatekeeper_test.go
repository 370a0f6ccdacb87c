package casework

import (
	"testing"

	"github.com/casefold/grantflow/model"
)

func stageWithTasks(statuses ...string) model.CaseStage {
	group := model.CaseTaskGroup{Code: "checks", Name: "Checks"}
	for i, s := range statuses {
		task, _ := model.NewTask("task-"+string(rune('a'+i)), "Task", nil)
		group.Tasks = append(group.Tasks, model.CaseTask{Task: task, Status: s})
	}
	return model.CaseStage{Code: "review", Name: "Review", TaskGroups: []model.CaseTaskGroup{group}}
}

func TestAllTasksComplete(t *testing.T) {
	tests := []struct {
		name  string
		stage model.CaseStage
		want  bool
	}{
		{"all complete", stageWithTasks(model.TaskStatusComplete, model.TaskStatusComplete), true},
		{"one pending", stageWithTasks(model.TaskStatusComplete, model.TaskStatusPending), false},
		{"in progress", stageWithTasks(model.TaskStatusInProgress), false},
		{"no task groups", model.CaseStage{Code: "empty"}, true},
		{"empty group", model.CaseStage{Code: "empty", TaskGroups: []model.CaseTaskGroup{{Code: "g"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AllTasksComplete(tt.stage); got != tt.want {
				t.Errorf("AllTasksComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllTasksComplete_CustomVocabulary(t *testing.T) {
	task, err := model.NewTask("decision", "Decision", []model.StatusOption{
		{Code: "open", Name: "Open"},
		{Code: "approved", Name: "Approved", Completes: true},
		{Code: "rejected", Name: "Rejected", Completes: true},
	})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}

	stage := model.CaseStage{
		Code: "decide",
		TaskGroups: []model.CaseTaskGroup{
			{Code: "g", Tasks: []model.CaseTask{{Task: task, Status: "open"}}},
		},
	}
	if AllTasksComplete(stage) {
		t.Error("open task should not satisfy the gatekeeper")
	}

	stage.TaskGroups[0].Tasks[0].Status = "rejected"
	if !AllTasksComplete(stage) {
		t.Error("rejected is a completing option and should satisfy the gatekeeper")
	}
}
